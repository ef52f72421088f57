package routerclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/relaymesh/relay/internal/cryptobox"
)

const (
	initTimeout       = 1 * time.Second
	updateTimeout     = 1 * time.Second
	initMaxAttempts   = 30
	responseMaxBytes  = 64 * 1024
)

// Client drives the two backend calls the data plane bootstraps from and
// is periodically refreshed by (spec.md §4.H). It owns no data-plane
// state itself — callers feed it what to report and apply what it
// returns to their own session/peer/magic tables.
type Client struct {
	hostname   string
	httpClient *http.Client
	routerPub  cryptobox.PublicKey
	relayPriv  cryptobox.PrivateKey
}

// New builds a router client bound to hostname, sealing init challenges
// under the relay's own keypair against the router's known public key.
func New(hostname string, routerPub cryptobox.PublicKey, relayPriv cryptobox.PrivateKey) *Client {
	return &Client{
		hostname:  hostname,
		routerPub: routerPub,
		relayPriv: relayPriv,
		httpClient: &http.Client{
			Timeout: initTimeout,
		},
	}
}

// Init performs the one-shot relay_init bootstrap, retrying up to
// initMaxAttempts times with backoff before giving up (spec.md §4.H,
// §7's "backend init failure: retry with backoff, then terminate").
func (c *Client) Init(ctx context.Context, relayAddress string) (InitResponse, error) {
	var challenge [relayTokenBytes]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return InitResponse{}, fmt.Errorf("routerclient: generate init challenge: %w", err)
	}

	var resp InitResponse
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.doInit(ctx, relayAddress, challenge)
			return err
		},
		retry.Attempts(initMaxAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return InitResponse{}, fmt.Errorf("routerclient: init failed after %d attempts: %w", initMaxAttempts, err)
	}
	return resp, nil
}

func (c *Client) doInit(ctx context.Context, relayAddress string, challenge [relayTokenBytes]byte) (InitResponse, error) {
	body, err := marshalInit(InitRequest{RelayAddress: relayAddress, RelayToken: challenge}, c.routerPub, c.relayPriv)
	if err != nil {
		return InitResponse{}, err
	}

	respBody, err := c.post(ctx, "/relay_init", body, initTimeout)
	if err != nil {
		return InitResponse{}, err
	}
	return unmarshalInitResponse(respBody)
}

// Update performs one relay_update heartbeat. Per spec.md §4.H/§7, the
// caller is expected to tolerate failures here indefinitely and keep
// forwarding with the last-known peer list and magic triple; Update
// returns the error for logging but never itself retries.
func (c *Client) Update(ctx context.Context, req UpdateRequest) (UpdateResponse, error) {
	body := marshalUpdate(req)
	respBody, err := c.post(ctx, "/relay_update", body, updateTimeout)
	if err != nil {
		return UpdateResponse{}, fmt.Errorf("routerclient: update: %w", err)
	}
	return unmarshalUpdateResponse(respBody)
}

func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hostname+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("User-Agent", "relaymesh relay")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: unexpected status %d", path, httpResp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, responseMaxBytes))
	if err != nil {
		return nil, fmt.Errorf("post %s: read response: %w", path, err)
	}
	return respBody, nil
}
