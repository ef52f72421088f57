//go:build !linux

package relaycore

import "syscall"

// reusePortControl is a no-op off Linux: SO_REUSEPORT has no portable
// equivalent, so non-Linux builds fall back to a single effective
// receiver even when ReceiveWorkers > 1 (only the first bind succeeds;
// later workers fail to start and StartWorkers reports the error).
func reusePortControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
