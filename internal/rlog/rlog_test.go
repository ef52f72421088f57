package rlog_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/rlog"
)

func TestNewParsesValidLevel(t *testing.T) {
	l := rlog.New("warn", "relay-1")
	require.Equal(t, zerolog.WarnLevel, l.GetLevel())
}

func TestNewFallsBackToInfoOnGarbage(t *testing.T) {
	l := rlog.New("not-a-level", "relay-1")
	require.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
