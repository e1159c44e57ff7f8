package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	require.NoError(t, err, "open test store")
	t.Cleanup(func() {
		require.NoError(t, store.Close(), "close test store")
	})

	return store
}

func mustBeginTransfer(t *testing.T, store *Store, sessionID string, runID uint64, direction string) {
	t.Helper()

	err := store.BeginTransfer(Transfer{
		SessionID:  sessionID,
		RunID:      runID,
		Direction:  direction,
		WireID:     runID,
		Name:       "file.bin",
		Size:       150 * 1024,
		BlockCount: 3,
	})
	require.NoError(t, err, "begin transfer %s/%d", sessionID, runID)
}
