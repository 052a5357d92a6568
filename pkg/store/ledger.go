package store

import (
	"github.com/cockroachdb/pebble"

	"chatsync/pkg/syncerr"
)

// The processed-action ledger records which remote actions have already been
// applied so redelivered events become no-ops. Entries are append-only and
// survive restarts; nothing prunes them during normal operation.

// HasProcessedAction reports whether the action was already applied.
func (s *Store) HasProcessedAction(actionID string) (bool, error) {
	_, closer, err := s.db.Get(actionKey(actionID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Storage(err, "ledger get")
	}
	_ = closer.Close()
	return true, nil
}

// MarkActionProcessed records the action as applied. The value is the
// apply time in unix nanos, useful when inspecting the ledger.
func (s *Store) MarkActionProcessed(actionID string) error {
	ts := itoa64(s.clock().UTC().UnixNano())
	if err := s.db.Set(actionKey(actionID), []byte(ts), pebble.Sync); err != nil {
		return syncerr.Storage(err, "ledger set")
	}
	return nil
}

// ProcessedActionCount returns the number of ledger entries.
func (s *Store) ProcessedActionCount() (int, error) {
	it, err := s.iter([]byte(actionPrefix))
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, syncerr.Storage(err, "ledger scan")
	}
	return n, nil
}
