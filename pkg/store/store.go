package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
)

// Store is the durable local cache of messages and per-conversation state.
// It is the sole serialization point of the core: writes are fully
// serialized on an internal mutex, reads see last-committed state without
// taking the write lock. Every mutation synchronously notifies observers of
// the affected conversation before the mutating call returns.
type Store struct {
	db   *pebble.DB
	path string

	// mu serializes all mutation paths. Multi-key rewrites (temp id to
	// server id promotion) must be invisible in flight, so the batch build
	// and commit happen together under this lock.
	mu   sync.Mutex
	subs subscribers

	clock func() time.Time
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, syncerr.Storage(err, "open pebble")
	}
	s := &Store{db: db, path: path, clock: time.Now}
	s.subs.init()
	return s, nil
}

// Close closes the database. Open subscriptions are closed as well.
func (s *Store) Close() error {
	s.subs.closeAll()
	if err := s.db.Close(); err != nil {
		return syncerr.Storage(err, "close pebble")
	}
	logger.Info("store_closed", "path", s.path)
	return nil
}

// SetClock overrides the store clock; tests use this to pin timestamps.
func (s *Store) SetClock(fn func() time.Time) { s.clock = fn }

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// get reads and unmarshals a JSON row into out. Returns syncerr.ErrNotFound
// when the key is absent.
func (s *Store) get(key []byte, out interface{}) error {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return syncerr.NotFoundf("key %s", key)
	}
	if err != nil {
		return syncerr.Storage(err, "get")
	}
	defer closer.Close()
	if err := json.Unmarshal(v, out); err != nil {
		return syncerr.Storage(err, "decode row")
	}
	return nil
}

// getRaw returns a copy of the raw value for key, or nil when absent.
func (s *Store) getRaw(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.Storage(err, "get")
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// apply commits a batch with a synchronous WAL write.
func (s *Store) apply(b *pebble.Batch) error {
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return syncerr.Storage(err, "apply batch")
	}
	return nil
}

// iter returns an iterator bounded to the given prefix.
func (s *Store) iter(prefix []byte) (*pebble.Iterator, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, syncerr.Storage(err, "new iterator")
	}
	return it, nil
}

// EnsureConversation creates the registry row for a conversation if it does
// not exist yet. Idempotent.
func (s *Store) EnsureConversation(c models.Conversation) error {
	if c.ID == "" {
		return syncerr.NotFoundf("conversation id empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.getRaw(convMetaKey(c.ID))
	if err != nil {
		return err
	}
	if raw != nil {
		return nil
	}
	now := s.clock().UTC().UnixNano()
	if c.CreatedTS == 0 {
		c.CreatedTS = now
	}
	c.UpdatedTS = now
	data, _ := json.Marshal(c)
	if err := s.db.Set(convMetaKey(c.ID), data, pebble.Sync); err != nil {
		return syncerr.Storage(err, "save conversation")
	}
	logger.Info("conversation_created", "conversation", c.ID)
	s.subs.notifyGlobal()
	return nil
}

// GetConversation returns the registry row for a conversation.
func (s *Store) GetConversation(conversationID string) (models.Conversation, error) {
	var c models.Conversation
	err := s.get(convMetaKey(conversationID), &c)
	return c, err
}

// ListConversations returns every known conversation registry row.
func (s *Store) ListConversations() ([]models.Conversation, error) {
	it, err := s.iter([]byte(convPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []models.Conversation
	for it.First(); it.Valid(); it.Next() {
		k := string(it.Key())
		if len(k) < 5 || k[len(k)-5:] != ":meta" {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			logger.Warn("conversation_row_corrupt", "key", k, "error", err)
			continue
		}
		out = append(out, c)
	}
	if err := it.Error(); err != nil {
		return nil, syncerr.Storage(err, "scan conversations")
	}
	return out, nil
}

// touchConversation bumps UpdatedTS inside an existing batch, creating the
// registry row on first observation of the conversation.
func (s *Store) touchConversation(b *pebble.Batch, conversationID string) {
	raw, err := s.getRaw(convMetaKey(conversationID))
	if err != nil {
		logger.Warn("conversation_touch_read_failed", "conversation", conversationID, "error", err)
		return
	}
	var c models.Conversation
	if raw != nil {
		if err := json.Unmarshal(raw, &c); err != nil {
			logger.Warn("conversation_row_corrupt", "conversation", conversationID, "error", err)
			c = models.Conversation{}
		}
	}
	now := s.clock().UTC().UnixNano()
	if c.ID == "" {
		c.ID = conversationID
		c.CreatedTS = now
	}
	c.UpdatedTS = now
	data, _ := json.Marshal(c)
	_ = b.Set(convMetaKey(conversationID), data, nil)
}
