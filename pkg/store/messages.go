package store

import (
	"encoding/json"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/validation"
)

// ord computes the transcript ordering key for a message.
func ord(m *models.Message) string {
	if m.MessageSeq > 0 {
		return ordSeq(m.MessageSeq)
	}
	return ordPending(m.CreatedAt, m.Key())
}

// lookupRowKey resolves a message to its current row key via the id index,
// falling back to the temp-id index. Returns nil when the message is unknown.
func (s *Store) lookupRowKey(m *models.Message) ([]byte, error) {
	if m.ID != "" {
		if pk, err := s.getRaw(idIdxKey(m.ID)); err != nil || pk != nil {
			return pk, err
		}
	}
	if m.LocalTempID != "" {
		return s.getRaw(tmpIdxKey(m.LocalTempID))
	}
	return nil, nil
}

// rowKeyFor resolves a bare id (server or temp) to the current row key.
func (s *Store) rowKeyFor(id string) ([]byte, error) {
	if pk, err := s.getRaw(idIdxKey(id)); err != nil || pk != nil {
		return pk, err
	}
	return s.getRaw(tmpIdxKey(id))
}

// GetMessage returns a message by server id or local temp id, including
// tombstoned rows.
func (s *Store) GetMessage(id string) (models.Message, error) {
	var m models.Message
	pk, err := s.rowKeyFor(id)
	if err != nil {
		return m, err
	}
	if pk == nil {
		return m, syncerr.NotFoundf("message %s", id)
	}
	err = s.get(pk, &m)
	return m, err
}

// putMessage writes a message row and its index entries into b, relocating
// the row when its ordering key changed (seq assignment). The existing row,
// when present, wins any disagreement over an already-assigned server id.
func (s *Store) putMessage(b *pebble.Batch, m models.Message) error {
	if err := validation.ValidateMessage(m); err != nil {
		return err
	}
	oldPK, err := s.lookupRowKey(&m)
	if err != nil {
		return err
	}
	if oldPK != nil {
		var existing models.Message
		if err := s.get(oldPK, &existing); err == nil {
			if existing.ID != "" && m.ID != "" && existing.ID != m.ID {
				return syncerr.Conflictf("message %s already has server id %s, got %s", existing.Key(), existing.ID, m.ID)
			}
			// carry identity both ways so neither index goes stale
			if m.ID == "" {
				m.ID = existing.ID
			}
			if m.LocalTempID == "" {
				m.LocalTempID = existing.LocalTempID
			}
		}
	}
	newPK := msgKey(m.ConversationID, ord(&m))
	data, err := json.Marshal(m)
	if err != nil {
		return syncerr.Storage(err, "encode message")
	}
	if oldPK != nil && string(oldPK) != string(newPK) {
		_ = b.Delete(oldPK, nil)
	}
	_ = b.Set(newPK, data, nil)
	if m.ID != "" {
		_ = b.Set(idIdxKey(m.ID), newPK, nil)
	}
	if m.LocalTempID != "" {
		_ = b.Set(tmpIdxKey(m.LocalTempID), newPK, nil)
	}
	return nil
}

// UpsertMessages inserts or replaces a batch of messages atomically, keyed
// by server id when present, else by local temp id. Idempotent: re-applying
// the same batch leaves the store unchanged. Conflicting rows (server id
// reassignment) are skipped with a log line, per last-writer-wins on the
// id already committed.
func (s *Store) UpsertMessages(batch []models.Message) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	convs := map[string]struct{}{}
	for _, m := range batch {
		if err := s.putMessage(b, m); err != nil {
			if syncerr.IsConflict(err) {
				logger.Warn("upsert_conflict_skipped", "message", m.Key(), "error", err)
				continue
			}
			return err
		}
		convs[m.ConversationID] = struct{}{}
	}
	for c := range convs {
		s.touchConversation(b, c)
	}
	if err := s.apply(b); err != nil {
		logger.Error("upsert_messages_failed", "count", len(batch), "error", err)
		return err
	}
	telemetry.StoreWrites.Add(float64(len(batch)))
	for c := range convs {
		s.subs.notifyConversation(s, c)
	}
	return nil
}

// InsertOutgoingMessage writes a single optimistic outgoing row. The message
// must carry a local temp id and status Sending.
func (s *Store) InsertOutgoingMessage(m models.Message) error {
	if m.LocalTempID == "" {
		return syncerr.Conflictf("outgoing message missing local temp id")
	}
	if m.Status == "" {
		m.Status = models.StatusSending
	}
	if err := validation.ValidateMessage(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putMessage(b, m); err != nil {
		return err
	}
	s.touchConversation(b, m.ConversationID)
	if err := s.apply(b); err != nil {
		logger.Error("insert_outgoing_failed", "temp_id", m.LocalTempID, "error", err)
		return err
	}
	telemetry.StoreWrites.Inc()
	logger.Debug("outgoing_inserted", "conversation", m.ConversationID, "temp_id", m.LocalTempID)
	s.subs.notifyConversation(s, m.ConversationID)
	return nil
}

// UpdateMessageStatusByLocalID atomically promotes a local record to its
// server identity: the row moves from its pending position to its sequenced
// position, both indexes are rewritten, and no reader can ever observe the
// temp row and the server row as two messages.
func (s *Store) UpdateMessageStatusByLocalID(localTempID, serverID string, seq, ackAt int64, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, err := s.getRaw(tmpIdxKey(localTempID))
	if err != nil {
		return err
	}
	if pk == nil {
		return syncerr.NotFoundf("no message with temp id %s", localTempID)
	}
	var m models.Message
	if err := s.get(pk, &m); err != nil {
		return err
	}
	if m.ID != "" && serverID != "" && m.ID != serverID {
		return syncerr.Conflictf("message %s already promoted to %s, got %s", localTempID, m.ID, serverID)
	}
	if serverID != "" {
		m.ID = serverID
	}
	if seq > 0 {
		m.MessageSeq = seq
	}
	if ackAt > 0 {
		m.ServerAckAt = ackAt
	}
	m.Status = status

	b := s.db.NewBatch()
	defer b.Close()
	newPK := msgKey(m.ConversationID, ord(&m))
	data, merr := json.Marshal(m)
	if merr != nil {
		return syncerr.Storage(merr, "encode message")
	}
	if string(pk) != string(newPK) {
		_ = b.Delete(pk, nil)
	}
	_ = b.Set(newPK, data, nil)
	_ = b.Set(tmpIdxKey(localTempID), newPK, nil)
	if m.ID != "" {
		_ = b.Set(idIdxKey(m.ID), newPK, nil)
	}
	if err := s.apply(b); err != nil {
		logger.Error("promote_failed", "temp_id", localTempID, "server_id", serverID, "error", err)
		return err
	}
	telemetry.StoreWrites.Inc()
	logger.Debug("message_promoted", "temp_id", localTempID, "server_id", serverID, "seq", seq, "status", status)
	s.subs.notifyConversation(s, m.ConversationID)
	return nil
}

// mutateMessage applies fn to the stored row for id and writes it back in
// place. The ordering key is recomputed in case fn assigned a sequence.
func (s *Store) mutateMessage(id string, fn func(*models.Message) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, err := s.rowKeyFor(id)
	if err != nil {
		return err
	}
	if pk == nil {
		return syncerr.NotFoundf("message %s", id)
	}
	var m models.Message
	if err := s.get(pk, &m); err != nil {
		return err
	}
	if err := fn(&m); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putMessage(b, m); err != nil {
		return err
	}
	if err := s.apply(b); err != nil {
		return err
	}
	telemetry.StoreWrites.Inc()
	s.subs.notifyConversation(s, m.ConversationID)
	return nil
}

// UpdateMessageStatus sets the lifecycle status of a message.
func (s *Store) UpdateMessageStatus(id string, status models.Status) error {
	return s.mutateMessage(id, func(m *models.Message) error {
		m.Status = status
		return nil
	})
}

// UpdateMessageMetadata merges the given keys into the message metadata map.
func (s *Store) UpdateMessageMetadata(id string, metadata map[string]string) error {
	return s.mutateMessage(id, func(m *models.Message) error {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			m.Metadata[k] = v
		}
		return nil
	})
}

// UpdateMessageBodyAndMetadata replaces the body (an edit) and merges
// metadata, stamping EditedAt.
func (s *Store) UpdateMessageBodyAndMetadata(id, body string, metadata map[string]string) error {
	now := s.clock().UTC().UnixNano()
	return s.mutateMessage(id, func(m *models.Message) error {
		m.Body = body
		m.EditedAt = now
		if metadata != nil {
			if m.Metadata == nil {
				m.Metadata = make(map[string]string, len(metadata))
			}
			for k, v := range metadata {
				m.Metadata[k] = v
			}
		}
		return nil
	})
}

// DeleteMessage tombstones a message: the body and attachments are dropped,
// the row stays until retention purges it. Returns syncerr.ErrNotFound when
// the message is absent locally.
func (s *Store) DeleteMessage(id string) error {
	now := s.clock().UTC().UnixNano()
	return s.mutateMessage(id, func(m *models.Message) error {
		m.Deleted = true
		m.Body = ""
		m.Ciphertext = ""
		m.Attachments = nil
		if m.Metadata == nil {
			m.Metadata = map[string]string{}
		}
		m.Metadata["deleted_at"] = itoa64(now)
		return nil
	})
}

// SnapshotMessages returns the transcript for a conversation in order,
// capped to the most recent limit entries when limit > 0. Tombstoned rows
// are excluded.
func (s *Store) SnapshotMessages(conversationID string, limit int) ([]models.Message, error) {
	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []models.Message
	for it.First(); it.Valid(); it.Next() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			logger.Warn("message_row_corrupt", "key", string(it.Key()), "error", err)
			continue
		}
		if m.Deleted {
			continue
		}
		out = append(out, m)
	}
	if err := it.Error(); err != nil {
		return nil, syncerr.Storage(err, "scan messages")
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// LatestIncomingMessage returns the newest non-tombstoned message in the
// conversation not authored by excludingSenderID.
func (s *Store) LatestIncomingMessage(conversationID, excludingSenderID string) (models.Message, error) {
	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return models.Message{}, err
	}
	defer it.Close()
	for it.Last(); it.Valid(); it.Prev() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		if m.Deleted || m.SenderID == excludingSenderID {
			continue
		}
		return m, nil
	}
	if err := it.Error(); err != nil {
		return models.Message{}, syncerr.Storage(err, "scan messages")
	}
	return models.Message{}, syncerr.NotFoundf("no incoming message in %s", conversationID)
}

// LatestTimestamp returns the newest timestamp known for a conversation
// (server ack when present, else client created-at), used by pull-sync to
// compute a resume cursor. Zero when the conversation is empty.
func (s *Store) LatestTimestamp(conversationID string) (int64, error) {
	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return 0, err
	}
	defer it.Close()
	var latest int64
	for it.First(); it.Valid(); it.Next() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		ts := m.CreatedAt
		if m.ServerAckAt > ts {
			ts = m.ServerAckAt
		}
		if ts > latest {
			latest = ts
		}
	}
	if err := it.Error(); err != nil {
		return 0, syncerr.Storage(err, "scan messages")
	}
	return latest, nil
}

// ReplaceConversation drops every message row for the conversation and
// installs the given transcript in one atomic batch (full resync).
func (s *Store) ReplaceConversation(conversationID string, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.deleteConversationRows(b, conversationID); err != nil {
		return err
	}
	for _, m := range messages {
		if err := s.putMessage(b, m); err != nil {
			return err
		}
	}
	s.touchConversation(b, conversationID)
	if err := s.apply(b); err != nil {
		logger.Error("replace_conversation_failed", "conversation", conversationID, "error", err)
		return err
	}
	logger.Info("conversation_replaced", "conversation", conversationID, "messages", len(messages))
	s.subs.notifyConversation(s, conversationID)
	return nil
}

// ClearConversationData removes every message row for the conversation.
// The participant row and registry entry survive.
func (s *Store) ClearConversationData(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.deleteConversationRows(b, conversationID); err != nil {
		return err
	}
	if err := s.apply(b); err != nil {
		return err
	}
	logger.Info("conversation_cleared", "conversation", conversationID)
	s.subs.notifyConversation(s, conversationID)
	return nil
}

// deleteConversationRows stages deletion of all message rows and their index
// entries for a conversation into b.
func (s *Store) deleteConversationRows(b *pebble.Batch, conversationID string) error {
	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err == nil {
			if m.ID != "" {
				_ = b.Delete(idIdxKey(m.ID), nil)
			}
			if m.LocalTempID != "" {
				_ = b.Delete(tmpIdxKey(m.LocalTempID), nil)
			}
		}
		_ = b.Delete(append([]byte(nil), it.Key()...), nil)
	}
	if err := it.Error(); err != nil {
		return syncerr.Storage(err, "scan messages")
	}
	return nil
}

// DowngradeReadStatuses reverts every Read message in the conversation back
// to Delivered. Bulk, conversation-wide; used defensively after correcting
// clock skew or duplicate-read bugs.
func (s *Store) DowngradeReadStatuses(conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return 0, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		if m.Status != models.StatusRead {
			continue
		}
		m.Status = models.StatusDelivered
		data, _ := json.Marshal(m)
		_ = b.Set(append([]byte(nil), it.Key()...), data, nil)
		n++
	}
	ierr := it.Error()
	it.Close()
	if ierr != nil {
		return 0, syncerr.Storage(ierr, "scan messages")
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.apply(b); err != nil {
		return 0, err
	}
	logger.Info("read_statuses_downgraded", "conversation", conversationID, "count", n)
	s.subs.notifyConversation(s, conversationID)
	return n, nil
}
