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

// GetParticipant returns the participant row for (conversation, user).
func (s *Store) GetParticipant(conversationID, userID string) (models.Participant, error) {
	var p models.Participant
	err := s.get(partKey(conversationID, userID), &p)
	return p, err
}

// UpsertParticipant writes a participant row. Participant state is owned by
// the store and mutated only through this call; it is never inferred from
// message traffic. Last writer wins.
func (s *Store) UpsertParticipant(p models.Participant) error {
	if err := validation.ValidateParticipant(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(p)
	if err != nil {
		return syncerr.Storage(err, "encode participant")
	}
	if err := s.db.Set(partKey(p.ConversationID, p.UserID), data, pebble.Sync); err != nil {
		logger.Error("participant_upsert_failed", "conversation", p.ConversationID, "user", p.UserID, "error", err)
		return syncerr.Storage(err, "save participant")
	}
	telemetry.StoreWrites.Inc()
	s.subs.notifyParticipant(s, p.ConversationID, p.UserID)
	return nil
}

// MutateParticipant loads (or initializes) the participant row, applies fn
// and writes the result back under the store's write lock. The default row
// for a previously unseen participant is a plain member joined now.
func (s *Store) MutateParticipant(conversationID, userID string, fn func(*models.Participant)) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p models.Participant
	if err := s.get(partKey(conversationID, userID), &p); err != nil {
		if !syncerr.IsNotFound(err) {
			return p, err
		}
		p = models.Participant{
			ConversationID: conversationID,
			UserID:         userID,
			Role:           models.RoleMember,
			JoinedAt:       s.clock().UTC().UnixNano(),
		}
	}
	fn(&p)
	if err := validation.ValidateParticipant(p); err != nil {
		return p, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return p, syncerr.Storage(err, "encode participant")
	}
	if err := s.db.Set(partKey(conversationID, userID), data, pebble.Sync); err != nil {
		return p, syncerr.Storage(err, "save participant")
	}
	telemetry.StoreWrites.Inc()
	s.subs.notifyParticipant(s, conversationID, userID)
	return p, nil
}

// ListParticipants returns every participant row for a conversation.
func (s *Store) ListParticipants(conversationID string) ([]models.Participant, error) {
	it, err := s.iter(partPrefix(conversationID))
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []models.Participant
	for it.First(); it.Valid(); it.Next() {
		var p models.Participant
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			logger.Warn("participant_row_corrupt", "key", string(it.Key()), "error", err)
			continue
		}
		out = append(out, p)
	}
	if err := it.Error(); err != nil {
		return nil, syncerr.Storage(err, "scan participants")
	}
	return out, nil
}
