package store

import (
	"encoding/json"
	"strconv"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
	"chatsync/pkg/telemetry"
)

// PurgeDeletedBefore permanently removes tombstoned message rows whose
// deletion happened before cutoff (unix nanos), together with their index
// entries. Rows are removed in batches of batchSize so a large purge never
// holds one giant write. dryRun counts without deleting. Returns the number
// of rows purged (or that would be).
func (s *Store) PurgeDeletedBefore(cutoff int64, batchSize int, dryRun bool) (int, error) {
	if batchSize <= 0 {
		batchSize = 256
	}
	convs, err := s.ListConversations()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range convs {
		n, err := s.purgeConversation(c.ID, cutoff, batchSize, dryRun)
		if err != nil {
			return total, err
		}
		if n > 0 && !dryRun {
			s.subs.notifyConversation(s, c.ID)
		}
		total += n
	}
	if !dryRun {
		telemetry.RetentionPurged.Add(float64(total))
	}
	return total, nil
}

func (s *Store) purgeConversation(conversationID string, cutoff int64, batchSize int, dryRun bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.iter(msgPrefix(conversationID))
	if err != nil {
		return 0, err
	}
	defer it.Close()

	purged := 0
	b := s.db.NewBatch()
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := s.apply(b); err != nil {
			return err
		}
		b = s.db.NewBatch()
		pending = 0
		return nil
	}
	for it.First(); it.Valid(); it.Next() {
		var m models.Message
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		if !m.Deleted {
			continue
		}
		deletedAt, err := strconv.ParseInt(m.Metadata["deleted_at"], 10, 64)
		if err != nil || deletedAt >= cutoff {
			continue
		}
		purged++
		if dryRun {
			continue
		}
		rowKey := append([]byte(nil), it.Key()...)
		_ = b.Delete(rowKey, nil)
		if m.ID != "" {
			_ = b.Delete(idIdxKey(m.ID), nil)
		}
		if m.LocalTempID != "" {
			_ = b.Delete(tmpIdxKey(m.LocalTempID), nil)
		}
		pending++
		if pending >= batchSize {
			if err := flush(); err != nil {
				return purged, err
			}
		}
	}
	if err := it.Error(); err != nil {
		return purged, syncerr.Storage(err, "scan tombstones")
	}
	if err := flush(); err != nil {
		return purged, err
	}
	if purged > 0 {
		logger.Info("tombstones_purged", "conversation", conversationID, "count", purged, "dry_run", dryRun)
	}
	return purged, nil
}
