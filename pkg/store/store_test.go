package store

import (
	"fmt"
	"testing"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(id, conv, sender, body string, createdAt, seq int64, status models.Status) models.Message {
	m := models.Message{
		ConversationID: conv,
		SenderID:       sender,
		Body:           body,
		ContentType:    models.ContentText,
		CreatedAt:      createdAt,
		MessageSeq:     seq,
		Status:         status,
	}
	if status == models.StatusSending || status == models.StatusFailed {
		m.LocalTempID = id
	} else {
		m.ID = id
	}
	return m
}

func TestTranscriptOrdering(t *testing.T) {
	s := openTestStore(t)

	// Inserted deliberately out of order: a pending send with an early
	// created-at must still sort after every confirmed message.
	batch := []models.Message{
		msg("srv-3", "c1", "peer", "third", 300, 3, models.StatusSent),
		msg("tmp-a", "c1", "me", "pending", 150, 0, models.StatusSending),
		msg("srv-1", "c1", "peer", "first", 100, 1, models.StatusSent),
		msg("srv-2", "c1", "me", "second", 200, 2, models.StatusSent),
	}
	if err := s.UpsertMessages(batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.SnapshotMessages("c1", 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := []string{"first", "second", "third", "pending"}
	if len(got) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Body != w {
			t.Fatalf("position %d = %q, want %q", i, got[i].Body, w)
		}
	}
}

func TestSnapshotLimit(t *testing.T) {
	s := openTestStore(t)
	for i := int64(1); i <= 5; i++ {
		if err := s.UpsertMessages([]models.Message{msg(fmt.Sprintf("srv-%d", i), "c1", "peer", "m", i*100, i, models.StatusSent)}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	got, err := s.SnapshotMessages("c1", 2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].MessageSeq != 4 || got[1].MessageSeq != 5 {
		t.Fatalf("got seqs %d,%d, want 4,5", got[0].MessageSeq, got[1].MessageSeq)
	}
}

func TestPromoteByLocalID(t *testing.T) {
	s := openTestStore(t)

	out := msg("tmp-1", "c1", "me", "hello", 1000, 0, models.StatusSending)
	if err := s.InsertOutgoingMessage(out); err != nil {
		t.Fatalf("insert outgoing: %v", err)
	}
	if err := s.UpdateMessageStatusByLocalID("tmp-1", "srv-9", 7, 2000, models.StatusSent); err != nil {
		t.Fatalf("promote: %v", err)
	}

	// Both identities resolve to the same single row.
	byServer, err := s.GetMessage("srv-9")
	if err != nil {
		t.Fatalf("get by server id: %v", err)
	}
	byTemp, err := s.GetMessage("tmp-1")
	if err != nil {
		t.Fatalf("get by temp id: %v", err)
	}
	if byServer.MessageSeq != 7 || byServer.Status != models.StatusSent || byServer.ServerAckAt != 2000 {
		t.Fatalf("promoted row wrong: %+v", byServer)
	}
	if byServer.ID != byTemp.ID || byServer.LocalTempID != byTemp.LocalTempID {
		t.Fatalf("identities diverge: %+v vs %+v", byServer, byTemp)
	}

	snap, err := s.SnapshotMessages("c1", 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("after promotion transcript has %d rows, want 1", len(snap))
	}
}

func TestPromoteConflict(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertOutgoingMessage(msg("tmp-1", "c1", "me", "x", 100, 0, models.StatusSending)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.UpdateMessageStatusByLocalID("tmp-1", "srv-1", 1, 200, models.StatusSent); err != nil {
		t.Fatalf("first promote: %v", err)
	}
	err := s.UpdateMessageStatusByLocalID("tmp-1", "srv-2", 2, 300, models.StatusSent)
	if !syncerr.IsConflict(err) {
		t.Fatalf("expected conflict on reassignment, got %v", err)
	}
}

func TestUpsertEchoPromotesPendingRow(t *testing.T) {
	s := openTestStore(t)
	if err := s.InsertOutgoingMessage(msg("tmp-1", "c1", "me", "hi", 100, 0, models.StatusSending)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	echo := models.Message{
		ID:             "srv-1",
		LocalTempID:    "tmp-1",
		ConversationID: "c1",
		SenderID:       "me",
		Body:           "hi",
		ContentType:    models.ContentText,
		CreatedAt:      100,
		MessageSeq:     4,
		ServerAckAt:    150,
		Status:         models.StatusSent,
	}
	if err := s.UpsertMessages([]models.Message{echo}); err != nil {
		t.Fatalf("upsert echo: %v", err)
	}
	snap, err := s.SnapshotMessages("c1", 0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 1 {
		t.Fatalf("echo duplicated the row: %d messages", len(snap))
	}
	if snap[0].ID != "srv-1" || snap[0].MessageSeq != 4 {
		t.Fatalf("echo did not promote: %+v", snap[0])
	}
}

func TestDeleteTombstone(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c1", "peer", "secret", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteMessage("srv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m, err := s.GetMessage("srv-1")
	if err != nil {
		t.Fatalf("get tombstone: %v", err)
	}
	if !m.Deleted || m.Body != "" {
		t.Fatalf("tombstone still carries content: %+v", m)
	}
	snap, _ := s.SnapshotMessages("c1", 0)
	if len(snap) != 0 {
		t.Fatalf("tombstone visible in snapshot")
	}
	// deleting again is fine, deletes are idempotent at the caller level
	if err := s.DeleteMessage("srv-1"); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
}

func TestDeleteEncryptedMessageTombstones(t *testing.T) {
	s := openTestStore(t)
	enc := models.Message{
		ID:             "srv-1",
		ConversationID: "c1",
		SenderID:       "peer",
		ContentType:    models.ContentEncrypted,
		Ciphertext:     "deadbeef",
		CreatedAt:      100,
		MessageSeq:     1,
		Status:         models.StatusSent,
	}
	if err := s.UpsertMessages([]models.Message{enc}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// The tombstone drops the ciphertext along with the body and must still
	// be storable even though a live encrypted message requires one of them.
	if err := s.DeleteMessage("srv-1"); err != nil {
		t.Fatalf("delete encrypted: %v", err)
	}
	m, err := s.GetMessage("srv-1")
	if err != nil {
		t.Fatalf("get tombstone: %v", err)
	}
	if !m.Deleted || m.Ciphertext != "" || m.Body != "" {
		t.Fatalf("tombstone still carries content: %+v", m)
	}
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteMessage("nope"); !syncerr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActionLedger(t *testing.T) {
	s := openTestStore(t)
	seen, err := s.HasProcessedAction("a1")
	if err != nil {
		t.Fatalf("has: %v", err)
	}
	if seen {
		t.Fatalf("fresh ledger reports a1 processed")
	}
	if err := s.MarkActionProcessed("a1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, err = s.HasProcessedAction("a1")
	if err != nil || !seen {
		t.Fatalf("a1 not recorded: seen=%v err=%v", seen, err)
	}
	// marking twice is harmless
	if err := s.MarkActionProcessed("a1"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	n, err := s.ProcessedActionCount()
	if err != nil || n != 1 {
		t.Fatalf("count = %d err=%v, want 1", n, err)
	}
}

func TestParticipantRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p := models.Participant{
		ConversationID: "c1",
		UserID:         "me",
		Role:           models.RoleMember,
		JoinedAt:       100,
		LastReadSeq:    5,
		LastReadAt:     500,
		Pinned:         true,
		PinnedAt:       600,
	}
	if err := s.UpsertParticipant(p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := s.GetParticipant("c1", "me")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastReadSeq != 5 || !got.Pinned {
		t.Fatalf("round trip lost fields: %+v", got)
	}

	got, err = s.MutateParticipant("c1", "me", func(p *models.Participant) {
		p.Archived = true
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !got.Archived || got.LastReadSeq != 5 {
		t.Fatalf("mutate clobbered row: %+v", got)
	}
}

func TestMutateParticipantInitializesRow(t *testing.T) {
	s := openTestStore(t)
	got, err := s.MutateParticipant("c1", "someone", func(p *models.Participant) {
		p.Pinned = true
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got.Role != models.RoleMember || !got.Pinned {
		t.Fatalf("default row wrong: %+v", got)
	}
}

func TestDowngradeReadStatuses(t *testing.T) {
	s := openTestStore(t)
	batch := []models.Message{
		msg("srv-1", "c1", "peer", "a", 100, 1, models.StatusRead),
		msg("srv-2", "c1", "peer", "b", 200, 2, models.StatusRead),
		msg("srv-3", "c1", "peer", "c", 300, 3, models.StatusDelivered),
	}
	if err := s.UpsertMessages(batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, err := s.DowngradeReadStatuses("c1")
	if err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	if n != 2 {
		t.Fatalf("downgraded %d rows, want 2", n)
	}
	snap, _ := s.SnapshotMessages("c1", 0)
	for _, m := range snap {
		if m.Status == models.StatusRead {
			t.Fatalf("message %s still read", m.ID)
		}
	}
}

func TestPurgeDeletedBefore(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().Add(-48 * time.Hour)
	s.SetClock(func() time.Time { return base })

	if err := s.UpsertMessages([]models.Message{
		msg("srv-1", "c1", "peer", "old", 100, 1, models.StatusSent),
		msg("srv-2", "c1", "peer", "keep", 200, 2, models.StatusSent),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeleteMessage("srv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour).UnixNano()

	// dry run counts without removing
	n, err := s.PurgeDeletedBefore(cutoff, 10, true)
	if err != nil || n != 1 {
		t.Fatalf("dry run purged %d err=%v, want 1", n, err)
	}
	if _, err := s.GetMessage("srv-1"); err != nil {
		t.Fatalf("dry run removed the row: %v", err)
	}

	n, err = s.PurgeDeletedBefore(cutoff, 10, false)
	if err != nil || n != 1 {
		t.Fatalf("purged %d err=%v, want 1", n, err)
	}
	if _, err := s.GetMessage("srv-1"); !syncerr.IsNotFound(err) {
		t.Fatalf("tombstone survived purge: %v", err)
	}
	if _, err := s.GetMessage("srv-2"); err != nil {
		t.Fatalf("live row purged: %v", err)
	}
}

func TestConversationRegistry(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureConversation(models.Conversation{ID: "c1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// ensure is idempotent and does not clobber
	if err := s.EnsureConversation(models.Conversation{ID: "c1"}); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	c, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.DisplayName != "Alice" {
		t.Fatalf("re-ensure clobbered display name: %+v", c)
	}

	// first message for an unknown conversation creates its registry row
	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c2", "peer", "hi", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	convs, err := s.ListConversations()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("listed %d conversations, want 2", len(convs))
	}
}
