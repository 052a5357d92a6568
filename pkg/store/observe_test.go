package store

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"chatsync/pkg/models"
)

func recvSnapshot(t *testing.T, ch <-chan []models.Message) []models.Message {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("subscription channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}

func TestObserveMessagesInitialAndUpdate(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c1", "peer", "first", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	sub := s.ObserveMessages("c1", 0)
	defer sub.Close()

	snap := recvSnapshot(t, sub.C)
	if len(snap) != 1 || snap[0].Body != "first" {
		t.Fatalf("initial snapshot wrong: %+v", snap)
	}

	if err := s.UpsertMessages([]models.Message{msg("srv-2", "c1", "peer", "second", 200, 2, models.StatusSent)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	snap = recvSnapshot(t, sub.C)
	if len(snap) != 2 {
		t.Fatalf("update snapshot has %d rows, want 2", len(snap))
	}
}

func TestObserveCoalescesBursts(t *testing.T) {
	s := openTestStore(t)
	sub := s.ObserveMessages("c1", 0)
	defer sub.Close()
	recvSnapshot(t, sub.C) // drain initial

	for i := int64(1); i <= 5; i++ {
		if err := s.UpsertMessages([]models.Message{msg(itoa64(i), "c1", "peer", "m", i*100, i, models.StatusSent)}); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	// a consumer that never kept pace sees the newest state on next read
	snap := recvSnapshot(t, sub.C)
	if len(snap) != 5 {
		t.Fatalf("coalesced snapshot has %d rows, want 5", len(snap))
	}
}

func TestObserveDoesNotCrossConversations(t *testing.T) {
	s := openTestStore(t)
	sub := s.ObserveMessages("c1", 0)
	defer sub.Close()
	recvSnapshot(t, sub.C)

	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c2", "peer", "other", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case snap := <-sub.C:
		t.Fatalf("c1 observer woke for c2 write: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserveParticipantZeroValueThenUpdate(t *testing.T) {
	s := openTestStore(t)
	sub := s.ObserveParticipant("c1", "me")
	defer sub.Close()

	p := <-sub.C
	if p.UserID != "" {
		t.Fatalf("expected zero value for absent row, got %+v", p)
	}

	if _, err := s.MutateParticipant("c1", "me", func(p *models.Participant) { p.Pinned = true }); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	select {
	case p = <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatalf("no participant update delivered")
	}
	if !p.Pinned || p.UserID != "me" {
		t.Fatalf("update wrong: %+v", p)
	}
}

func TestObserveChangesWakesOnAnyMutation(t *testing.T) {
	s := openTestStore(t)
	sub := s.ObserveChanges()
	defer sub.Close()

	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c1", "peer", "x", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatalf("no wakeup for message write")
	}

	if _, err := s.MutateParticipant("c1", "me", func(p *models.Participant) { p.Archived = true }); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatalf("no wakeup for participant write")
	}
}

func TestOutgoingMessageRoundTripsThroughObserver(t *testing.T) {
	s := openTestStore(t)
	out := models.Message{
		LocalTempID:      "tmp-1",
		ConversationID:   "c1",
		SenderID:         "me",
		Body:             "see attachment",
		ContentType:      models.ContentImage,
		CreatedAt:        100,
		Status:           models.StatusSending,
		Attachments:      []models.Attachment{{ObjectKey: "media/tmp-1.jpg", Mime: "image/jpeg", Size: 42}},
		ReplyToMessageID: "srv-9",
		ThreadRootID:     "srv-1",
		Metadata:         map[string]string{"local_path": "/tmp/photo.jpg"},
	}
	if err := s.InsertOutgoingMessage(out); err != nil {
		t.Fatalf("insert outgoing: %v", err)
	}

	sub := s.ObserveMessages("c1", 0)
	defer sub.Close()
	snap := recvSnapshot(t, sub.C)
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d rows, want 1", len(snap))
	}
	if !reflect.DeepEqual(snap[0], out) {
		t.Fatalf("observed message diverges from inserted one:\n got %+v\nwant %+v", snap[0], out)
	}
}

func TestObserveAfterStoreCloseYieldsClosedSub(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	sub := s.ObserveMessages("c1", 0)
	if _, ok := <-sub.C; ok {
		t.Fatalf("subscription against closed store delivered a snapshot")
	}
	sub.Close()

	psub := s.ObserveParticipant("c1", "me")
	if _, ok := <-psub.C; ok {
		t.Fatalf("participant subscription against closed store delivered a row")
	}
	psub.Close()

	csub := s.ObserveChanges()
	if _, ok := <-csub.C; ok {
		t.Fatalf("change subscription against closed store delivered a wakeup")
	}
	csub.Close()
}

func TestSubscribeRacingStoreClose(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.UpsertMessages([]models.Message{msg("srv-1", "c1", "peer", "x", 100, 1, models.StatusSent)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Subscribing while the store shuts down must never panic; the
	// subscription comes back either live or already closed.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			sub := s.ObserveMessages("c1", 0)
			select {
			case <-sub.C:
			default:
			}
			sub.Close()
		}
	}()
	_ = s.Close()
	wg.Wait()
}

func TestCloseIsIdempotentAndSurvivesStoreClose(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sub := s.ObserveMessages("c1", 0)
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	// closing the handle after the store closed everything must not panic
	sub.Close()
	sub.Close()
}
