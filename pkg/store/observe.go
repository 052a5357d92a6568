package store

import (
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Observation model: explicit subscribe/unsubscribe handles. Each
// subscription owns a 1-buffered channel of snapshots; a newer snapshot
// replaces an unconsumed older one, so slow consumers coalesce instead of
// blocking writers. Close releases the registration; repeated
// subscribe/unsubscribe cycles do not leak.

// MessageSub is a live view over one conversation's transcript.
type MessageSub struct {
	// C receives the full (limit-capped) transcript after every mutation
	// affecting the conversation, starting with the current state.
	C <-chan []models.Message

	ch   chan []models.Message
	id   uint64
	conv string
	subs *subscribers
	once sync.Once
}

// Close releases the subscription and closes C.
func (ms *MessageSub) Close() {
	ms.once.Do(func() { ms.subs.dropMessageSub(ms) })
}

// ParticipantSub is a live view over one participant row.
type ParticipantSub struct {
	C <-chan models.Participant

	ch   chan models.Participant
	id   uint64
	key  string
	subs *subscribers
	once sync.Once
}

// Close releases the subscription and closes C.
func (ps *ParticipantSub) Close() {
	ps.once.Do(func() { ps.subs.dropParticipantSub(ps) })
}

// ChangeSub wakes on any store mutation; consumers recompute whatever
// projection they maintain. Used by the conversation aggregator.
type ChangeSub struct {
	C <-chan struct{}

	ch   chan struct{}
	id   uint64
	subs *subscribers
	once sync.Once
}

// Close releases the subscription and closes C.
func (cs *ChangeSub) Close() {
	cs.once.Do(func() { cs.subs.dropChangeSub(cs) })
}

type messageSubState struct {
	sub   *MessageSub
	limit int
}

type subscribers struct {
	mu     sync.Mutex
	nextID uint64
	closed bool
	msgs   map[string]map[uint64]*messageSubState
	parts  map[string]map[uint64]*ParticipantSub
	global map[uint64]*ChangeSub
}

func (sb *subscribers) init() {
	sb.msgs = make(map[string]map[uint64]*messageSubState)
	sb.parts = make(map[string]map[uint64]*ParticipantSub)
	sb.global = make(map[uint64]*ChangeSub)
}

// ObserveMessages subscribes to the transcript of a conversation, ordered
// by the store's ordering key and capped to the most recent limit entries
// (0 = uncapped). The current snapshot is delivered immediately.
func (s *Store) ObserveMessages(conversationID string, limit int) *MessageSub {
	sb := &s.subs
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nextID++
	ms := &MessageSub{
		ch:   make(chan []models.Message, 1),
		id:   sb.nextID,
		conv: conversationID,
		subs: sb,
	}
	ms.C = ms.ch
	// A subscription against a closed store is a closed channel.
	if sb.closed {
		close(ms.ch)
		return ms
	}
	if sb.msgs[conversationID] == nil {
		sb.msgs[conversationID] = make(map[uint64]*messageSubState)
	}
	sb.msgs[conversationID][ms.id] = &messageSubState{sub: ms, limit: limit}

	// Initial snapshot is delivered under the lock so a concurrent store
	// close cannot close the channel between registration and first push.
	snap, err := s.SnapshotMessages(conversationID, limit)
	if err != nil {
		logger.Warn("observe_initial_snapshot_failed", "conversation", conversationID, "error", err)
	}
	push(ms.ch, snap)
	return ms
}

// ObserveParticipant subscribes to one participant row. The current row (or
// zero value when absent) is delivered immediately.
func (s *Store) ObserveParticipant(conversationID, userID string) *ParticipantSub {
	sb := &s.subs
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nextID++
	key := conversationID + ":" + userID
	ps := &ParticipantSub{
		ch:   make(chan models.Participant, 1),
		id:   sb.nextID,
		key:  key,
		subs: sb,
	}
	ps.C = ps.ch
	if sb.closed {
		close(ps.ch)
		return ps
	}
	if sb.parts[key] == nil {
		sb.parts[key] = make(map[uint64]*ParticipantSub)
	}
	sb.parts[key][ps.id] = ps

	// an absent row delivers the zero value; pushed under the lock so a
	// concurrent store close cannot race the first delivery
	p, _ := s.GetParticipant(conversationID, userID)
	push(ps.ch, p)
	return ps
}

// ObserveChanges subscribes to a coalesced wakeup on every store mutation.
func (s *Store) ObserveChanges() *ChangeSub {
	sb := &s.subs
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.nextID++
	cs := &ChangeSub{ch: make(chan struct{}, 1), id: sb.nextID, subs: sb}
	cs.C = cs.ch
	if sb.closed {
		close(cs.ch)
		return cs
	}
	sb.global[cs.id] = cs
	return cs
}

// push replaces any unconsumed value with v.
func push[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// notifyConversation recomputes and delivers snapshots for every observer of
// the conversation, then wakes global observers. Runs after the mutation is
// committed; holding the store write lock is fine because snapshot reads do
// not take it.
func (sb *subscribers) notifyConversation(s *Store, conversationID string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	for _, st := range sb.msgs[conversationID] {
		snap, err := s.SnapshotMessages(conversationID, st.limit)
		if err != nil {
			logger.Warn("observe_snapshot_failed", "conversation", conversationID, "error", err)
			continue
		}
		push(st.sub.ch, snap)
	}
	sb.notifyGlobalLocked()
}

// notifyParticipant delivers the fresh participant row to its observers and
// wakes global observers (summaries flatten participant flags in).
func (sb *subscribers) notifyParticipant(s *Store, conversationID, userID string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	key := conversationID + ":" + userID
	if subs := sb.parts[key]; len(subs) > 0 {
		p, err := s.GetParticipant(conversationID, userID)
		if err == nil {
			for _, ps := range subs {
				push(ps.ch, p)
			}
		}
	}
	sb.notifyGlobalLocked()
}

func (sb *subscribers) notifyGlobal() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	sb.notifyGlobalLocked()
}

func (sb *subscribers) notifyGlobalLocked() {
	for _, cs := range sb.global {
		push(cs.ch, struct{}{})
	}
}

func (sb *subscribers) dropMessageSub(ms *MessageSub) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	if m := sb.msgs[ms.conv]; m != nil {
		delete(m, ms.id)
		if len(m) == 0 {
			delete(sb.msgs, ms.conv)
		}
	}
	close(ms.ch)
}

func (sb *subscribers) dropParticipantSub(ps *ParticipantSub) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	if m := sb.parts[ps.key]; m != nil {
		delete(m, ps.id)
		if len(m) == 0 {
			delete(sb.parts, ps.key)
		}
	}
	close(ps.ch)
}

func (sb *subscribers) dropChangeSub(cs *ChangeSub) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	delete(sb.global, cs.id)
	close(cs.ch)
}

// closeAll tears down every open subscription; used on store close.
func (sb *subscribers) closeAll() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}
	sb.closed = true
	for _, m := range sb.msgs {
		for _, st := range m {
			close(st.sub.ch)
		}
	}
	for _, m := range sb.parts {
		for _, ps := range m {
			close(ps.ch)
		}
	}
	for _, cs := range sb.global {
		close(cs.ch)
	}
	sb.msgs = make(map[string]map[uint64]*messageSubState)
	sb.parts = make(map[string]map[uint64]*ParticipantSub)
	sb.global = make(map[uint64]*ChangeSub)
}
