package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
)

// Memory is a loopback backend living entirely in process. The daemon runs
// it in loopback mode and the engine tests drive it directly. It assigns
// server ids and monotonic sequence numbers per conversation and echoes
// accepted sends back to observers, so the full reconcile loop can run
// without a network.
type Memory struct {
	mu       sync.Mutex
	seq      map[string]int64             // conversation -> last seq
	log      map[string][]models.Message  // conversation -> confirmed transcript
	byTempID map[string]models.Message    // duplicate-send suppression
	subs     map[string]map[int64]*memSub // conversation -> subscriber set
	nextSub  int64
	nextID   int64

	// failSends makes that many SendMessage calls fail; tests use it to
	// exercise the Failed/retry path.
	failSends int

	blobs  map[string][]byte
	tokens map[string]string

	// MaxDownloadBytes caps DownloadBytes; zero means the default.
	MaxDownloadBytes int64
}

const defaultMaxDownload = 32 << 20

type memSub struct {
	events chan RemoteEvent
	errs   chan error
}

// NewMemory returns an empty loopback backend.
func NewMemory() *Memory {
	return &Memory{
		seq:      make(map[string]int64),
		log:      make(map[string][]models.Message),
		byTempID: make(map[string]models.Message),
		subs:     make(map[string]map[int64]*memSub),
		blobs:    make(map[string][]byte),
		tokens:   make(map[string]string),
	}
}

// FailNextSends makes the next n SendMessage calls fail with a transport error.
func (t *Memory) FailNextSends(n int) {
	t.mu.Lock()
	t.failSends = n
	t.mu.Unlock()
}

// SendMessage assigns server identity and broadcasts the confirmed message
// to observers (device echo included).
func (t *Memory) SendMessage(ctx context.Context, m models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, syncerr.Transport(err, "send canceled")
	}
	t.mu.Lock()
	if t.failSends > 0 {
		t.failSends--
		t.mu.Unlock()
		return models.Message{}, syncerr.Transportf("injected send failure")
	}
	if m.LocalTempID != "" {
		if prev, ok := t.byTempID[m.LocalTempID]; ok {
			t.mu.Unlock()
			return prev, nil
		}
	}
	t.nextID++
	t.seq[m.ConversationID]++
	m.ID = fmt.Sprintf("srv-%d", t.nextID)
	m.MessageSeq = t.seq[m.ConversationID]
	m.ServerAckAt = time.Now().UTC().UnixNano()
	m.Status = models.StatusSent
	t.log[m.ConversationID] = append(t.log[m.ConversationID], m)
	if m.LocalTempID != "" {
		t.byTempID[m.LocalTempID] = m
	}
	t.mu.Unlock()

	t.broadcast(m.ConversationID, eventForMessage(m))
	return m, nil
}

// PullHistorical returns confirmed messages with server ack after since.
func (t *Memory) PullHistorical(ctx context.Context, conversationID string, since int64) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Transport(err, "pull canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.Message
	for _, m := range t.log[conversationID] {
		if m.ServerAckAt > since {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageSeq < out[j].MessageSeq })
	return out, nil
}

// EnsureConversation is a no-op registration; the loopback backend
// materializes conversations lazily.
func (t *Memory) EnsureConversation(ctx context.Context, conversationID, userID string) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transport(err, "ensure canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seq[conversationID]; !ok {
		t.seq[conversationID] = 0
	}
	return nil
}

// ObserveConversation registers a subscriber. Events accepted after the call
// are delivered; since is honored by replaying newer confirmed messages.
func (t *Memory) ObserveConversation(ctx context.Context, conversationID string, since int64) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Transport(err, "observe canceled")
	}
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	var replay []models.Message
	for _, m := range t.log[conversationID] {
		if m.ServerAckAt > since {
			replay = append(replay, m)
		}
	}
	// The event buffer is sized to hold the whole replay backlog plus live
	// headroom, so catch-up completes before the subscriber reads anything.
	buf := len(replay) + 64
	ms := &memSub{events: make(chan RemoteEvent, buf), errs: make(chan error, 1)}
	if t.subs[conversationID] == nil {
		t.subs[conversationID] = make(map[int64]*memSub)
	}
	t.subs[conversationID][id] = ms
	for _, m := range replay {
		ms.events <- eventForMessage(m)
	}
	t.mu.Unlock()

	sub := &Subscription{
		Events: ms.events,
		Errs:   ms.errs,
		CloseFunc: func() {
			t.mu.Lock()
			if set := t.subs[conversationID]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(t.subs, conversationID)
				}
			}
			t.mu.Unlock()
			close(ms.events)
		},
	}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// InjectEvent delivers an arbitrary event to observers of its conversation.
// Tests use it to simulate remote deletes, edits and redeliveries.
func (t *Memory) InjectEvent(ev RemoteEvent) {
	t.broadcast(ev.ConversationID, ev)
}

// InjectStreamError surfaces an error on every open subscription for the
// conversation without tearing the stream down.
func (t *Memory) InjectStreamError(conversationID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ms := range t.subs[conversationID] {
		select {
		case ms.errs <- err:
		default:
		}
	}
}

func (t *Memory) broadcast(conversationID string, ev RemoteEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ms := range t.subs[conversationID] {
		select {
		case ms.events <- ev:
		default:
			// slow observer; drop rather than block the backend
		}
	}
}

func eventForMessage(m models.Message) RemoteEvent {
	payload, _ := json.Marshal(m)
	return RemoteEvent{
		Type:           EventMessage,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		TargetID:       m.ID,
		Seq:            m.MessageSeq,
		TS:             m.ServerAckAt,
		Payload:        payload,
	}
}

// UploadBytes stores blob bytes and returns a mem:// URL.
func (t *Memory) UploadBytes(ctx context.Context, objectKey string, data []byte, mime string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", syncerr.Transport(err, "upload canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blobs[objectKey] = append([]byte(nil), data...)
	return "mem://" + objectKey, nil
}

// DownloadBytes returns stored blob bytes, capped at maxBytes.
func (t *Memory) DownloadBytes(ctx context.Context, objectKey string, maxBytes int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Transport(err, "download canceled")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxDownload
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.blobs[objectKey]
	if !ok {
		return nil, syncerr.NotFoundf("blob %s", objectKey)
	}
	if int64(len(b)) > maxBytes {
		return nil, syncerr.Transportf("blob %s exceeds %d bytes", objectKey, maxBytes)
	}
	return append([]byte(nil), b...), nil
}

// DeleteRemote removes a stored blob; absent objects are a no-op.
func (t *Memory) DeleteRemote(ctx context.Context, objectKey string) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transport(err, "delete canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.blobs, objectKey)
	return nil
}

// Register stores a device push token for the user.
func (t *Memory) Register(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transport(err, "register canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[userID] = token
	return nil
}

// Unregister drops the user's device push token.
func (t *Memory) Unregister(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transport(err, "unregister canceled")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens[userID] == token {
		delete(t.tokens, userID)
	}
	return nil
}

var (
	_ Transport    = (*Memory)(nil)
	_ MediaStore   = (*Memory)(nil)
	_ DeviceTokens = (*Memory)(nil)
)
