package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/valyala/bytebufferpool"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/syncerr"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/transport"
)

// eventItem is one queued remote event. The payload lives in a pooled
// buffer so the listener goroutine can hand the event off without holding
// on to the transport's slice.
type eventItem struct {
	ev   transport.RemoteEvent
	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

func (it *eventItem) done() {
	it.once.Do(func() {
		if it.buf != nil {
			bytebufferpool.Put(it.buf)
			it.buf = nil
		}
	})
}

type eventQueue struct {
	ch chan *eventItem
}

func newEventQueue(capacity int) *eventQueue {
	return &eventQueue{ch: make(chan *eventItem, capacity)}
}

// enqueue copies the payload into a pooled buffer and offers the item
// without blocking. A full queue drops the event; catch-up pulls recover
// anything lost since events are redeliverable.
func (q *eventQueue) enqueue(ev transport.RemoteEvent) bool {
	it := &eventItem{ev: ev}
	if len(ev.Payload) > 0 {
		it.buf = bytebufferpool.Get()
		_, _ = it.buf.Write(ev.Payload)
		it.ev.Payload = it.buf.B
	}
	select {
	case q.ch <- it:
		telemetry.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		it.done()
		logger.Warn("inbound_queue_full", "conversation", ev.ConversationID, "type", string(ev.Type))
		return false
	}
}

// Listener is a running per-conversation inbound stream. Stream errors
// surface on Errs without tearing the listener down.
type Listener struct {
	Errs <-chan error

	sub  *transport.Subscription
	once sync.Once
	done chan struct{}
}

// Close stops the stream and the forwarding goroutine.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.sub.Close()
		close(l.done)
	})
}

// ListenConversation subscribes to the conversation's remote stream and
// feeds events into the engine's apply queue. The caller owns the returned
// listener and must Close it.
func (e *Engine) ListenConversation(ctx context.Context, conversationID string, since int64) (*Listener, error) {
	sub, err := e.remote.ObserveConversation(ctx, conversationID, since)
	if err != nil {
		return nil, syncerr.Transport(err, "observe conversation")
	}
	errs := make(chan error, 1)
	l := &Listener{Errs: errs, sub: sub, done: make(chan struct{})}
	go func() {
		defer close(errs)
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				e.queue.enqueue(ev)
			case err, ok := <-sub.Errs:
				if !ok {
					return
				}
				select {
				case errs <- err:
				default:
				}
			case <-l.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	logger.Info("listen_started", "conversation", conversationID, "since", since)
	return l, nil
}

func (e *Engine) runWorker(ctx context.Context) {
	for {
		select {
		case it := <-e.queue.ch:
			telemetry.QueueDepth.Set(float64(len(e.queue.ch)))
			if err := e.ApplyRemoteEvent(it.ev); err != nil {
				telemetry.Actions.WithLabelValues("error").Inc()
				logger.Error("apply_event_failed", "type", string(it.ev.Type), "target", it.ev.TargetID, "error", err)
			}
			it.done()
		case <-ctx.Done():
			return
		}
	}
}

// statusRank orders the delivery lifecycle so remote status events never
// regress a message. Read only moves backwards through the explicit
// downgrade operation.
func statusRank(st models.Status) int {
	switch st {
	case models.StatusSending:
		return 0
	case models.StatusFailed:
		return 0
	case models.StatusSent:
		return 1
	case models.StatusDelivered:
		return 2
	case models.StatusRead:
		return 3
	}
	return -1
}

// ApplyRemoteEvent applies one inbound event exactly once. The action
// ledger is consulted first; a hit means a redelivery and the event is
// skipped. The mutation lands before the ledger mark, so a crash between
// the two re-applies an idempotent mutation rather than losing it.
func (e *Engine) ApplyRemoteEvent(ev transport.RemoteEvent) error {
	actionID := ActionID(ev)
	seen, err := e.store.HasProcessedAction(actionID)
	if err != nil {
		return err
	}
	if seen {
		telemetry.Actions.WithLabelValues("duplicate").Inc()
		logger.Debug("action_duplicate", "action_id", actionID, "type", string(ev.Type), "target", ev.TargetID)
		return nil
	}

	outcome := "applied"
	switch ev.Type {
	case transport.EventMessage:
		err = e.applyIncomingMessage(ev)
	case transport.EventEdit:
		outcome, err = e.applyEdit(ev)
	case transport.EventDelete:
		outcome, err = e.applyDelete(ev)
	case transport.EventStatus:
		outcome, err = e.applyStatus(ev)
	default:
		logger.Warn("action_unknown_type", "type", string(ev.Type), "target", ev.TargetID)
		outcome = "noop"
	}
	if err != nil {
		return err
	}
	telemetry.Actions.WithLabelValues(outcome).Inc()

	// Best effort: a missed mark only costs one redundant idempotent apply.
	if err := e.store.MarkActionProcessed(actionID); err != nil {
		logger.Warn("action_mark_failed", "action_id", actionID, "error", err)
	}
	return nil
}

// applyIncomingMessage upserts the delivered message. A device echo of our
// own optimistic send carries our temp id; the upsert path resolves it
// through the temp index and promotes the pending row in place instead of
// inserting a duplicate.
func (e *Engine) applyIncomingMessage(ev transport.RemoteEvent) error {
	var m models.Message
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		return syncerr.Storage(err, "decode message payload")
	}
	if m.ID == "" {
		m.ID = ev.TargetID
	}
	if m.ConversationID == "" {
		m.ConversationID = ev.ConversationID
	}
	if m.MessageSeq == 0 {
		m.MessageSeq = ev.Seq
	}
	if m.Status == "" || m.Status == models.StatusSending {
		m.Status = models.StatusSent
	}
	return e.store.UpsertMessages([]models.Message{m})
}

func (e *Engine) applyEdit(ev transport.RemoteEvent) (string, error) {
	var m models.Message
	if err := json.Unmarshal(ev.Payload, &m); err != nil {
		return "", syncerr.Storage(err, "decode edit payload")
	}
	err := e.store.UpdateMessageBodyAndMetadata(ev.TargetID, m.Body, m.Metadata)
	if syncerr.IsNotFound(err) {
		logger.Debug("edit_target_missing", "target", ev.TargetID)
		return "noop", nil
	}
	if err != nil {
		return "", err
	}
	return "applied", nil
}

func (e *Engine) applyDelete(ev transport.RemoteEvent) (string, error) {
	m, err := e.store.GetMessage(ev.TargetID)
	if syncerr.IsNotFound(err) {
		logger.Debug("delete_target_missing", "target", ev.TargetID)
		return "noop", nil
	}
	if err != nil {
		return "", err
	}
	if m.Deleted {
		return "noop", nil
	}
	objectKey := m.Metadata["object_key"]
	if err := e.store.DeleteMessage(ev.TargetID); err != nil {
		return "", err
	}
	if e.media != nil && objectKey != "" {
		if err := e.media.DeleteRemote(context.Background(), objectKey); err != nil {
			logger.Warn("media_delete_failed", "object_key", objectKey, "error", err)
		}
	}
	return "applied", nil
}

func (e *Engine) applyStatus(ev transport.RemoteEvent) (string, error) {
	m, err := e.store.GetMessage(ev.TargetID)
	if syncerr.IsNotFound(err) {
		logger.Debug("status_target_missing", "target", ev.TargetID)
		return "noop", nil
	}
	if err != nil {
		return "", err
	}
	if statusRank(ev.Status) <= statusRank(m.Status) {
		return "noop", nil
	}
	if err := e.store.UpdateMessageStatus(ev.TargetID, ev.Status); err != nil {
		return "", err
	}
	return "applied", nil
}
