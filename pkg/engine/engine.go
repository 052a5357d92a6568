package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/syncerr"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/transport"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"
)

// Options tunes a reconciliation engine. Zero values fall back to the
// defaults below.
type Options struct {
	// SelfUserID identifies the local user. Echoes of our own sends arriving
	// from the backend are matched against it.
	SelfUserID string
	// SendTimeout bounds a single transport send attempt.
	SendTimeout time.Duration
	// PullTimeout bounds a historical catch-up pull.
	PullTimeout time.Duration
	// RateRPS / RateBurst shape the outbound send limiter. RateRPS <= 0
	// disables limiting.
	RateRPS   float64
	RateBurst int
	// QueueCapacity sizes the inbound event queue.
	QueueCapacity int
	// Media is optional blob storage for image/audio payloads.
	Media transport.MediaStore
}

const (
	defaultSendTimeout = 15 * time.Second
	defaultPullTimeout = 30 * time.Second
	defaultQueueCap    = 1024
)

// Engine reconciles the local store against a remote transport: optimistic
// outbound sends with temp-id promotion on acknowledgment, and idempotent
// application of inbound events guarded by the action ledger.
type Engine struct {
	store   *store.Store
	remote  transport.Transport
	media   transport.MediaStore
	self    string
	limiter *rate.Limiter

	sendTimeout time.Duration
	pullTimeout time.Duration

	queue *eventQueue
	clock func() time.Time
}

func New(st *store.Store, remote transport.Transport, opts Options) *Engine {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = defaultPullTimeout
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCap
	}
	var lim *rate.Limiter
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	return &Engine{
		store:       st,
		remote:      remote,
		media:       opts.Media,
		self:        opts.SelfUserID,
		limiter:     lim,
		sendTimeout: opts.SendTimeout,
		pullTimeout: opts.PullTimeout,
		queue:       newEventQueue(opts.QueueCapacity),
		clock:       time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(fn func() time.Time) { e.clock = fn }

// SelfUserID reports the local user identity the engine was built with.
func (e *Engine) SelfUserID() string { return e.self }

// Start launches the inbound apply worker. It returns once the worker is
// running; cancel ctx to stop it.
func (e *Engine) Start(ctx context.Context) {
	go e.runWorker(ctx)
}

// SendMessage persists the draft locally with a generated temp id and
// Sending status, then attempts delivery. A transport failure is not an
// error to the caller: the message is returned in Failed status and stays
// retryable. Storage failures are returned as errors.
func (e *Engine) SendMessage(ctx context.Context, d models.Draft) (models.Message, error) {
	if err := validation.ValidateDraft(d); err != nil {
		return models.Message{}, err
	}
	now := e.clock().UnixNano()
	m := models.Message{
		LocalTempID:      utils.GenTempID(),
		ConversationID:   d.ConversationID,
		SenderID:         e.self,
		Body:             d.Body,
		ContentType:      d.ContentType,
		Ciphertext:       d.Ciphertext,
		ReplyToMessageID: d.ReplyToMessageID,
		ThreadRootID:     d.ThreadRootID,
		CreatedAt:        now,
		Status:           models.StatusSending,
		Metadata:         map[string]string{},
	}
	for k, v := range d.Metadata {
		m.Metadata[k] = v
	}
	if d.LocalPath != "" {
		m.Metadata["local_path"] = d.LocalPath
	}
	if err := e.store.InsertOutgoingMessage(m); err != nil {
		return models.Message{}, err
	}
	return e.transmit(ctx, m)
}

// RetrySend re-attempts delivery of a failed optimistic message under its
// original temp id, so a duplicate acknowledgment from an earlier attempt
// still promotes the same row.
func (e *Engine) RetrySend(ctx context.Context, localTempID string) (models.Message, error) {
	m, err := e.store.GetMessage(localTempID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Confirmed() {
		// An earlier attempt was acknowledged after all.
		return m, nil
	}
	if m.Status != models.StatusFailed {
		return models.Message{}, syncerr.Conflictf("message %s is %s, not retryable", localTempID, m.Status)
	}
	if err := e.store.UpdateMessageStatus(localTempID, models.StatusSending); err != nil {
		return models.Message{}, err
	}
	m.Status = models.StatusSending
	return e.transmit(ctx, m)
}

func (e *Engine) transmit(ctx context.Context, m models.Message) (models.Message, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return e.markFailed(m, syncerr.Transport(err, "rate limiter wait"))
		}
	}
	m, err := e.stageMedia(ctx, m)
	if err != nil {
		return e.markFailed(m, err)
	}

	sctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	srv, err := e.remote.SendMessage(sctx, m)
	if err != nil {
		return e.markFailed(m, syncerr.Transport(err, "send message"))
	}
	if srv.ID == "" {
		return e.markFailed(m, syncerr.Transportf("backend acknowledged without a message id"))
	}

	err = e.store.UpdateMessageStatusByLocalID(m.LocalTempID, srv.ID, srv.MessageSeq, srv.ServerAckAt, models.StatusSent)
	if err != nil {
		return models.Message{}, err
	}
	telemetry.Sends.WithLabelValues("ok").Inc()
	logger.Info("send_acknowledged", "conversation", m.ConversationID, "temp_id", m.LocalTempID, "server_id", srv.ID, "seq", srv.MessageSeq)
	return e.store.GetMessage(srv.ID)
}

// markFailed records the failed attempt and hands the caller the row in
// Failed status. Transport-class errors are swallowed here; anything else
// (storage, validation) propagates.
func (e *Engine) markFailed(m models.Message, cause error) (models.Message, error) {
	telemetry.Sends.WithLabelValues("failed").Inc()
	logger.Warn("send_failed", "conversation", m.ConversationID, "temp_id", m.LocalTempID, "error", cause)
	if err := e.store.UpdateMessageStatus(m.Key(), models.StatusFailed); err != nil {
		return models.Message{}, err
	}
	got, err := e.store.GetMessage(m.Key())
	if err != nil {
		return models.Message{}, err
	}
	if !syncerr.IsTransport(cause) {
		return got, cause
	}
	return got, nil
}

// stageMedia uploads local media for image/audio drafts before the envelope
// goes out, capturing the remote URL into message metadata. Messages that
// already carry a remote_url (retries) skip the upload.
func (e *Engine) stageMedia(ctx context.Context, m models.Message) (models.Message, error) {
	if e.media == nil {
		return m, nil
	}
	if m.ContentType != models.ContentImage && m.ContentType != models.ContentAudio {
		return m, nil
	}
	if m.Metadata["remote_url"] != "" {
		return m, nil
	}
	localPath := m.Metadata["local_path"]
	if localPath == "" {
		return m, nil
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return m, syncerr.Storage(err, "read local media")
	}
	objectKey := "media/" + m.LocalTempID + filepath.Ext(localPath)
	url, err := e.media.UploadBytes(ctx, objectKey, data, m.Metadata["mime_type"])
	if err != nil {
		return m, syncerr.Transport(err, "upload media")
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata["remote_url"] = url
	m.Metadata["object_key"] = objectKey
	if err := e.store.UpdateMessageMetadata(m.Key(), map[string]string{
		"remote_url": url,
		"object_key": objectKey,
	}); err != nil {
		return m, err
	}
	logger.Info("media_staged", "temp_id", m.LocalTempID, "object_key", objectKey)
	return m, nil
}

// EnsureConversation materializes conversation metadata on the backend and
// in the local registry.
func (e *Engine) EnsureConversation(ctx context.Context, c models.Conversation) error {
	if err := e.remote.EnsureConversation(ctx, c.ID, e.self); err != nil {
		return syncerr.Transport(err, "ensure conversation")
	}
	return e.store.EnsureConversation(c)
}

// SyncConversation runs a one-shot catch-up pull for the conversation. The
// effective cursor is the later of the caller's cursor and the newest
// timestamp already held locally, so a redundant sync fetches nothing.
// The pulled batch reuses the normal upsert path: device echoes promote
// pending rows, everything else applies last-write-wins.
func (e *Engine) SyncConversation(ctx context.Context, conversationID string, since int64) (int, error) {
	if lt, err := e.store.LatestTimestamp(conversationID); err == nil && lt > since {
		since = lt
	}
	pctx, cancel := context.WithTimeout(ctx, e.pullTimeout)
	defer cancel()
	msgs, err := e.remote.PullHistorical(pctx, conversationID, since)
	if err != nil {
		telemetry.SyncPulls.WithLabelValues("failed").Inc()
		return 0, syncerr.Transport(err, "pull historical")
	}
	telemetry.SyncPulls.WithLabelValues("ok").Inc()
	if len(msgs) == 0 {
		logger.Debug("sync_noop", "conversation", conversationID, "since", since)
		return 0, nil
	}
	for i := range msgs {
		if msgs[i].Status == "" || msgs[i].Status == models.StatusSending {
			msgs[i].Status = models.StatusSent
		}
	}
	if err := e.store.UpsertMessages(msgs); err != nil {
		return 0, err
	}
	logger.Info("sync_applied", "conversation", conversationID, "since", since, "messages", len(msgs))
	return len(msgs), nil
}
