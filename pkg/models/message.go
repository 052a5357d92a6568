package models

// ContentType classifies the payload carried in a message body.
type ContentType string

const (
	ContentText      ContentType = "text"
	ContentImage     ContentType = "image"
	ContentAudio     ContentType = "audio"
	ContentEncrypted ContentType = "encrypted"
)

// Status tracks a message through its delivery lifecycle. A client-authored
// message starts at Sending; a remote-delivered one starts at Sent. Read can
// only regress through an explicit bulk downgrade.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Attachment references an uploaded blob by object key. CipherInfo is opaque
// to this core and carried for encrypted media.
type Attachment struct {
	ObjectKey  string `json:"object_key"`
	Mime       string `json:"mime,omitempty"`
	Size       int64  `json:"size,omitempty"`
	CipherInfo string `json:"cipher_info,omitempty"`
}

// Message is the transcript record. Exactly one of ID/LocalTempID may be
// empty at any time, never both; once ID is assigned by the backend it is
// immutable. MessageSeq of zero means the backend has not acknowledged yet.
type Message struct {
	ID             string      `json:"id,omitempty"`
	LocalTempID    string      `json:"local_temp_id,omitempty"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body,omitempty"`
	ContentType    ContentType `json:"content_type"`
	// CreatedAt is the client clock at authoring time (ns); authoritative for
	// ordering until MessageSeq is assigned.
	CreatedAt   int64  `json:"created_at"`
	MessageSeq  int64  `json:"message_seq,omitempty"`
	Status      Status `json:"status"`
	ServerAckAt int64  `json:"server_ack_at,omitempty"`
	// Ciphertext is opaque; the core never interprets it.
	Ciphertext       string       `json:"ciphertext,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	ReplyToMessageID string       `json:"reply_to_message_id,omitempty"`
	ThreadRootID     string       `json:"thread_root_id,omitempty"`
	EditedAt         int64        `json:"edited_at,omitempty"`
	// Deleted marks a local tombstone; retention decides when the row goes away.
	Deleted bool `json:"deleted,omitempty"`
	// Metadata is an open string map for adapter bookkeeping (remote blob URL,
	// deletion markers). Kept as a typed map so serialization stays explicit.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Key returns the identity the store keys this message by: the server ID
// when assigned, else the local temp ID.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalTempID
}

// Confirmed reports whether the backend has assigned a server identity.
func (m *Message) Confirmed() bool { return m.ID != "" && m.MessageSeq > 0 }

// Draft is the UI-supplied input to a send. LocalPath points at media bytes
// still on disk for image/audio drafts; it is consumed before the envelope
// goes out.
type Draft struct {
	ConversationID   string            `json:"conversation_id"`
	Body             string            `json:"body,omitempty"`
	ContentType      ContentType       `json:"content_type"`
	Ciphertext       string            `json:"ciphertext,omitempty"`
	ReplyToMessageID string            `json:"reply_to_message_id,omitempty"`
	ThreadRootID     string            `json:"thread_root_id,omitempty"`
	LocalPath        string            `json:"local_path,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}
