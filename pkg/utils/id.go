package utils

import "github.com/google/uuid"

// GenTempID returns a client-unique identifier for a not-yet-acknowledged
// outgoing message. The backend keys duplicate-send detection on this value,
// so a retry must reuse the original, never mint a new one.
func GenTempID() string {
	return "tmp-" + uuid.NewString()
}

// GenConversationID returns an identifier for a locally-originated
// conversation.
func GenConversationID() string {
	return "conv-" + uuid.NewString()
}
