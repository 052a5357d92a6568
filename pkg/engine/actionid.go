package engine

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"chatsync/pkg/transport"
)

// ActionID derives the stable idempotency key for a remote event: a hash
// over sender, event type, target and backend timestamp. Redeliveries of
// the same backend event always produce the same id, while distinct actions
// on the same message (say two edits) differ by timestamp.
func ActionID(ev transport.RemoteEvent) string {
	d := xxhash.New()
	_, _ = d.WriteString(ev.SenderID)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(string(ev.Type))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(ev.TargetID)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(fmt.Sprintf("%d", ev.TS))
	return fmt.Sprintf("%016x", d.Sum64())
}
