package store

import "fmt"

// Key namespaces. Message rows sort within their conversation by an ordering
// key: server-sequenced rows use an "s"-prefixed zero-padded MessageSeq,
// unacknowledged rows a "t"-prefixed CreatedAt with the temp id as tiebreak.
// "s" < "t" lexically, so confirmed history precedes pending sends and each
// group sorts ascending, which is exactly the transcript order contract.
//
//	conv:<id>:meta                conversation registry row
//	conv:<id>:msg:<ord>           message row
//	idx:id:<serverID>             -> message row key
//	idx:tmp:<localTempID>         -> message row key
//	part:<conv>:<user>            participant row
//	action:<actionID>             processed-action ledger entry
func convMetaKey(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":meta")
}

func msgPrefix(conversationID string) []byte {
	return []byte("conv:" + conversationID + ":msg:")
}

func msgKey(conversationID, ord string) []byte {
	return []byte("conv:" + conversationID + ":msg:" + ord)
}

func idIdxKey(serverID string) []byte {
	return []byte("idx:id:" + serverID)
}

func tmpIdxKey(localTempID string) []byte {
	return []byte("idx:tmp:" + localTempID)
}

func partKey(conversationID, userID string) []byte {
	return []byte("part:" + conversationID + ":" + userID)
}

func partPrefix(conversationID string) []byte {
	return []byte("part:" + conversationID + ":")
}

func actionKey(actionID string) []byte {
	return []byte("action:" + actionID)
}

const (
	convPrefix   = "conv:"
	actionPrefix = "action:"
)

// ordSeq formats the ordering key for a server-sequenced message.
func ordSeq(seq int64) string {
	return fmt.Sprintf("s%020d", seq)
}

// ordPending formats the ordering key for a not-yet-acknowledged message.
// The temp id tiebreak keeps keys unique when two sends share a timestamp.
func ordPending(createdAt int64, tiebreak string) string {
	return fmt.Sprintf("t%020d-%s", createdAt, tiebreak)
}

// itoa64 renders an int64 for metadata values without pulling strconv into
// every call site.
func itoa64(v int64) string {
	return fmt.Sprintf("%d", v)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
