// Package syncerr defines the error taxonomy shared across the sync core.
// Errors are classified with sentinel markers so call sites can branch on
// category with errors.Is without caring about the concrete cause.
package syncerr

import "github.com/cockroachdb/errors"

var (
	// ErrTransport marks network/auth/quota failures from the remote
	// transport. Retryable; callers keep the local record and retry with the
	// same idempotency key.
	ErrTransport = errors.New("transport error")
	// ErrConflict marks a stale write resolved by last-writer-wins. Logged,
	// never surfaced to the UI.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks an operation against a message or conversation absent
	// locally. Treated as a no-op by callers.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks a local persistence failure. Fatal to the calling
	// operation and surfaced to the caller.
	ErrStorage = errors.New("storage error")
)

// Transport wraps err as a transport-category failure.
func Transport(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrTransport)
}

// Transportf builds a transport-category failure from a format string.
func Transportf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrTransport)
}

// Storage wraps err as a storage-category failure.
func Storage(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStorage)
}

// NotFoundf builds a not-found failure from a format string.
func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Conflictf builds a conflict failure from a format string.
func Conflictf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }
func IsConflict(err error) bool  { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsStorage(err error) bool   { return errors.Is(err, ErrStorage) }
