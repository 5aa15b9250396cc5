// Package store provides error types for conversation store operations.
package store

import "errors"

// Sentinel errors for conversation store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConversationExists indicates a live conversation with the same id
	// already exists. With random id generation this is caller error.
	ErrConversationExists = errors.New("conversation already exists")

	// ErrConversationNotFound indicates the conversation key is absent,
	// either because it never existed, was deleted, or naturally expired.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrBadRecord indicates a stored document failed to decode. Callers
	// iterating many keys should log, count and skip rather than abort.
	ErrBadRecord = errors.New("malformed conversation record")

	// ErrStoreUnavailable indicates the backing store is unreachable.
	// Surfaced as a service-unavailable condition; no silent retry.
	ErrStoreUnavailable = errors.New("conversation store unavailable")
)
