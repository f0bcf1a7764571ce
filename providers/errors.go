package providers

import "errors"

// Error classes the engine distinguishes. Provider implementations wrap
// these so callers can match with errors.Is without knowing SDK types.
var (
	// ErrNotFound means the resource no longer exists. Deletions treat
	// this as success (already gone).
	ErrNotFound = errors.New("resource not found")

	// ErrThrottled means the provider rejected the call for rate
	// reasons after retries were exhausted.
	ErrThrottled = errors.New("throttled by provider")

	// ErrPermissionDenied means credentials lack the required action.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrMalformedRequest means the call can never succeed as issued.
	ErrMalformedRequest = errors.New("malformed request")
)
