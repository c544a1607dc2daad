package scanapi

import "errors"

// Index API error taxonomy. Discovery distinguishes normal exhaustion from
// failures that should trigger the on-chain fallback scan.
var (
	// ErrExhausted means the index has no (more) matching transactions.
	// Normal loop termination, not a failure.
	ErrExhausted = errors.New("index exhausted: no more transactions")

	// ErrRateLimited means the index rejected the call for rate limiting.
	// Retried with backoff before being surfaced.
	ErrRateLimited = errors.New("index rate limited")

	// ErrMalformedPayload means the index answered with an unexpected
	// shape (non-array result). Fatal for the index path.
	ErrMalformedPayload = errors.New("malformed index payload")
)
