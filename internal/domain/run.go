package domain

import "time"

// RunRecord archives one emitted ResultSet. Pure output history: the
// engine never reads archived runs back into a reconstruction, so every
// invocation still recomputes from scratch.
type RunRecord struct {
	RunID     string
	Result    ResultSet
	Duration  time.Duration
	CreatedAt int64 // Unix timestamp in milliseconds
}
