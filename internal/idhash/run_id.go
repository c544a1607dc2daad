package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ComputeRunID computes a deterministic run_id using SHA256.
// Formula: SHA256(token|lookback_seconds|started_at_ms)
// Returns hex-encoded hash (64 characters).
func ComputeRunID(token common.Address, lookback time.Duration, startedAt time.Time) string {
	data := fmt.Sprintf("%s|%d|%d",
		token.Hex(),
		int64(lookback.Seconds()),
		startedAt.UnixMilli(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
