package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DeltaSource identifies which resolution path produced a delta.
type DeltaSource string

const (
	// DeltaSourceTransfer means the delta was reconciled from transfer
	// events in the transaction receipt.
	DeltaSourceTransfer DeltaSource = "transfer"
	// DeltaSourceCalldata means the delta was decoded from the call input
	// at the catalog's amount slot.
	DeltaSourceCalldata DeltaSource = "calldata"
)

// SignedDelta is the net change a single transaction applies to a wallet's
// outstanding balance. Positive means the balance grows.
type SignedDelta struct {
	Wallet common.Address
	Amount *big.Int
	Source DeltaSource

	// Ordering keys carried over from the candidate so deltas can be
	// replayed chronologically after parallel resolution.
	BlockNumber uint64
	Index       int
}
