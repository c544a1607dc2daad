package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// CandidateTransaction is a historical call to the lending contract whose
// selector matched the method catalog. Produced by discovery, consumed
// exactly once by the amount resolver.
type CandidateTransaction struct {
	Hash        common.Hash
	Sender      common.Address
	Selector    [4]byte
	Input       []byte // full calldata, selector included
	BlockNumber uint64
	Timestamp   int64 // Unix seconds; zero when the block time could not be resolved
	// Index is the position in discovery order within this run. It breaks
	// ties between transactions in the same block when deltas are replayed.
	Index int
}
