package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferEvent is a single token transfer decoded from a receipt log.
// Ephemeral: derived per transaction during resolution, never persisted.
type TransferEvent struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int // non-negative
}
