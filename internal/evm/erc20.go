package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lenderscan/internal/domain"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// totalSupplySelector is the 4-byte selector of totalSupply().
var totalSupplySelector = []byte{0x18, 0x16, 0x0d, 0xdd}

// ParseTransferLog decodes an ERC-20 Transfer log. Returns false for logs
// that are not well-formed transfers.
func ParseTransferLog(lg types.Log) (domain.TransferEvent, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return domain.TransferEvent{}, false
	}
	if len(lg.Data) < 32 {
		return domain.TransferEvent{}, false
	}
	return domain.TransferEvent{
		Token:  lg.Address,
		From:   common.BytesToAddress(lg.Topics[1].Bytes()),
		To:     common.BytesToAddress(lg.Topics[2].Bytes()),
		Amount: new(big.Int).SetBytes(lg.Data[:32]),
	}, true
}

// TotalSupplyCallData returns the calldata for an ERC-20 totalSupply() read.
func TotalSupplyCallData() []byte {
	data := make([]byte, len(totalSupplySelector))
	copy(data, totalSupplySelector)
	return data
}

// DecodeUint256 interprets a 32-byte ABI word as an unsigned integer.
func DecodeUint256(word []byte) (*big.Int, bool) {
	if len(word) != 32 {
		return nil, false
	}
	return new(big.Int).SetBytes(word), true
}

// CalldataArg extracts the zero-based static ABI argument slot from
// calldata (selector included). Returns false if the slot is out of range.
func CalldataArg(input []byte, arg int) ([]byte, bool) {
	start := 4 + 32*arg
	if arg < 0 || len(input) < start+32 {
		return nil, false
	}
	return input[start : start+32], true
}
