package resolve

import (
	"context"
	"errors"
	"log"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"lenderscan/internal/domain"
	"lenderscan/internal/evm"
	"lenderscan/internal/methods"
)

var (
	asset    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	pool     = common.HexToAddress("0x70E6a36bb71549C78Cd9c9f660B0f67B13B3f772")
	borrower = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type fakeReceipts struct {
	receipts map[common.Hash]*types.Receipt
	err      error
	calls    atomic.Int64
}

func (f *fakeReceipts) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, errors.New("receipt not found")
	}
	return r, nil
}

func transferLog(token, from, to common.Address, amount int64) *types.Log {
	data := make([]byte, 32)
	big.NewInt(amount).FillBytes(data)
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			evm.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}
}

func borrowCandidate(hash byte, amount int64) domain.CandidateTransaction {
	input := make([]byte, 4+32*5)
	copy(input, []byte{0xa4, 0x15, 0xbc, 0xad})
	big.NewInt(amount).FillBytes(input[4+32 : 4+64])
	return domain.CandidateTransaction{
		Hash:        common.Hash{hash},
		Sender:      borrower,
		Selector:    [4]byte{0xa4, 0x15, 0xbc, 0xad},
		Input:       input,
		BlockNumber: 100,
	}
}

func repayCandidate(hash byte, amount int64) domain.CandidateTransaction {
	input := make([]byte, 4+32*4)
	copy(input, []byte{0x57, 0x3a, 0xde, 0x81})
	big.NewInt(amount).FillBytes(input[4+32 : 4+64])
	return domain.CandidateTransaction{
		Hash:        common.Hash{hash},
		Sender:      borrower,
		Selector:    [4]byte{0x57, 0x3a, 0xde, 0x81},
		Input:       input,
		BlockNumber: 101,
	}
}

func newResolver(node ReceiptFetcher, cacheSize int) *Resolver {
	return New(Options{
		Node:      node,
		Catalog:   methods.Default(),
		Asset:     asset,
		CacheSize: cacheSize,
		Logger:    log.New(noopWriter{}, "", 0),
	})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestResolve_PrefersTransferReconciliation(t *testing.T) {
	tx := borrowCandidate(1, 700) // calldata says 700

	// Receipt says 650 actually reached the sender.
	node := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		tx.Hash: {Logs: []*types.Log{
			transferLog(asset, pool, borrower, 650),
		}},
	}}

	delta, err := newResolver(node, 0).Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, delta)
	require.Equal(t, domain.DeltaSourceTransfer, delta.Source)
	require.Equal(t, int64(650), delta.Amount.Int64())
	require.Equal(t, borrower, delta.Wallet)
}

func TestResolve_NetsBidirectionalTransfers(t *testing.T) {
	tx := repayCandidate(2, 500)

	// Sender repays 500 and gets 20 refunded.
	node := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		tx.Hash: {Logs: []*types.Log{
			transferLog(asset, borrower, pool, 500),
			transferLog(asset, pool, borrower, 20),
		}},
	}}

	delta, err := newResolver(node, 0).Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, delta)
	require.Equal(t, int64(-480), delta.Amount.Int64())
}

func TestResolve_DefiniteZeroIsAResult(t *testing.T) {
	tx := borrowCandidate(3, 100)

	node := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		tx.Hash: {Logs: []*types.Log{
			transferLog(asset, pool, borrower, 50),
			transferLog(asset, borrower, pool, 50),
		}},
	}}

	delta, err := newResolver(node, 0).Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, delta)
	require.Equal(t, domain.DeltaSourceTransfer, delta.Source)
	require.Equal(t, int64(0), delta.Amount.Int64())
}

func TestResolve_CalldataFallbackWhenReceiptUnavailable(t *testing.T) {
	node := &fakeReceipts{err: errors.New("receipt fetch failed")}

	delta, err := newResolver(node, 0).Resolve(context.Background(), borrowCandidate(4, 700))
	require.NoError(t, err)
	require.NotNil(t, delta)
	require.Equal(t, domain.DeltaSourceCalldata, delta.Source)
	require.Equal(t, int64(700), delta.Amount.Int64())
}

func TestResolve_CalldataFallbackAppliesSign(t *testing.T) {
	node := &fakeReceipts{err: errors.New("receipt fetch failed")}

	delta, err := newResolver(node, 0).Resolve(context.Background(), repayCandidate(5, 500))
	require.NoError(t, err)
	require.NotNil(t, delta)
	require.Equal(t, int64(-500), delta.Amount.Int64())
}

func TestResolve_OtherTokenTransfersIgnored(t *testing.T) {
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	tx := borrowCandidate(6, 700)

	node := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		tx.Hash: {Logs: []*types.Log{
			transferLog(other, pool, borrower, 650),
		}},
	}}

	delta, err := newResolver(node, 0).Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.NotNil(t, delta)
	// No settlement-asset movement: falls back to calldata.
	require.Equal(t, domain.DeltaSourceCalldata, delta.Source)
	require.Equal(t, int64(700), delta.Amount.Int64())
}

func TestResolve_UnresolvableIsDroppedWithoutError(t *testing.T) {
	node := &fakeReceipts{err: errors.New("receipt fetch failed")}

	tx := domain.CandidateTransaction{
		Hash:     common.Hash{7},
		Sender:   borrower,
		Selector: [4]byte{0xde, 0xad, 0xbe, 0xef},
		Input:    []byte{0xde, 0xad, 0xbe, 0xef},
	}

	delta, err := newResolver(node, 0).Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.Nil(t, delta)
}

func TestResolve_CacheSkipsRefetch(t *testing.T) {
	tx := borrowCandidate(8, 700)
	node := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		tx.Hash: {Logs: []*types.Log{transferLog(asset, pool, borrower, 650)}},
	}}

	r := newResolver(node, 16)

	first, err := r.Resolve(context.Background(), tx)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), tx)
	require.NoError(t, err)

	require.Equal(t, int64(1), node.calls.Load())
	require.Equal(t, 0, first.Amount.Cmp(second.Amount))

	// Cached amounts must be independent copies.
	second.Amount.SetInt64(-1)
	third, err := r.Resolve(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, int64(650), third.Amount.Int64())
}

func TestResolveAll_KeepsCandidateOrderAndDropsNil(t *testing.T) {
	good1 := borrowCandidate(10, 100)
	bad := domain.CandidateTransaction{
		Hash:     common.Hash{11},
		Sender:   borrower,
		Selector: [4]byte{0xde, 0xad, 0xbe, 0xef},
		Input:    []byte{0xde, 0xad, 0xbe, 0xef},
	}
	good2 := repayCandidate(12, 30)

	node := &fakeReceipts{err: errors.New("no receipts")}
	r := newResolver(node, 0)

	deltas, err := r.ResolveAll(context.Background(), []domain.CandidateTransaction{good1, bad, good2}, 4)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	require.Equal(t, int64(100), deltas[0].Amount.Int64())
	require.Equal(t, int64(-30), deltas[1].Amount.Int64())
}

func TestResolveAll_CancelledContext(t *testing.T) {
	node := &fakeReceipts{err: errors.New("no receipts")}
	r := newResolver(node, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveAll(ctx, []domain.CandidateTransaction{borrowCandidate(13, 1)}, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveAll_Empty(t *testing.T) {
	r := newResolver(&fakeReceipts{}, 0)
	deltas, err := r.ResolveAll(context.Background(), nil, 4)
	require.NoError(t, err)
	require.Empty(t, deltas)
}
