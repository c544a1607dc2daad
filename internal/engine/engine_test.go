package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lenderscan/internal/discovery"
	"lenderscan/internal/evm"
	"lenderscan/internal/liquidity"
	"lenderscan/internal/methods"
	"lenderscan/internal/report"
	"lenderscan/internal/resolve"
	"lenderscan/internal/scanapi"
	"lenderscan/internal/storage"
	"lenderscan/internal/storage/memory"
)

var (
	contract = common.HexToAddress("0x70E6a36bb71549C78Cd9c9f660B0f67B13B3f772")
	asset    = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	walletA  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	walletB  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// callInput builds calldata for a catalog method with the amount in slot 1.
func callInput(selector [4]byte, amount int64) string {
	input := make([]byte, 4+32*5)
	copy(input, selector[:])
	big.NewInt(amount).FillBytes(input[4+32 : 4+64])
	return "0x" + common.Bytes2Hex(input)
}

func transferLog(from, to common.Address, amount int64) *types.Log {
	data := make([]byte, 32)
	big.NewInt(amount).FillBytes(data)
	return &types.Log{
		Address: asset,
		Topics: []common.Hash{
			evm.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}
}

// fakeIndex serves one scripted page then reports exhaustion.
type fakeIndex struct {
	page []scanapi.IndexTransaction
}

func (f *fakeIndex) ListTransactions(_ context.Context, _ string, _, _ uint64, page, _ int) ([]scanapi.IndexTransaction, error) {
	if page != 1 || len(f.page) == 0 {
		return nil, scanapi.ErrExhausted
	}
	return f.page, nil
}

// blockingIndex parks until the context expires.
type blockingIndex struct{}

func (blockingIndex) ListTransactions(ctx context.Context, _ string, _, _ uint64, _, _ int) ([]scanapi.IndexTransaction, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeNode serves receipts and the liquidity call from fixtures.
type fakeNode struct {
	head        uint64
	receipts    map[common.Hash]*types.Receipt
	supply      int64
	supplyErr   error
	supplyCalls int
}

var _ evm.NodeReader = (*fakeNode)(nil)

func (f *fakeNode) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeNode) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1700000000}, nil
}

func (f *fakeNode) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeNode) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, fmt.Errorf("tx %s not found", hash.Hex())
}

func (f *fakeNode) TransactionSender(context.Context, *types.Transaction, common.Hash, uint) (common.Address, error) {
	return common.Address{}, errors.New("unknown sender")
}

func (f *fakeNode) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, errors.New("receipt not found")
	}
	return r, nil
}

func (f *fakeNode) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	f.supplyCalls++
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	out := make([]byte, 32)
	big.NewInt(f.supply).FillBytes(out)
	return out, nil
}

// newEngine wires real pipeline stages over the fakes.
func newEngine(index discovery.IndexLister, node *fakeNode, runs storage.RunStore) *Engine {
	quiet := log.New(nopWriter{}, "", 0)
	catalog := methods.Default()

	return New(Options{
		Discoverer: discovery.New(discovery.Options{
			Index:     index,
			Node:      node,
			Catalog:   catalog,
			Contract:  contract,
			PageSize:  10,
			PageDelay: time.Millisecond,
			Logger:    quiet,
		}),
		Resolver: resolve.New(resolve.Options{
			Node:    node,
			Catalog: catalog,
			Asset:   asset,
			Logger:  quiet,
		}),
		Liquidity: liquidity.New(liquidity.Options{
			Node:     node,
			Asset:    asset,
			Fallback: big.NewInt(10_000),
			Logger:   quiet,
		}),
		Reporter: report.New(report.Options{
			DustThreshold: big.NewInt(1),
		}),
		Runs:    runs,
		Timeout: 5 * time.Second,
		Logger:  quiet,
	})
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

var (
	borrowSel = [4]byte{0xa4, 0x15, 0xbc, 0xad}
	repaySel  = [4]byte{0x57, 0x3a, 0xde, 0x81}
)

// threeTxPage covers all three resolution shapes: a transfer-backed
// borrow, a calldata-only borrow and an over-repay that floors at zero.
func threeTxPage() ([]scanapi.IndexTransaction, map[common.Hash]*types.Receipt) {
	page := []scanapi.IndexTransaction{
		{Hash: common.Hash{1}.Hex(), From: walletA.Hex(), To: contract.Hex(), Input: callInput(borrowSel, 500), BlockNumber: "100", TimeStamp: "1700000000", IsError: "0", TxReceiptStatus: "1"},
		{Hash: common.Hash{2}.Hex(), From: walletB.Hex(), To: contract.Hex(), Input: callInput(borrowSel, 300), BlockNumber: "101", TimeStamp: "1700000002", IsError: "0", TxReceiptStatus: "1"},
		{Hash: common.Hash{3}.Hex(), From: walletA.Hex(), To: contract.Hex(), Input: callInput(repaySel, 600), BlockNumber: "102", TimeStamp: "1700000004", IsError: "0", TxReceiptStatus: "1"},
	}
	receipts := map[common.Hash]*types.Receipt{
		{1}: {Logs: []*types.Log{transferLog(contract, walletA, 500)}},
		{2}: {Logs: nil}, // no asset movement: calldata fallback
		{3}: {Logs: []*types.Log{transferLog(walletA, contract, 600)}},
	}
	return page, receipts
}

func TestRun_EndToEnd(t *testing.T) {
	page, receipts := threeTxPage()
	node := &fakeNode{head: 200, receipts: receipts, supply: 10_000}
	runs := memory.NewRunStore()
	e := newEngine(&fakeIndex{page: page}, node, runs)

	res, err := e.Run(context.Background(), asset, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 3, res.Deltas)

	// Wallet A borrowed 500 and repaid 600: floored to zero, filtered as
	// dust. Wallet B's calldata borrow of 300 is the only lender left.
	require.Len(t, res.Result.Lenders, 1)
	lender := res.Result.Lenders[0]
	assert.Equal(t, walletB, lender.Address)
	assert.Equal(t, int64(300), lender.Balance.Int64())
	assert.InDelta(t, 3.0, lender.PoolPercentage, 0.001)

	assert.Equal(t, int64(300), res.Result.TotalLent.Int64())
	assert.Equal(t, int64(10_000), res.Result.TotalPoolLiquidity.Int64())
	assert.Equal(t, "live", string(res.Result.LiquiditySource))
	assert.Equal(t, asset, res.Result.QueriedToken)
}

func TestRun_ArchivesResult(t *testing.T) {
	page, receipts := threeTxPage()
	node := &fakeNode{head: 200, receipts: receipts, supply: 10_000}
	runs := memory.NewRunStore()
	e := newEngine(&fakeIndex{page: page}, node, runs)

	res, err := e.Run(context.Background(), asset, 0)
	require.NoError(t, err)
	require.Len(t, res.RunID, 64)

	archived, err := runs.GetByID(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, archived.RunID)
	assert.Equal(t, asset, archived.Result.QueriedToken)
	require.Len(t, archived.Result.Lenders, 1)
	assert.Equal(t, int64(300), archived.Result.Lenders[0].Balance.Int64())
}

func TestRun_LiquidityFallback(t *testing.T) {
	page, receipts := threeTxPage()
	node := &fakeNode{head: 200, receipts: receipts, supplyErr: errors.New("execution reverted")}
	e := newEngine(&fakeIndex{page: page}, node, nil)

	res, err := e.Run(context.Background(), asset, 0)
	require.NoError(t, err)

	assert.Equal(t, "fallback", string(res.Result.LiquiditySource))
	assert.Equal(t, int64(10_000), res.Result.TotalPoolLiquidity.Int64())
	require.Len(t, res.Result.Lenders, 1)
	assert.InDelta(t, 3.0, res.Result.Lenders[0].PoolPercentage, 0.001)
}

func TestRun_NoActivityIsValid(t *testing.T) {
	node := &fakeNode{head: 200, supply: 10_000}
	e := newEngine(&fakeIndex{}, node, nil)

	res, err := e.Run(context.Background(), asset, 0)
	require.NoError(t, err)

	assert.Zero(t, res.Candidates)
	assert.Empty(t, res.Result.Lenders)
	assert.Equal(t, int64(0), res.Result.TotalLent.Int64())
}

func TestRun_DeadlineSurfacesTimeout(t *testing.T) {
	node := &fakeNode{head: 200}
	e := newEngine(blockingIndex{}, node, nil)
	e.timeout = 50 * time.Millisecond

	_, err := e.Run(context.Background(), asset, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunTimeout)
}
