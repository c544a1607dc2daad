// Package discovery finds historical calls to the lending contract whose
// selectors the method catalog tracks. The primary strategy pages through
// a block-explorer index; the fallback scans chain logs in bounded block
// windows directly against the node.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
	"lenderscan/internal/evm"
	"lenderscan/internal/methods"
	"lenderscan/internal/observability"
	"lenderscan/internal/scanapi"
)

// Default discovery tuning.
const (
	DefaultPageSize      = 200
	DefaultWindowSize    = 3000
	DefaultWindowTxCap   = 25
	DefaultWindowDelay   = 200 * time.Millisecond
	DefaultBlockTime     = 2 * time.Second
	DefaultPageRetries   = 3
	DefaultPageRetryBase = 1 * time.Second
)

// IndexLister is the paginated transaction index. *scanapi.Client
// implements it.
type IndexLister interface {
	ListTransactions(ctx context.Context, address string, startBlock, endBlock uint64, page, offset int) ([]scanapi.IndexTransaction, error)
}

// Progress reports incremental discovery progress to the caller.
type Progress struct {
	// Strategy is "index" or "scan".
	Strategy string
	// Fraction of the block range covered so far, in [0, 1].
	Fraction float64
	// Candidates found so far.
	Candidates int
}

// Discoverer locates candidate transactions for one target contract.
type Discoverer struct {
	index       IndexLister
	node        evm.NodeReader
	catalog     *methods.Catalog
	contract    common.Address
	pageSize    int
	windowSize  uint64
	windowTxCap int
	windowDelay time.Duration
	blockTime   time.Duration
	pageRetries int
	pageDelay   time.Duration
	onProgress  func(Progress)
	logger      *log.Logger
}

// Options configures a Discoverer. Index may be nil to force the windowed
// scan (explicitly disabled primary strategy).
type Options struct {
	Index       IndexLister
	Node        evm.NodeReader
	Catalog     *methods.Catalog
	Contract    common.Address
	PageSize    int
	WindowSize  uint64
	WindowTxCap int
	WindowDelay time.Duration
	BlockTime   time.Duration
	PageRetries int
	PageDelay   time.Duration
	OnProgress  func(Progress)
	Logger      *log.Logger
}

// New creates a Discoverer.
func New(opts Options) *Discoverer {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	windowSize := opts.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	windowTxCap := opts.WindowTxCap
	if windowTxCap == 0 {
		windowTxCap = DefaultWindowTxCap
	}
	windowDelay := opts.WindowDelay
	if windowDelay == 0 {
		windowDelay = DefaultWindowDelay
	}
	blockTime := opts.BlockTime
	if blockTime == 0 {
		blockTime = DefaultBlockTime
	}
	pageRetries := opts.PageRetries
	if pageRetries == 0 {
		pageRetries = DefaultPageRetries
	}
	pageDelay := opts.PageDelay
	if pageDelay == 0 {
		pageDelay = DefaultPageRetryBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Discoverer{
		index:       opts.Index,
		node:        opts.Node,
		catalog:     opts.Catalog,
		contract:    opts.Contract,
		pageSize:    pageSize,
		windowSize:  windowSize,
		windowTxCap: windowTxCap,
		windowDelay: windowDelay,
		blockTime:   blockTime,
		pageRetries: pageRetries,
		pageDelay:   pageDelay,
		onProgress:  opts.OnProgress,
		logger:      logger,
	}
}

// Discover returns all candidate transactions within the lookback window,
// chronologically ordered. A lookback <= 0 means full history.
func (d *Discoverer) Discover(ctx context.Context, lookback time.Duration) ([]domain.CandidateTransaction, error) {
	head, err := d.node.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain head: %w", err)
	}
	startBlock := d.lookbackStart(head, lookback)

	if d.index != nil {
		candidates, err := d.discoverViaIndex(ctx, startBlock, head)
		if err == nil {
			return d.finalize(candidates), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Printf("index discovery failed, falling back to windowed scan: %v", err)
	}

	candidates, err := d.scanWindows(ctx, startBlock, head)
	if err != nil {
		return nil, err
	}
	return d.finalize(candidates), nil
}

// lookbackStart converts the time lookback into a starting block number
// using the approximate chain block time.
func (d *Discoverer) lookbackStart(head uint64, lookback time.Duration) uint64 {
	if lookback <= 0 {
		return 0
	}
	blocks := uint64(lookback / d.blockTime)
	if blocks >= head {
		return 0
	}
	return head - blocks
}

// discoverViaIndex pages through the transaction index oldest first,
// keeping non-reverted calls with tracked selectors. A short page or an
// exhaustion signal terminates normally; transient page failures are
// retried a bounded number of times before failing the strategy.
func (d *Discoverer) discoverViaIndex(ctx context.Context, startBlock, head uint64) ([]domain.CandidateTransaction, error) {
	var candidates []domain.CandidateTransaction

	for page := 1; ; page++ {
		txs, err := d.fetchPage(ctx, startBlock, head, page)
		if errors.Is(err, scanapi.ErrExhausted) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		observability.RecordIndexPage()

		for _, tx := range txs {
			c, ok := d.candidateFromIndex(tx)
			if !ok {
				continue
			}
			candidates = append(candidates, c)
			observability.RecordCandidates("index", 1)
		}

		d.report(Progress{
			Strategy:   "index",
			Fraction:   pageFraction(txs, startBlock, head),
			Candidates: len(candidates),
		})

		if len(txs) < d.pageSize {
			break
		}
	}

	return candidates, nil
}

// fetchPage retries transient page failures with increasing delay.
func (d *Discoverer) fetchPage(ctx context.Context, startBlock, head uint64, page int) ([]scanapi.IndexTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < d.pageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.pageDelay * time.Duration(attempt)):
			}
		}

		txs, err := d.index.ListTransactions(ctx, d.contract.Hex(), startBlock, head, page, d.pageSize)
		if err == nil {
			return txs, nil
		}
		if errors.Is(err, scanapi.ErrExhausted) {
			return nil, err
		}
		if errors.Is(err, scanapi.ErrMalformedPayload) {
			// Wrong shape will not improve on retry.
			observability.RecordIndexPageError("malformed")
			return nil, err
		}
		lastErr = err
		observability.RecordIndexPageError("transient")
		d.logger.Printf("index page %d attempt %d failed: %v", page, attempt+1, err)
	}
	return nil, lastErr
}

// candidateFromIndex converts one index row, filtering reverted calls and
// untracked selectors.
func (d *Discoverer) candidateFromIndex(tx scanapi.IndexTransaction) (domain.CandidateTransaction, bool) {
	if tx.Reverted() {
		return domain.CandidateTransaction{}, false
	}
	if !common.IsHexAddress(tx.To) || common.HexToAddress(tx.To) != d.contract {
		return domain.CandidateTransaction{}, false
	}

	input := common.FromHex(tx.Input)
	spec, ok := d.catalog.LookupInput(input)
	if !ok {
		return domain.CandidateTransaction{}, false
	}

	block, err := tx.Block()
	if err != nil {
		return domain.CandidateTransaction{}, false
	}
	ts, err := tx.Time()
	if err != nil {
		ts = 0
	}

	return domain.CandidateTransaction{
		Hash:        common.HexToHash(tx.Hash),
		Sender:      common.HexToAddress(tx.From),
		Selector:    spec.Selector,
		Input:       input,
		BlockNumber: block,
		Timestamp:   ts,
	}, true
}

// scanWindows walks the block range in fixed windows, collecting logs from
// the contract, deduplicating their parent transactions and fetching a
// capped number of bodies per window. Window failures are logged and
// skipped.
func (d *Discoverer) scanWindows(ctx context.Context, startBlock, head uint64) ([]domain.CandidateTransaction, error) {
	var candidates []domain.CandidateTransaction
	seen := make(map[common.Hash]struct{})
	blockTimes := make(map[uint64]int64)

	total := head - startBlock + 1

	for from := startBlock; from <= head; from += d.windowSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		to := from + d.windowSize - 1
		if to > head {
			to = head
		}

		found, err := d.scanWindow(ctx, from, to, seen, blockTimes)
		if err != nil {
			observability.RecordWindowError()
			d.logger.Printf("window %d-%d failed, skipping: %v", from, to, err)
		} else {
			candidates = append(candidates, found...)
			observability.RecordWindowScanned()
			observability.RecordCandidates("scan", len(found))
		}

		d.report(Progress{
			Strategy:   "scan",
			Fraction:   float64(to-startBlock+1) / float64(total),
			Candidates: len(candidates),
		})

		if to == head {
			break
		}

		// Throttle between windows to respect node rate limits.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.windowDelay):
		}
	}

	return candidates, nil
}

func (d *Discoverer) scanWindow(ctx context.Context, from, to uint64, seen map[common.Hash]struct{}, blockTimes map[uint64]int64) ([]domain.CandidateTransaction, error) {
	logs, err := d.node.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{d.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}

	var candidates []domain.CandidateTransaction
	fetched := 0

	for _, lg := range logs {
		if _, dup := seen[lg.TxHash]; dup {
			continue
		}
		seen[lg.TxHash] = struct{}{}

		if fetched >= d.windowTxCap {
			break
		}
		fetched++

		tx, pending, err := d.node.TransactionByHash(ctx, lg.TxHash)
		if err != nil {
			d.logger.Printf("fetch tx %s: %v", lg.TxHash.Hex(), err)
			continue
		}
		if pending || tx.To() == nil || *tx.To() != d.contract {
			continue
		}

		spec, ok := d.catalog.LookupInput(tx.Data())
		if !ok {
			continue
		}

		sender, err := d.node.TransactionSender(ctx, tx, lg.BlockHash, lg.TxIndex)
		if err != nil {
			d.logger.Printf("sender of %s: %v", lg.TxHash.Hex(), err)
			continue
		}

		candidates = append(candidates, domain.CandidateTransaction{
			Hash:        lg.TxHash,
			Sender:      sender,
			Selector:    spec.Selector,
			Input:       tx.Data(),
			BlockNumber: lg.BlockNumber,
			Timestamp:   d.blockTimestamp(ctx, lg.BlockNumber, blockTimes),
		})
	}

	return candidates, nil
}

// blockTimestamp resolves a block's timestamp from its header, at most one
// lookup per block per scan. A failed lookup yields zero.
func (d *Discoverer) blockTimestamp(ctx context.Context, number uint64, cache map[uint64]int64) int64 {
	if ts, ok := cache[number]; ok {
		return ts
	}
	header, err := d.node.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		d.logger.Printf("header %d: %v", number, err)
		cache[number] = 0
		return 0
	}
	ts := int64(header.Time)
	cache[number] = ts
	return ts
}

// finalize assigns discovery-order indexes. Both strategies emit oldest
// first, so the index doubles as the chronological tiebreaker within a
// block.
func (d *Discoverer) finalize(candidates []domain.CandidateTransaction) []domain.CandidateTransaction {
	for i := range candidates {
		candidates[i].Index = i
	}
	return candidates
}

func (d *Discoverer) report(p Progress) {
	if d.onProgress != nil {
		d.onProgress(p)
	}
}

// pageFraction estimates index progress from the last block on the page.
func pageFraction(txs []scanapi.IndexTransaction, startBlock, head uint64) float64 {
	if len(txs) == 0 || head <= startBlock {
		return 1
	}
	last, err := txs[len(txs)-1].Block()
	if err != nil || last < startBlock {
		return 0
	}
	f := float64(last-startBlock) / float64(head-startBlock)
	if f > 1 {
		f = 1
	}
	return f
}
