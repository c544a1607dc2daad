// Package resolve turns candidate transactions into signed balance deltas.
// Transfer-event reconciliation from the receipt is preferred because it
// reflects what actually moved on-chain; decoding the call input is the
// fallback when no relevant transfers can be correlated.
package resolve

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"lenderscan/internal/domain"
	"lenderscan/internal/evm"
	"lenderscan/internal/methods"
	"lenderscan/internal/observability"
)

// ReceiptFetcher is the node read the resolver needs. evm.NodeReader and
// *ethclient.Client satisfy it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Resolver resolves the signed monetary delta of candidate transactions.
type Resolver struct {
	node    ReceiptFetcher
	catalog *methods.Catalog
	asset   common.Address
	cache   *lru.Cache[common.Hash, domain.SignedDelta]
	logger  *log.Logger
}

// Options configures a Resolver.
type Options struct {
	Node    ReceiptFetcher
	Catalog *methods.Catalog
	// Asset is the settlement asset whose transfers are reconciled.
	Asset common.Address
	// CacheSize bounds the resolved-delta cache. Zero disables caching;
	// watch mode re-resolves recent transactions and benefits from it.
	CacheSize int
	Logger    *log.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	var cache *lru.Cache[common.Hash, domain.SignedDelta]
	if opts.CacheSize > 0 {
		cache, _ = lru.New[common.Hash, domain.SignedDelta](opts.CacheSize)
	}

	return &Resolver{
		node:    opts.Node,
		catalog: opts.Catalog,
		asset:   opts.Asset,
		cache:   cache,
		logger:  logger,
	}
}

// Resolve determines the signed delta for one transaction. A nil result
// with nil error means the transaction is unresolvable and dropped; this
// never aborts a run.
func (r *Resolver) Resolve(ctx context.Context, tx domain.CandidateTransaction) (*domain.SignedDelta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(tx.Hash); ok {
			d := cached
			d.Amount = new(big.Int).Set(cached.Amount)
			return &d, nil
		}
	}

	delta := r.fromTransfers(ctx, tx)
	if delta == nil {
		delta = r.fromCalldata(tx)
	}
	if delta == nil {
		observability.RecordCandidateDropped()
		r.logger.Printf("tx %s: no transfer events and undecodable input, dropping", tx.Hash.Hex())
		return nil, nil
	}
	observability.RecordDeltaResolved(string(delta.Source))

	if r.cache != nil {
		cached := *delta
		cached.Amount = new(big.Int).Set(delta.Amount)
		r.cache.Add(tx.Hash, cached)
	}
	return delta, nil
}

// fromTransfers reconciles the settlement asset's transfer events against
// the transaction sender: received minus sent. Positive means the
// outstanding balance grew. A definite zero (asset moved both ways in
// equal amounts) is still a result.
func (r *Resolver) fromTransfers(ctx context.Context, tx domain.CandidateTransaction) *domain.SignedDelta {
	start := time.Now()
	receipt, err := r.node.TransactionReceipt(ctx, tx.Hash)
	observability.RecordRPCLatency("eth_getTransactionReceipt", time.Since(start).Seconds())
	if err != nil {
		r.logger.Printf("tx %s: receipt unavailable: %v", tx.Hash.Hex(), err)
		return nil
	}

	net := new(big.Int)
	touched := false

	for _, lg := range receipt.Logs {
		if lg == nil {
			continue
		}
		ev, ok := evm.ParseTransferLog(*lg)
		if !ok || ev.Token != r.asset {
			continue
		}
		if ev.To == tx.Sender {
			net.Add(net, ev.Amount)
			touched = true
		}
		if ev.From == tx.Sender {
			net.Sub(net, ev.Amount)
			touched = true
		}
	}

	if !touched {
		return nil
	}

	return &domain.SignedDelta{
		Wallet:      tx.Sender,
		Amount:      net,
		Source:      domain.DeltaSourceTransfer,
		BlockNumber: tx.BlockNumber,
		Index:       tx.Index,
	}
}

// fromCalldata decodes the amount from the input slot named by the method
// catalog and applies the method's fixed sign.
func (r *Resolver) fromCalldata(tx domain.CandidateTransaction) *domain.SignedDelta {
	spec, ok := r.catalog.Lookup(tx.Selector)
	if !ok {
		return nil
	}

	word, ok := evm.CalldataArg(tx.Input, spec.AmountArg)
	if !ok {
		return nil
	}
	amount, ok := evm.DecodeUint256(word)
	if !ok {
		return nil
	}

	if spec.Sign == methods.Decrease {
		amount.Neg(amount)
	}

	return &domain.SignedDelta{
		Wallet:      tx.Sender,
		Amount:      amount,
		Source:      domain.DeltaSourceCalldata,
		BlockNumber: tx.BlockNumber,
		Index:       tx.Index,
	}
}
