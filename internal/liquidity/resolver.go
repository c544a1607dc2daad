// Package liquidity fetches total pool liquidity, the denominator for
// percentage shares. Liquidity is not ledger-critical, so a failed read
// falls back to a documented constant instead of failing the run.
package liquidity

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
	"lenderscan/internal/evm"
	"lenderscan/internal/observability"
)

// FallbackWholeUnits is the liquidity assumed when the live read fails,
// expressed in whole asset units (scaled by decimals at construction).
const FallbackWholeUnits = 10_000_000

// ContractCaller is the read-only call the resolver needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Resolver reads total liquidity of the settlement asset.
type Resolver struct {
	node     ContractCaller
	asset    common.Address
	decimals int
	fallback *big.Int
	logger   *log.Logger
}

// Options configures a Resolver.
type Options struct {
	Node  ContractCaller
	Asset common.Address
	// Decimals of the settlement asset; defaults to 18.
	Decimals int
	// Fallback overrides the default fallback constant, in base units.
	Fallback *big.Int
	Logger   *log.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	decimals := opts.Decimals
	if decimals == 0 {
		decimals = 18
	}
	fallback := opts.Fallback
	if fallback == nil {
		unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		fallback = new(big.Int).Mul(big.NewInt(FallbackWholeUnits), unit)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		node:     opts.Node,
		asset:    opts.Asset,
		decimals: decimals,
		fallback: fallback,
		logger:   logger,
	}
}

// TotalLiquidity attempts one totalSupply() read of the settlement asset.
// The returned value is tagged with its source so callers and tests can
// tell a live figure from the fallback.
func (r *Resolver) TotalLiquidity(ctx context.Context) domain.LiquidityValue {
	data := evm.TotalSupplyCallData()
	start := time.Now()
	out, err := r.node.CallContract(ctx, ethereum.CallMsg{To: &r.asset, Data: data}, nil)
	observability.RecordRPCLatency("eth_call", time.Since(start).Seconds())
	if err != nil {
		r.logger.Printf("liquidity read failed, using fallback constant: %v", err)
		return r.fallbackValue()
	}

	supply, ok := evm.DecodeUint256(out)
	if !ok {
		r.logger.Printf("liquidity read returned %d bytes, using fallback constant", len(out))
		return r.fallbackValue()
	}

	return domain.LiquidityValue{
		Amount: supply,
		Source: domain.LiquidityLive,
	}
}

func (r *Resolver) fallbackValue() domain.LiquidityValue {
	return domain.LiquidityValue{
		Amount: new(big.Int).Set(r.fallback),
		Source: domain.LiquidityFallback,
	}
}
