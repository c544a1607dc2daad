// Package report ranks the ledger into the externally visible result set.
package report

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/domain"
)

// Default reporting policy.
const (
	DefaultTopN     = 10
	DefaultDecimals = 18
)

// Reporter builds ResultSets from a ledger and a liquidity figure. Pure:
// the same inputs always produce the same output (given a fixed clock).
type Reporter struct {
	dust       *big.Int
	topN       int
	skipWallet func(common.Address) bool
	now        func() time.Time
}

// Options configures a Reporter.
type Options struct {
	// DustThreshold excludes balances below it. Defaults to one whole
	// asset unit (10^Decimals).
	DustThreshold *big.Int
	// Decimals is used to derive the default dust threshold.
	Decimals int
	// TopN caps the reported lender list. Defaults to 10.
	TopN int
	// SkipWallet excludes wallets for which it returns true (e.g. known
	// contract addresses). Nil keeps every wallet.
	SkipWallet func(common.Address) bool
}

// New creates a Reporter.
func New(opts Options) *Reporter {
	decimals := opts.Decimals
	if decimals == 0 {
		decimals = DefaultDecimals
	}
	dust := opts.DustThreshold
	if dust == nil {
		dust = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	}
	topN := opts.TopN
	if topN == 0 {
		topN = DefaultTopN
	}
	return &Reporter{
		dust:       dust,
		topN:       topN,
		skipWallet: opts.SkipWallet,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock for deterministic output.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Build filters dust, ranks by balance descending (ties keep discovery
// order), truncates to the top N and computes percentage shares. An empty
// list after filtering is a valid terminal state, not an error.
func (r *Reporter) Build(ledger *domain.WalletLedger, liquidity domain.LiquidityValue, token common.Address) domain.ResultSet {
	var records []domain.LenderRecord
	totalLent := new(big.Int)

	for _, wallet := range ledger.Wallets() {
		if r.skipWallet != nil && r.skipWallet(wallet) {
			continue
		}
		balance := ledger.Balance(wallet)
		if balance.Cmp(r.dust) < 0 {
			continue
		}
		totalLent.Add(totalLent, balance)
		records = append(records, domain.LenderRecord{
			Address: wallet,
			Balance: balance,
		})
	}

	// Stable: equal balances keep discovery order, the only defined
	// secondary ordering.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Balance.Cmp(records[j].Balance) > 0
	})

	if len(records) > r.topN {
		records = records[:r.topN]
	}

	for i := range records {
		records[i].PoolPercentage = poolPercentage(records[i].Balance, liquidity.Amount)
	}

	return domain.ResultSet{
		Lenders:            records,
		TotalLent:          totalLent,
		TotalPoolLiquidity: new(big.Int).Set(liquidity.Amount),
		LiquiditySource:    liquidity.Source,
		QueriedToken:       token,
		Timestamp:          r.now(),
	}
}

// poolPercentage computes balance/liquidity*100. Zero liquidity yields 0
// rather than a division error.
func poolPercentage(balance, liquidity *big.Int) float64 {
	if liquidity == nil || liquidity.Sign() == 0 {
		return 0
	}
	pct, _ := new(big.Rat).SetFrac(
		new(big.Int).Mul(balance, big.NewInt(100)),
		liquidity,
	).Float64()
	return pct
}
