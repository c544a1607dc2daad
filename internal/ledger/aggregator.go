// Package ledger folds signed deltas into per-wallet outstanding balances.
package ledger

import (
	"sort"

	"lenderscan/internal/domain"
)

// SortChronological orders deltas by block number, breaking ties with the
// discovery index. Resolution may run in parallel; aggregation must replay
// deltas in this stable order before folding.
func SortChronological(deltas []domain.SignedDelta) {
	sort.SliceStable(deltas, func(i, j int) bool {
		if deltas[i].BlockNumber != deltas[j].BlockNumber {
			return deltas[i].BlockNumber < deltas[j].BlockNumber
		}
		return deltas[i].Index < deltas[j].Index
	})
}

// Aggregate folds deltas into a fresh ledger, flooring each wallet at zero
// after every application. Flooring must happen incrementally: a
// full-repay-then-reborrow sequence loses the over-repaid excess exactly
// once, which a floor of the final sum would not reproduce.
func Aggregate(deltas []domain.SignedDelta) *domain.WalletLedger {
	SortChronological(deltas)

	l := domain.NewWalletLedger()
	for _, d := range deltas {
		l.Apply(d.Wallet, d.Amount)
	}
	return l
}
