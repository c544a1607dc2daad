package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// WalletLedger maps each wallet to its current outstanding balance.
// Balances are always >= 0; entries are driven to zero, never removed.
type WalletLedger struct {
	balances map[common.Address]*big.Int
	order    []common.Address // first-seen order, used for stable ranking ties
}

// NewWalletLedger creates an empty ledger.
func NewWalletLedger() *WalletLedger {
	return &WalletLedger{balances: make(map[common.Address]*big.Int)}
}

// Apply folds a signed amount into the wallet's balance, flooring at zero.
// Flooring happens per application: an over-repayment is truncated at the
// point it crosses zero, so a later borrow starts from zero, not from the
// discarded excess.
func (l *WalletLedger) Apply(wallet common.Address, amount *big.Int) {
	cur, ok := l.balances[wallet]
	if !ok {
		cur = new(big.Int)
		l.balances[wallet] = cur
		l.order = append(l.order, wallet)
	}
	cur.Add(cur, amount)
	if cur.Sign() < 0 {
		cur.SetInt64(0)
	}
}

// Balance returns the current balance for a wallet (zero if never seen).
func (l *WalletLedger) Balance(wallet common.Address) *big.Int {
	if cur, ok := l.balances[wallet]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

// Wallets returns all tracked wallets in first-seen order.
func (l *WalletLedger) Wallets() []common.Address {
	out := make([]common.Address, len(l.order))
	copy(out, l.order)
	return out
}

// Len returns the number of tracked wallets, including zero balances.
func (l *WalletLedger) Len() int {
	return len(l.balances)
}

// Total sums all balances.
func (l *WalletLedger) Total() *big.Int {
	total := new(big.Int)
	for _, b := range l.balances {
		total.Add(total, b)
	}
	return total
}
