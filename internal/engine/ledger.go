// Package engine hosts the supervisor that owns the per-symbol workers,
// the shared cash ledger, and the heartbeat reporter.
package engine

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger is the engine-wide cash balance. Every symbol worker debits
// margin from it before placing an entry and credits released margin
// plus realized PnL after a close. Debit is check-and-reserve in one
// critical section so two workers cannot spend the same cash.
type Ledger struct {
	mu   sync.Mutex
	cash decimal.Decimal
}

// NewLedger creates a ledger with the given opening balance.
func NewLedger(opening decimal.Decimal) *Ledger {
	return &Ledger{cash: opening}
}

// Available returns the current free balance. The value may be stale
// by the time the caller acts on it; use Debit to reserve.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Debit atomically reserves amount if the balance covers it.
func (l *Ledger) Debit(amount decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cash.LessThan(amount) {
		return false
	}
	l.cash = l.cash.Sub(amount)
	return true
}

// Credit returns amount to the balance.
func (l *Ledger) Credit(amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = l.cash.Add(amount)
}
