package engine

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLedgerDebitChecksBalance(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(100))

	assert.True(t, l.Debit(decimal.NewFromInt(60)))
	assert.False(t, l.Debit(decimal.NewFromInt(60)))
	assert.True(t, l.Available().Equal(decimal.NewFromInt(40)))

	l.Credit(decimal.NewFromInt(25))
	assert.True(t, l.Available().Equal(decimal.NewFromInt(65)))
}

func TestLedgerNeverOverspendsUnderContention(t *testing.T) {
	l := NewLedger(decimal.NewFromInt(1000))
	unit := decimal.NewFromInt(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Debit(unit) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 1000 / 10 = exactly 100 grants, no matter the interleaving.
	assert.Equal(t, 100, granted)
	assert.True(t, l.Available().IsZero())
}
