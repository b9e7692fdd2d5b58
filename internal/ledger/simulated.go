package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/movra/payout-manager/internal/model"
)

type planState int

const (
	planHeld planState = iota
	planCommitted
	planRolledBack
)

type plan struct {
	state   planState
	batches map[int64]PostingBatch
}

// SimulatedLedger is an in-memory ledger for development and tests. Holds
// reserve outgoing amounts; commits move them between accounts.
type SimulatedLedger struct {
	mu          sync.Mutex
	balances    map[int64]int64
	currencies  map[int64]string
	plans       map[string]*plan
	failureRate int // percentage 0-100
}

// NewSimulatedLedger creates a ledger with the given opening balances
func NewSimulatedLedger(balances map[int64]int64, failureRate int) *SimulatedLedger {
	l := &SimulatedLedger{
		balances:    make(map[int64]int64, len(balances)),
		currencies:  make(map[int64]string),
		plans:       make(map[string]*plan),
		failureRate: failureRate,
	}
	for id, amount := range balances {
		l.balances[id] = amount
	}
	return l
}

func (l *SimulatedLedger) Hold(ctx context.Context, planID string, batch PostingBatch) (map[int64]Account, error) {
	if err := l.checkAvailable(ctx); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.plans[planID]
	if !ok {
		p = &plan{state: planHeld, batches: make(map[int64]PostingBatch)}
		l.plans[planID] = p
	}
	if p.state != planHeld {
		return nil, fmt.Errorf("%w: plan %s is already closed", model.ErrDependencyRejected, planID)
	}
	p.batches[batch.ID] = batch

	affected := make(map[int64]Account)
	for _, posting := range batch.Postings {
		l.currencies[posting.FromID] = posting.CurrencySymCode
		l.currencies[posting.ToID] = posting.CurrencySymCode
		affected[posting.FromID] = l.account(posting.FromID)
		affected[posting.ToID] = l.account(posting.ToID)
	}
	return affected, nil
}

func (l *SimulatedLedger) Commit(ctx context.Context, planID string, batches []PostingBatch) error {
	if err := l.checkAvailable(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.plans[planID]
	if !ok {
		return fmt.Errorf("%w: plan %s not found", model.ErrDependencyRejected, planID)
	}
	switch p.state {
	case planCommitted:
		return nil
	case planRolledBack:
		return fmt.Errorf("%w: plan %s is rolled back", model.ErrDependencyRejected, planID)
	}

	for _, batch := range batches {
		if _, ok := p.batches[batch.ID]; !ok {
			return fmt.Errorf("%w: batch %d of plan %s was not held", model.ErrDependencyRejected, batch.ID, planID)
		}
	}
	for _, batch := range p.batches {
		for _, posting := range batch.Postings {
			l.balances[posting.FromID] -= posting.Amount
			l.balances[posting.ToID] += posting.Amount
		}
	}
	p.state = planCommitted
	return nil
}

// Rollback releases a held plan. Rolling back an unknown plan is a no-op.
func (l *SimulatedLedger) Rollback(ctx context.Context, planID string, batches []PostingBatch) error {
	if err := l.checkAvailable(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.plans[planID]
	if !ok {
		return nil
	}
	if p.state == planCommitted {
		return fmt.Errorf("%w: plan %s is already committed", model.ErrDependencyRejected, planID)
	}
	p.state = planRolledBack
	return nil
}

// Balance returns the committed balance of an account
func (l *SimulatedLedger) Balance(accountID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID]
}

// account must be called with mu held
func (l *SimulatedLedger) account(id int64) Account {
	own := l.balances[id]
	var outgoing, incoming int64
	for _, p := range l.plans {
		if p.state != planHeld {
			continue
		}
		for _, batch := range p.batches {
			for _, posting := range batch.Postings {
				if posting.FromID == id {
					outgoing += posting.Amount
				}
				if posting.ToID == id {
					incoming += posting.Amount
				}
			}
		}
	}
	return Account{
		ID:                 id,
		OwnAmount:          own,
		MinAvailableAmount: own - outgoing,
		MaxAvailableAmount: own + incoming,
		CurrencySymCode:    l.currencies[id],
	}
}

func (l *SimulatedLedger) checkAvailable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, err)
	}
	if l.failureRate <= 0 {
		return nil
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(100))
	if int(n.Int64()) < l.failureRate {
		return fmt.Errorf("%w: simulated ledger outage", model.ErrDependencyUnavailable)
	}
	return nil
}
