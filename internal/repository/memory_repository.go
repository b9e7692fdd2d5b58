package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/movra/payout-manager/internal/model"
)

type memoryTxKey struct{}

// MemoryRepository is an in-process store used when no database is
// configured. Transactions are serialized and undone on error.
type MemoryRepository struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	payouts  map[string]model.Payout
	postings map[string][]model.CashFlowPosting
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		payouts:  make(map[string]model.Payout),
		postings: make(map[string][]model.CashFlowPosting),
	}
}

func (r *MemoryRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	payouts, postings := r.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.payouts = payouts
		r.postings = postings
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) snapshot() (map[string]model.Payout, map[string][]model.CashFlowPosting) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payouts := make(map[string]model.Payout, len(r.payouts))
	for k, v := range r.payouts {
		payouts[k] = v
	}
	postings := make(map[string][]model.CashFlowPosting, len(r.postings))
	for k, v := range r.postings {
		postings[k] = append([]model.CashFlowPosting(nil), v...)
	}
	return payouts, postings
}

func (r *MemoryRepository) Insert(ctx context.Context, payout *model.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payouts[payout.PayoutID]; ok {
		return fmt.Errorf("%w: payoutId=%s", model.ErrPayoutAlreadyExists, payout.PayoutID)
	}
	r.payouts[payout.PayoutID] = *payout
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, payoutID string) (*model.Payout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, fmt.Errorf("%w: payout not found, payoutId=%s", model.ErrNotFound, payoutID)
	}
	return &p, nil
}

// GetForUpdate relies on WithinTransaction serializing every transaction
func (r *MemoryRepository) GetForUpdate(ctx context.Context, payoutID string) (*model.Payout, error) {
	return r.Get(ctx, payoutID)
}

func (r *MemoryRepository) ChangeStatus(ctx context.Context, payoutID string, status model.PayoutStatus, cancelDetails string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payouts[payoutID]
	if !ok {
		return fmt.Errorf("%w: payout not found, payoutId=%s", model.ErrNotFound, payoutID)
	}
	p.Status = status
	p.SequenceID++
	if status == model.PayoutStatusCancelled {
		p.CancelDetails = cancelDetails
	}
	r.payouts[payoutID] = p
	return nil
}

func (r *MemoryRepository) Save(ctx context.Context, postings []model.CashFlowPosting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range postings {
		r.postings[p.PayoutID] = append(r.postings[p.PayoutID], p)
	}
	return nil
}

func (r *MemoryRepository) GetByPayoutID(ctx context.Context, payoutID string) ([]model.CashFlowPosting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]model.CashFlowPosting(nil), r.postings[payoutID]...), nil
}
