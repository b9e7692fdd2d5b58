package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/movra/payout-manager/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// GormRepository implements PayoutRepository, CashFlowPostingRepository and
// Transactor on top of postgres
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new GORM repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// WithinTransaction runs fn in a database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (r *GormRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (r *GormRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

func (r *GormRepository) Insert(ctx context.Context, payout *model.Payout) error {
	row := fromPayoutModel(payout)
	if err := r.conn(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: payoutId=%s", model.ErrPayoutAlreadyExists, payout.PayoutID)
		}
		return fmt.Errorf("insert payout: %w: %w", model.ErrStorage, err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, payoutID string) (*model.Payout, error) {
	var row payoutRow
	if err := r.conn(ctx).Where("payout_id = ?", payoutID).First(&row).Error; err != nil {
		return nil, notFoundOrStorage(err, "get payout", payoutID)
	}
	return toPayoutModel(&row), nil
}

func (r *GormRepository) GetForUpdate(ctx context.Context, payoutID string) (*model.Payout, error) {
	var row payoutRow
	if err := r.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payout_id = ?", payoutID).
		First(&row).Error; err != nil {
		return nil, notFoundOrStorage(err, "lock payout", payoutID)
	}
	return toPayoutModel(&row), nil
}

func (r *GormRepository) ChangeStatus(ctx context.Context, payoutID string, status model.PayoutStatus, cancelDetails string) error {
	updates := map[string]any{
		"status":      string(status),
		"sequence_id": gorm.Expr("sequence_id + 1"),
		"updated_at":  time.Now().UTC(),
	}
	if status == model.PayoutStatusCancelled {
		updates["cancel_details"] = nullable(cancelDetails)
	}

	result := r.conn(ctx).Model(&payoutRow{}).Where("payout_id = ?", payoutID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("change payout status: %w: %w", model.ErrStorage, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: payout not found, payoutId=%s", model.ErrNotFound, payoutID)
	}
	return nil
}

func (r *GormRepository) Save(ctx context.Context, postings []model.CashFlowPosting) error {
	if len(postings) == 0 {
		return nil
	}
	rows := make([]cashFlowPostingRow, 0, len(postings))
	for _, p := range postings {
		rows = append(rows, fromPostingModel(p))
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("save cash flow postings: %w: %w", model.ErrStorage, err)
	}
	return nil
}

func (r *GormRepository) GetByPayoutID(ctx context.Context, payoutID string) ([]model.CashFlowPosting, error) {
	var rows []cashFlowPostingRow
	if err := r.conn(ctx).Where("payout_id = ?", payoutID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get cash flow postings: %w: %w", model.ErrStorage, err)
	}
	postings := make([]model.CashFlowPosting, 0, len(rows))
	for i := range rows {
		postings = append(postings, toPostingModel(&rows[i]))
	}
	return postings, nil
}

func notFoundOrStorage(err error, op, payoutID string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: payout not found, payoutId=%s", model.ErrNotFound, payoutID)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}
