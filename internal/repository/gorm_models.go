package repository

import (
	"time"

	"github.com/movra/payout-manager/internal/model"
	"gorm.io/gorm"
)

type payoutRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	PayoutID       string    `gorm:"type:varchar(64);not null;uniqueIndex"`
	SequenceID     int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	PartyID        string    `gorm:"type:varchar(64);not null;index:idx_payout_party_shop"`
	ShopID         string    `gorm:"type:varchar(64);not null;index:idx_payout_party_shop"`
	Status         string    `gorm:"type:varchar(20);not null"`
	PayoutToolID   string    `gorm:"type:varchar(64);not null"`
	PayoutToolKind string    `gorm:"type:varchar(32);not null"`
	WalletID       *string   `gorm:"type:varchar(64)"`
	Amount         int64     `gorm:"not null"`
	Fee            int64     `gorm:"not null"`
	CurrencyCode   string    `gorm:"type:varchar(3);not null"`
	CancelDetails  *string   `gorm:"type:text"`
}

func (payoutRow) TableName() string {
	return "payouts"
}

func (p *payoutRow) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	return nil
}

type cashFlowPostingRow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	PayoutID        string    `gorm:"type:varchar(64);not null;index"`
	FromAccountID   int64     `gorm:"not null"`
	FromAccountType string    `gorm:"type:varchar(32);not null"`
	ToAccountID     int64     `gorm:"not null"`
	ToAccountType   string    `gorm:"type:varchar(32);not null"`
	Amount          int64     `gorm:"not null"`
	CurrencyCode    string    `gorm:"type:varchar(3);not null"`
	Description     string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (cashFlowPostingRow) TableName() string {
	return "cash_flow_postings"
}

func toPayoutModel(r *payoutRow) *model.Payout {
	p := &model.Payout{
		PayoutID:       r.PayoutID,
		SequenceID:     r.SequenceID,
		CreatedAt:      r.CreatedAt.UTC(),
		PartyID:        r.PartyID,
		ShopID:         r.ShopID,
		Status:         model.PayoutStatus(r.Status),
		PayoutToolID:   r.PayoutToolID,
		PayoutToolKind: model.PayoutToolKind(r.PayoutToolKind),
		Amount:         r.Amount,
		Fee:            r.Fee,
		CurrencyCode:   r.CurrencyCode,
	}
	if r.WalletID != nil {
		p.WalletID = *r.WalletID
	}
	if r.CancelDetails != nil {
		p.CancelDetails = *r.CancelDetails
	}
	return p
}

func fromPayoutModel(p *model.Payout) *payoutRow {
	return &payoutRow{
		PayoutID:       p.PayoutID,
		SequenceID:     p.SequenceID,
		CreatedAt:      p.CreatedAt,
		PartyID:        p.PartyID,
		ShopID:         p.ShopID,
		Status:         string(p.Status),
		PayoutToolID:   p.PayoutToolID,
		PayoutToolKind: string(p.PayoutToolKind),
		WalletID:       nullable(p.WalletID),
		Amount:         p.Amount,
		Fee:            p.Fee,
		CurrencyCode:   p.CurrencyCode,
		CancelDetails:  nullable(p.CancelDetails),
	}
}

func toPostingModel(r *cashFlowPostingRow) model.CashFlowPosting {
	return model.CashFlowPosting{
		PayoutID:        r.PayoutID,
		FromAccountID:   r.FromAccountID,
		FromAccountKind: model.AccountKind(r.FromAccountType),
		ToAccountID:     r.ToAccountID,
		ToAccountKind:   model.AccountKind(r.ToAccountType),
		Amount:          r.Amount,
		CurrencyCode:    r.CurrencyCode,
		Description:     r.Description,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

func fromPostingModel(p model.CashFlowPosting) cashFlowPostingRow {
	return cashFlowPostingRow{
		PayoutID:        p.PayoutID,
		FromAccountID:   p.FromAccountID,
		FromAccountType: string(p.FromAccountKind),
		ToAccountID:     p.ToAccountID,
		ToAccountType:   string(p.ToAccountKind),
		Amount:          p.Amount,
		CurrencyCode:    p.CurrencyCode,
		Description:     p.Description,
		CreatedAt:       p.CreatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
