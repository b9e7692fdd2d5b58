package provider

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/movra/payout-manager/internal/model"
)

// SimulatedFees prices payouts in the simulated party directory
type SimulatedFees struct {
	SystemSettlementAccount int64
	FeeBasisPoints          int64 // charged on the payout amount
	FixedFee                int64 // deducted from the payout account
}

// SimulatedPartyDirectory serves parties from memory for development/testing
type SimulatedPartyDirectory struct {
	mu      sync.RWMutex
	parties map[string]model.Party
	fees    SimulatedFees
}

// NewSimulatedPartyDirectory creates a directory holding the given parties
func NewSimulatedPartyDirectory(fees SimulatedFees, parties ...model.Party) *SimulatedPartyDirectory {
	d := &SimulatedPartyDirectory{
		parties: make(map[string]model.Party, len(parties)),
		fees:    fees,
	}
	for _, p := range parties {
		d.parties[p.ID] = p
	}
	return d
}

// PutParty adds or replaces a party
func (d *SimulatedPartyDirectory) PutParty(party model.Party) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parties[party.ID] = party
}

func (d *SimulatedPartyDirectory) GetParty(ctx context.Context, partyID string) (*model.Party, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	party, ok := d.parties[partyID]
	if !ok {
		return nil, fmt.Errorf("%w: party not found, partyId=%s", model.ErrNotFound, partyID)
	}
	return &party, nil
}

func (d *SimulatedPartyDirectory) ComputeCashFlow(ctx context.Context, req CashFlowRequest) ([]model.FinalCashFlowPosting, error) {
	party, err := d.GetParty(ctx, req.PartyID)
	if err != nil {
		return nil, err
	}
	shop, ok := party.Shops[req.ShopID]
	if !ok {
		return nil, fmt.Errorf("%w: shop not found, shopId=%s", model.ErrNotFound, req.ShopID)
	}
	if _, ok := party.Contracts[shop.ContractID].FindPayoutTool(req.PayoutToolID); !ok {
		return nil, fmt.Errorf("%w: payout tool not found, payoutToolId=%s", model.ErrNotFound, req.PayoutToolID)
	}

	currency := req.Cash.CurrencyCode
	settlement := model.CashFlowAccount{AccountID: shop.Account.Settlement, AccountKind: model.AccountKindMerchantSettlement}
	payout := model.CashFlowAccount{AccountID: shop.Account.Payout, AccountKind: model.AccountKindMerchantPayout}
	system := model.CashFlowAccount{AccountID: d.fees.SystemSettlementAccount, AccountKind: model.AccountKindSystemSettlement}

	postings := []model.FinalCashFlowPosting{{
		Source:      settlement,
		Destination: payout,
		Volume:      model.Cash{Amount: req.Cash.Amount, CurrencyCode: currency},
		Details:     "Payout amount",
	}}
	if fee := req.Cash.Amount * d.fees.FeeBasisPoints / 10000; fee > 0 {
		postings = append(postings, model.FinalCashFlowPosting{
			Source:      settlement,
			Destination: system,
			Volume:      model.Cash{Amount: fee, CurrencyCode: currency},
			Details:     "Payout fee",
		})
	}
	if d.fees.FixedFee > 0 {
		postings = append(postings, model.FinalCashFlowPosting{
			Source:      payout,
			Destination: system,
			Volume:      model.Cash{Amount: d.fees.FixedFee, CurrencyCode: currency},
			Details:     "Payout fixed fee",
		})
	}
	return postings, nil
}

// SimulatedDepositIssuer simulates wallet deposits for development/testing
type SimulatedDepositIssuer struct {
	failureRate    int // percentage 0-100
	processingTime time.Duration
	sources        *SourceResolver
}

// NewSimulatedDepositIssuer creates a new simulated deposit issuer
func NewSimulatedDepositIssuer(failureRate int, processingTime time.Duration, sources *SourceResolver) *SimulatedDepositIssuer {
	return &SimulatedDepositIssuer{
		failureRate:    failureRate,
		processingTime: processingTime,
		sources:        sources,
	}
}

func (i *SimulatedDepositIssuer) CreateDeposit(ctx context.Context, payoutID, walletID string, amount int64, currencyCode string) (*model.Deposit, error) {
	// Simulate processing time
	select {
	case <-time.After(i.processingTime):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", model.ErrDependencyUnavailable, ctx.Err())
	}

	sourceID, err := i.sources.Resolve(ctx, currencyCode)
	if err != nil {
		return nil, err
	}

	if shouldFail(i.failureRate) {
		return nil, fmt.Errorf("%w: simulated failure: destination wallet %s rejected deposit", model.ErrDependencyRejected, walletID)
	}

	return &model.Deposit{
		ID:            model.DepositID(payoutID),
		SourceID:      sourceID,
		DestinationID: walletID,
		Body:          model.Cash{Amount: amount, CurrencyCode: currencyCode},
	}, nil
}

// DefaultSimulatedParty is the merchant served by the simulated directory
func DefaultSimulatedParty() model.Party {
	return model.Party{
		ID: "party-1",
		Shops: map[string]model.Shop{
			"shop-1": {
				ID:           "shop-1",
				ContractID:   "contract-1",
				PayoutToolID: "bank-1",
				Account:      model.ShopAccount{Currency: "RUB", Settlement: 1001, Guarantee: 1002, Payout: 1003},
			},
		},
		Contracts: map[string]model.Contract{
			"contract-1": {
				ID: "contract-1",
				PayoutTools: []model.PayoutTool{
					{ID: "bank-1", Currency: "RUB", Kind: model.PayoutToolKindDomesticBankAccount},
					{ID: "wallet-1", Currency: "RUB", Kind: model.PayoutToolKindWallet, WalletID: "wallet-1"},
				},
			},
		},
	}
}

func shouldFail(failureRate int) bool {
	if failureRate <= 0 {
		return false
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(100))
	return int(n.Int64()) < failureRate
}
