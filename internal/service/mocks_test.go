package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/movra/payout-manager/internal/ledger"
	"github.com/movra/payout-manager/internal/metrics"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/provider"
	"github.com/movra/payout-manager/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type LedgerClientMock struct {
	mock.Mock
}

func (m *LedgerClientMock) Hold(ctx context.Context, planID string, batch ledger.PostingBatch) (map[int64]ledger.Account, error) {
	args := m.Called(ctx, planID, batch)
	accounts, _ := args.Get(0).(map[int64]ledger.Account)
	return accounts, args.Error(1)
}

func (m *LedgerClientMock) Commit(ctx context.Context, planID string, batches []ledger.PostingBatch) error {
	return m.Called(ctx, planID, batches).Error(0)
}

func (m *LedgerClientMock) Rollback(ctx context.Context, planID string, batches []ledger.PostingBatch) error {
	return m.Called(ctx, planID, batches).Error(0)
}

type DepositIssuerMock struct {
	mock.Mock
}

func (m *DepositIssuerMock) CreateDeposit(ctx context.Context, payoutID, walletID string, amount int64, currencyCode string) (*model.Deposit, error) {
	args := m.Called(ctx, payoutID, walletID, amount, currencyCode)
	deposit, _ := args.Get(0).(*model.Deposit)
	return deposit, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.PayoutEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event model.PayoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []model.PayoutEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PayoutEvent(nil), p.events...)
}

var (
	errUnavailable = fmt.Errorf("ledger: %w", model.ErrDependencyUnavailable)
	errRejected    = fmt.Errorf("ledger: %w", model.ErrDependencyRejected)

	testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
)

const (
	systemAccount     int64 = 1
	settlementAccount int64 = 1001
	payoutAccount     int64 = 1003
)

// testFees turn a 1000 payout into amount 990 and fee 20
func testFees() provider.SimulatedFees {
	return provider.SimulatedFees{SystemSettlementAccount: systemAccount, FeeBasisPoints: 100, FixedFee: 10}
}

type testEnv struct {
	svc       *PayoutService
	repo      *repository.MemoryRepository
	deposits  *DepositIssuerMock
	publisher *recordingPublisher
	logs      *observer.ObservedLogs
}

func newTestEnv(t *testing.T, client ledger.Client, opts ...Option) *testEnv {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	repo := repository.NewMemoryRepository()
	deposits := new(DepositIssuerMock)
	publisher := &recordingPublisher{}

	svc := NewPayoutService(Dependencies{
		Payouts:    repo,
		Postings:   repo,
		Transactor: repo,
		Saga:       NewLedgerSaga(client, repo, m, logger),
		Parties:    provider.NewSimulatedPartyDirectory(testFees(), provider.DefaultSimulatedParty()),
		Deposits:   deposits,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     logger,
	}, append([]Option{WithClock(func() time.Time { return testNow })}, opts...)...)

	return &testEnv{
		svc:       svc,
		repo:      repo,
		deposits:  deposits,
		publisher: publisher,
		logs:      logs,
	}
}

func newSimulatedLedger(settlementBalance int64) *ledger.SimulatedLedger {
	return ledger.NewSimulatedLedger(map[int64]int64{settlementAccount: settlementBalance}, 0)
}

func bankRequest(payoutID string) *CreatePayoutRequest {
	return &CreatePayoutRequest{
		PartyID:  "party-1",
		ShopID:   "shop-1",
		Cash:     model.Cash{Amount: 1000, CurrencyCode: "RUB"},
		PayoutID: payoutID,
	}
}

func walletRequest(payoutID string) *CreatePayoutRequest {
	req := bankRequest(payoutID)
	req.PayoutToolID = "wallet-1"
	return req
}

// healthyHold answers the payout plan hold with a positive settlement balance
func healthyHold() map[int64]ledger.Account {
	return map[int64]ledger.Account{
		settlementAccount: {ID: settlementAccount, OwnAmount: 5000, MinAvailableAmount: 3990, CurrencySymCode: "RUB"},
	}
}
