package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/movra/payout-manager/internal/model"
	"github.com/movra/payout-manager/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestCreatePayout_Success(t *testing.T) {
	ledgerClient := newSimulatedLedger(100000)
	env := newTestEnv(t, ledgerClient)
	ctx := context.Background()

	payout, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)

	assert.Equal(t, "p1", payout.PayoutID)
	assert.Equal(t, model.PayoutStatusUnpaid, payout.Status)
	assert.Equal(t, 0, payout.SequenceID)
	assert.Equal(t, int64(990), payout.Amount)
	assert.Equal(t, int64(20), payout.Fee)
	assert.Equal(t, "bank-1", payout.PayoutToolID)
	assert.Equal(t, model.PayoutToolKindDomesticBankAccount, payout.PayoutToolKind)
	assert.Equal(t, testNow, payout.CreatedAt)

	stored, err := env.svc.GetPayoutWithPostings(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, *payout, stored.Payout)
	require.Len(t, stored.CashFlow, 3)
	assert.Equal(t, int64(1000), stored.CashFlow[0].Amount)

	// held, not moved
	assert.Equal(t, int64(100000), ledgerClient.Balance(settlementAccount))

	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeTypeCreated, events[0].Change.Type)
	assert.Equal(t, 0, events[0].SequenceID)
	assert.Len(t, events[0].Change.CashFlow, 3)
}

func TestCreatePayout_GeneratesPayoutID(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))

	payout, err := env.svc.CreatePayout(context.Background(), bankRequest(""))
	require.NoError(t, err)

	_, err = uuid.Parse(payout.PayoutID)
	assert.NoError(t, err)
}

func TestCreatePayout_WalletKeepsWalletID(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))

	payout, err := env.svc.CreatePayout(context.Background(), walletRequest("p1"))
	require.NoError(t, err)
	assert.Equal(t, model.PayoutToolKindWallet, payout.PayoutToolKind)
	assert.Equal(t, "wallet-1", payout.WalletID)
}

func TestCreatePayout_Rejected(t *testing.T) {
	noDefaultTool := provider.DefaultSimulatedParty()
	noDefaultTool.ID = "party-2"
	shop := noDefaultTool.Shops["shop-1"]
	shop.PayoutToolID = ""
	noDefaultTool.Shops["shop-1"] = shop

	tests := []struct {
		name    string
		mutate  func(req *CreatePayoutRequest)
		wantErr error
	}{
		{name: "zero amount", mutate: func(req *CreatePayoutRequest) { req.Cash.Amount = 0 }, wantErr: model.ErrInsufficientFunds},
		{name: "negative amount", mutate: func(req *CreatePayoutRequest) { req.Cash.Amount = -5 }, wantErr: model.ErrInsufficientFunds},
		{name: "unknown party", mutate: func(req *CreatePayoutRequest) { req.PartyID = "nobody" }, wantErr: model.ErrNotFound},
		{name: "unknown shop", mutate: func(req *CreatePayoutRequest) { req.ShopID = "shop-x" }, wantErr: model.ErrNotFound},
		{name: "unknown payout tool", mutate: func(req *CreatePayoutRequest) { req.PayoutToolID = "tool-x" }, wantErr: model.ErrNotFound},
		{name: "no default payout tool", mutate: func(req *CreatePayoutRequest) { req.PartyID = "party-2" }, wantErr: model.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(LedgerClientMock)
			env := newTestEnv(t, client)
			env.svc.parties.(*provider.SimulatedPartyDirectory).PutParty(noDefaultTool)

			req := bankRequest("p1")
			tt.mutate(req)

			_, err := env.svc.CreatePayout(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)

			_, err = env.svc.GetPayout(context.Background(), "p1")
			require.ErrorIs(t, err, model.ErrNotFound)
			client.AssertNotCalled(t, "Hold", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, env.publisher.Events())
		})
	}
}

func TestCreatePayout_NetAmountNotPositive(t *testing.T) {
	client := new(LedgerClientMock)
	env := newTestEnv(t, client)
	// the fixed fee eats the whole payout
	env.svc.parties = provider.NewSimulatedPartyDirectory(
		provider.SimulatedFees{SystemSettlementAccount: systemAccount, FixedFee: 100},
		provider.DefaultSimulatedParty(),
	)

	req := bankRequest("p1")
	req.Cash.Amount = 100

	_, err := env.svc.CreatePayout(context.Background(), req)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = env.repo.Get(context.Background(), "p1")
	require.ErrorIs(t, err, model.ErrNotFound)
	postings, err := env.repo.GetByPayoutID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, postings)
	client.AssertNotCalled(t, "Hold", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePayout_DuplicateID(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))
	ctx := context.Background()

	first, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)

	req := bankRequest("p1")
	req.Cash.Amount = 2000
	_, err = env.svc.CreatePayout(ctx, req)
	require.ErrorIs(t, err, model.ErrPayoutAlreadyExists)

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, first, stored)
}

func TestCreatePayout_InsufficientBalanceRollsBack(t *testing.T) {
	ledgerClient := newSimulatedLedger(500)
	env := newTestEnv(t, ledgerClient)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	_, err = env.repo.Get(ctx, "p1")
	require.ErrorIs(t, err, model.ErrNotFound)
	postings, err := env.repo.GetByPayoutID(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, postings)
	assert.Equal(t, int64(500), ledgerClient.Balance(settlementAccount))

	// the rolled back plan no longer reserves anything
	_, err = env.svc.CreatePayout(ctx, &CreatePayoutRequest{
		PartyID: "party-1", ShopID: "shop-1", PayoutID: "p2",
		Cash: model.Cash{Amount: 400, CurrencyCode: "RUB"},
	})
	require.NoError(t, err)
}

func TestCreatePayout_HoldFailureLeavesNothing(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(nil, errUnavailable)
	env := newTestEnv(t, client)

	_, err := env.svc.CreatePayout(context.Background(), bankRequest("p1"))
	require.ErrorIs(t, err, model.ErrDependencyUnavailable)

	_, err = env.repo.Get(context.Background(), "p1")
	require.ErrorIs(t, err, model.ErrNotFound)

	logged := env.logs.FilterMessage("Payout operation failed").All()
	require.Len(t, logged, 1)
	assert.Equal(t, zapcore.ErrorLevel, logged[0].Level)
	assert.Equal(t, "p1", logged[0].ContextMap()["payoutId"])
	assert.Equal(t, "payout_p1", logged[0].ContextMap()["planId"])
}

func TestCreatePayout_HoldFailureLogsGeneratedID(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, mock.Anything, mock.Anything).Return(nil, errUnavailable)
	env := newTestEnv(t, client)

	_, err := env.svc.CreatePayout(context.Background(), bankRequest(""))
	require.ErrorIs(t, err, model.ErrDependencyUnavailable)

	logged := env.logs.FilterMessage("Payout operation failed").All()
	require.Len(t, logged, 1)
	fields := logged[0].ContextMap()
	payoutID, _ := fields["payoutId"].(string)
	_, err = uuid.Parse(payoutID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanID(payoutID), fields["planId"])

	planID, _ := client.Calls[0].Arguments.Get(1).(string)
	assert.Equal(t, model.PlanID(payoutID), planID)
}

func TestCreatePayout_PublishFailureIsReported(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))
	env.publisher.err = errors.New("broker down")

	_, err := env.svc.CreatePayout(context.Background(), bankRequest("p1"))
	require.ErrorIs(t, err, model.ErrDependencyUnavailable)

	// the payout itself is committed
	stored, err := env.svc.GetPayout(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusUnpaid, stored.Status)
}

func TestConfirmPayout_BankAccount(t *testing.T) {
	ledgerClient := newSimulatedLedger(100000)
	env := newTestEnv(t, ledgerClient)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmPayout(ctx, "p1"))

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusConfirmed, stored.Status)
	assert.Equal(t, 1, stored.SequenceID)

	assert.Equal(t, int64(100000-1010), ledgerClient.Balance(settlementAccount))
	assert.Equal(t, int64(990), ledgerClient.Balance(payoutAccount))
	assert.Equal(t, int64(20), ledgerClient.Balance(systemAccount))
	env.deposits.AssertNotCalled(t, "CreateDeposit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	events := env.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.ChangeTypeStatusChanged, events[1].Change.Type)
	assert.Equal(t, model.PayoutStatusConfirmed, events[1].Change.Status)
	assert.Equal(t, 1, events[1].SequenceID)
}

func TestConfirmPayout_Idempotent(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil).Once()
	client.On("Commit", mock.Anything, "payout_p1", mock.Anything).Return(nil).Once()
	env := newTestEnv(t, client)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmPayout(ctx, "p1"))
	require.NoError(t, env.svc.ConfirmPayout(ctx, "p1"))

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusConfirmed, stored.Status)
	assert.Equal(t, 1, stored.SequenceID)
	client.AssertNumberOfCalls(t, "Commit", 1)

	// the no-op re-publishes the current state
	events := env.publisher.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []int{0, 1, 1}, []int{events[0].SequenceID, events[1].SequenceID, events[2].SequenceID})
}

func TestConfirmPayout_ConcurrentCallsCommitOnce(t *testing.T) {
	ledgerClient := newSimulatedLedger(100000)
	env := newTestEnv(t, ledgerClient)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.svc.ConfirmPayout(ctx, "p1")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.SequenceID)
	assert.Equal(t, int64(990), ledgerClient.Balance(payoutAccount))
}

func TestConfirmPayout_WalletIssuesDeposit(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))
	env.deposits.On("CreateDeposit", mock.Anything, "p1", "wallet-1", int64(990), "RUB").
		Return(&model.Deposit{ID: model.DepositID("p1")}, nil).Once()
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, walletRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmPayout(ctx, "p1"))

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusConfirmed, stored.Status)
	env.deposits.AssertExpectations(t)
}

func TestConfirmPayout_DepositFailureFailsAndReverts(t *testing.T) {
	ledgerClient := newSimulatedLedger(100000)
	env := newTestEnv(t, ledgerClient)
	env.deposits.On("CreateDeposit", mock.Anything, "p1", "wallet-1", int64(990), "RUB").
		Return(nil, model.ErrDependencyRejected)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, walletRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.ConfirmPayout(ctx, "p1"))

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.SequenceID)

	assert.Equal(t, int64(100000), ledgerClient.Balance(settlementAccount))
	assert.Equal(t, int64(0), ledgerClient.Balance(payoutAccount))
	assert.Equal(t, int64(0), ledgerClient.Balance(systemAccount))

	assert.Equal(t, 1, env.logs.FilterMessage("Failed to create deposit, payout failed").Len())

	events := env.publisher.Events()
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, i, event.SequenceID)
	}
	assert.Equal(t, model.ChangeTypeCreated, events[0].Change.Type)
	assert.Equal(t, model.ChangeTypeStatusChanged, events[1].Change.Type)
	assert.Equal(t, model.PayoutStatusConfirmed, events[1].Change.Status)
	assert.Equal(t, model.ChangeTypeStatusChanged, events[2].Change.Type)
	assert.Equal(t, model.PayoutStatusFailed, events[2].Change.Status)
}

func TestConfirmPayout_DepositFailureRethrow(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000), WithDepositFailureMode(DepositFailureRethrow))
	env.deposits.On("CreateDeposit", mock.Anything, "p1", "wallet-1", int64(990), "RUB").
		Return(nil, model.ErrNotFound)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, walletRequest("p1"))
	require.NoError(t, err)

	err = env.svc.ConfirmPayout(ctx, "p1")
	require.ErrorIs(t, err, model.ErrNotFound)

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusFailed, stored.Status)
}

func TestConfirmPayout_RevertInconsistentKeepsFailedStatus(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil)
	client.On("Commit", mock.Anything, "payout_p1", mock.Anything).Return(nil)
	client.On("Hold", mock.Anything, "revert_payout_p1", mock.Anything).Return(nil, errUnavailable)
	client.On("Rollback", mock.Anything, "revert_payout_p1", mock.Anything).Return(errRejected)

	env := newTestEnv(t, client)
	env.deposits.On("CreateDeposit", mock.Anything, "p1", "wallet-1", int64(990), "RUB").
		Return(nil, model.ErrDependencyUnavailable)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, walletRequest("p1"))
	require.NoError(t, err)

	err = env.svc.ConfirmPayout(ctx, "p1")
	require.ErrorIs(t, err, model.ErrRevertInconsistent)
	var revertErr *model.RevertError
	require.ErrorAs(t, err, &revertErr)
	require.Len(t, revertErr.Causes, 2)
	assert.ErrorIs(t, revertErr.Causes[0], model.ErrDependencyRejected)
	assert.ErrorIs(t, revertErr.Causes[1], model.ErrDependencyUnavailable)

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.SequenceID)

	logged := env.logs.FilterMessage("Payout operation failed").All()
	require.Len(t, logged, 1)
	assert.Equal(t, "revert_payout_p1", logged[0].ContextMap()["planId"])
}

func TestConfirmPayout_CommitFailureLeavesPayoutUnpaid(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil)
	client.On("Commit", mock.Anything, "payout_p1", mock.Anything).Return(errUnavailable)
	env := newTestEnv(t, client)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)

	err = env.svc.ConfirmPayout(ctx, "p1")
	require.ErrorIs(t, err, model.ErrDependencyUnavailable)

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusUnpaid, stored.Status)
	assert.Equal(t, 0, stored.SequenceID)
}

func TestConfirmPayout_NotFound(t *testing.T) {
	env := newTestEnv(t, new(LedgerClientMock))

	err := env.svc.ConfirmPayout(context.Background(), "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestConfirmPayout_CancelledIsInvalidState(t *testing.T) {
	env := newTestEnv(t, newSimulatedLedger(100000))
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.CancelPayout(ctx, "p1", "changed my mind"))

	err = env.svc.ConfirmPayout(ctx, "p1")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCancelPayout_Idempotent(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil).Once()
	client.On("Rollback", mock.Anything, "payout_p1", mock.Anything).Return(nil).Once()
	env := newTestEnv(t, client)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)
	require.NoError(t, env.svc.CancelPayout(ctx, "p1", "duplicate"))
	require.NoError(t, env.svc.CancelPayout(ctx, "p1", "again"))

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusCancelled, stored.Status)
	assert.Equal(t, "duplicate", stored.CancelDetails)
	assert.Equal(t, 1, stored.SequenceID)
	client.AssertNumberOfCalls(t, "Rollback", 1)

	events := env.publisher.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "duplicate", events[1].Change.CancelDetails)
}

func TestCancelPayout_RejectedAfterSettlement(t *testing.T) {
	tests := []struct {
		name   string
		status model.PayoutStatus
	}{
		{name: "confirmed", status: model.PayoutStatusConfirmed},
		{name: "failed", status: model.PayoutStatusFailed},
		{name: "paid", status: model.PayoutStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(LedgerClientMock)
			client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil)
			env := newTestEnv(t, client)
			ctx := context.Background()

			_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
			require.NoError(t, err)
			require.NoError(t, env.repo.ChangeStatus(ctx, "p1", tt.status, ""))

			err = env.svc.CancelPayout(ctx, "p1", "too late")
			require.ErrorIs(t, err, model.ErrInvalidState)

			stored, err := env.svc.GetPayout(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, stored.Status)
			assert.Equal(t, 1, stored.SequenceID)
			client.AssertNotCalled(t, "Rollback", mock.Anything, mock.Anything, mock.Anything)
			client.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCancelPayout_RollbackFailureKeepsUnpaid(t *testing.T) {
	client := new(LedgerClientMock)
	client.On("Hold", mock.Anything, "payout_p1", mock.Anything).Return(healthyHold(), nil)
	client.On("Rollback", mock.Anything, "payout_p1", mock.Anything).Return(errRejected)
	env := newTestEnv(t, client)
	ctx := context.Background()

	_, err := env.svc.CreatePayout(ctx, bankRequest("p1"))
	require.NoError(t, err)

	err = env.svc.CancelPayout(ctx, "p1", "nope")
	require.ErrorIs(t, err, model.ErrDependencyRejected)

	stored, err := env.svc.GetPayout(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PayoutStatusUnpaid, stored.Status)
	assert.Equal(t, 0, stored.SequenceID)
}

func TestRequiresDeposit(t *testing.T) {
	tests := []struct {
		kind    model.PayoutToolKind
		want    bool
		wantErr bool
	}{
		{kind: model.PayoutToolKindWallet, want: true},
		{kind: model.PayoutToolKindDomesticBankAccount},
		{kind: model.PayoutToolKindInternationalBankAccount},
		{kind: model.PayoutToolKindInstitutionAccount},
		{kind: "CARD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := requiresDeposit(tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDepositFailureMode(t *testing.T) {
	mode, err := ParseDepositFailureMode("rethrow")
	require.NoError(t, err)
	assert.Equal(t, DepositFailureRethrow, mode)

	_, err = ParseDepositFailureMode("explode")
	require.Error(t, err)
}
