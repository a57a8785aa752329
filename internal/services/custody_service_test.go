package services

import (
	"context"
	"testing"

	"go-backend/internal/apperrors"
	"go-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shippedTransfer drives a purchase through coordination and shipping,
// returning the open custody transfer (2 transporters, 4 steps).
func (env *testEnv) shippedTransfer(t *testing.T) (*models.PurchaseRequest, *models.CustodyTransfer) {
	t.Helper()
	ctx := context.Background()
	request := env.coordinatedRequest(t)
	transfer, err := env.purchases.StartShipping(ctx, &StartShippingInput{
		RequestID:              request.RequestID,
		ManufacturerAddress:    testManufacturer,
		EstimatedDeliveryHours: 24,
		TransporterAddresses:   []string{transporterA, transporterB},
	})
	require.NoError(t, err)
	return request, transfer
}

func TestInitiateTransferIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request := env.coordinatedRequest(t)
	input := &InitiateTransferInput{
		PurchaseRequestID:    request.RequestID,
		ProductID:            request.ProductID,
		ManufacturerAddress:  testManufacturer,
		TransporterAddresses: []string{transporterA, transporterB},
		BuyerAddress:         testBuyer,
		PurchaseAmount:       request.PurchaseAmount,
	}

	first, err := env.custody.InitiateTransfer(ctx, input)
	require.NoError(t, err)

	second, err := env.custody.InitiateTransfer(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, first.EscrowID, second.EscrowID)

	escrow, err := env.store.Custody.GetEscrow(ctx, first.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusHeld, escrow.Status)
}

func TestInitiateTransferTransporterCountMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request := env.coordinatedRequest(t)
	_, err := env.custody.InitiateTransfer(ctx, &InitiateTransferInput{
		PurchaseRequestID:    request.RequestID,
		ProductID:            request.ProductID,
		ManufacturerAddress:  testManufacturer,
		TransporterAddresses: []string{transporterA},
		BuyerAddress:         testBuyer,
		PurchaseAmount:       request.PurchaseAmount,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestExecuteStepAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request, transfer := env.shippedTransfer(t)

	_, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, outsider)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotAuthorized, apperrors.KindOf(err))

	result, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, testManufacturer)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewStep)
	assert.Equal(t, models.CustodyStatusInTransit, result.NewStatus)

	got, err := env.purchases.GetRequest(ctx, request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusInTransit, got.Status)
}

func TestStepProgressMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, transfer := env.shippedTransfer(t)
	require.Equal(t, 4, transfer.TotalSteps)

	executors := []string{testManufacturer, transporterA, transporterB}
	for i, executor := range executors {
		result, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, executor)
		require.NoError(t, err)
		assert.Equal(t, i+2, result.NewStep)
	}

	got, err := env.custody.GetTransfer(ctx, transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, got.TotalSteps, got.CurrentStep)
	assert.Equal(t, models.CustodyStatusPendingConfirmation, got.Status)
	assert.InDelta(t, 100, got.Progress(), 0.01)

	// No step may execute past the final handoff.
	_, err = env.custody.ExecuteNextStep(ctx, transfer.TransferID, transporterB)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidState, apperrors.KindOf(err))
}

func TestExecuteStepRetryDoesNotDoubleAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, transfer := env.shippedTransfer(t)

	first, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, testManufacturer)
	require.NoError(t, err)
	require.Equal(t, 2, first.NewStep)

	// The manufacturer retries after a timed-out response. Same executor,
	// same logical step: the retry observes the advanced state instead of
	// advancing again.
	retry, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, testManufacturer)
	require.NoError(t, err)
	assert.Equal(t, 2, retry.NewStep)
	assert.Equal(t, first.NewStatus, retry.NewStatus)

	got, err := env.custody.GetTransfer(ctx, transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStep)
}

func (env *testEnv) deliveredTransfer(t *testing.T) (*models.PurchaseRequest, *models.CustodyTransfer) {
	t.Helper()
	ctx := context.Background()
	request, transfer := env.shippedTransfer(t)
	for _, executor := range []string{testManufacturer, transporterA, transporterB} {
		_, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, executor)
		require.NoError(t, err)
	}
	return request, transfer
}

func TestConfirmDeliveryReleasesEscrowExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request, transfer := env.deliveredTransfer(t)

	receipt, err := env.custody.ConfirmDelivery(ctx, transfer.TransferID, testBuyer, `{"signature":"0xsig"}`)
	require.NoError(t, err)

	// 80% to the manufacturer, remainder split across both transporters.
	assert.True(t, receipt.ManufacturerPayout.Equal(decimal.RequireFromString("0.04")),
		"manufacturer payout %s", receipt.ManufacturerPayout)
	assert.True(t, receipt.PerTransporterPayout.Equal(decimal.RequireFromString("0.005")),
		"per transporter payout %s", receipt.PerTransporterPayout)
	assert.NotEmpty(t, receipt.SettlementTransferID)

	escrow, err := env.store.Custody.GetEscrow(ctx, transfer.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusReleased, escrow.Status)

	// Exactly one settlement crossed the bridge.
	assert.Equal(t, 1, env.endpoint.submissions)

	got, err := env.purchases.GetRequest(ctx, request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusDelivered, got.Status)

	// A second confirmation performs no additional transfer.
	_, err = env.custody.ConfirmDelivery(ctx, transfer.TransferID, testBuyer, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAlreadyComplete, apperrors.KindOf(err))
	assert.Equal(t, 1, env.endpoint.submissions)

	require.Len(t, env.publisher.deliveries, 1)
	assert.Equal(t, transfer.TransferID, env.publisher.deliveries[0].TransferID)
}

func TestConfirmDeliveryCreditsTransporters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, transfer := env.deliveredTransfer(t)
	_, err := env.custody.ConfirmDelivery(ctx, transfer.TransferID, testBuyer, "")
	require.NoError(t, err)

	for _, addr := range transfer.TransporterAddresses {
		record, err := env.store.Transporters.GetByAddress(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, 1, record.TotalDeliveries)
		assert.Equal(t, 1, record.SuccessfulDeliveries)
		assert.Equal(t, models.TransporterStatusAvailable, record.Status)
	}
}

func TestConfirmDeliveryGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, transfer := env.shippedTransfer(t)

	// Before the final handoff there is nothing to confirm.
	_, err := env.custody.ConfirmDelivery(ctx, transfer.TransferID, testBuyer, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidState, apperrors.KindOf(err))

	for _, executor := range []string{testManufacturer, transporterA, transporterB} {
		_, err := env.custody.ExecuteNextStep(ctx, transfer.TransferID, executor)
		require.NoError(t, err)
	}

	_, err = env.custody.ConfirmDelivery(ctx, transfer.TransferID, outsider, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotAuthorized, apperrors.KindOf(err))
}

func TestDisputeRefundsEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	request, transfer := env.deliveredTransfer(t)

	require.NoError(t, env.custody.DisputeDelivery(ctx, transfer.TransferID, testBuyer, "damaged crate"))

	got, err := env.custody.GetTransfer(ctx, transfer.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.CustodyStatusFailed, got.Status)

	escrow, err := env.store.Custody.GetEscrow(ctx, transfer.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusRefunded, escrow.Status)

	// No settlement crossed the bridge on the refund path.
	assert.Equal(t, 0, env.endpoint.submissions)

	for _, addr := range transfer.TransporterAddresses {
		record, err := env.store.Transporters.GetByAddress(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, 1, record.TotalDeliveries)
		assert.Equal(t, 0, record.SuccessfulDeliveries)
	}

	reqRow, err := env.purchases.GetRequest(ctx, request.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCancelled, reqRow.Status)

	// Terminal transfers take no further steps.
	_, err = env.custody.ExecuteNextStep(ctx, transfer.TransferID, transporterB)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAlreadyComplete, apperrors.KindOf(err))
}

func TestDashboardAndArchive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, transfer := env.deliveredTransfer(t)
	_, err := env.custody.ConfirmDelivery(ctx, transfer.TransferID, testBuyer, "")
	require.NoError(t, err)

	dash, err := env.custody.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dash.Delivered)
	assert.Equal(t, int64(0), dash.ActiveTransfers)

	// With retention reduced to zero the delivered transfer ages out.
	env.cfg.Custody.RetentionHours = 0
	archived, err := env.custody.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)

	transfers, err := env.custody.ListTransfers(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, transfers)
}
