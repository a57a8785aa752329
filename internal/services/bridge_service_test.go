package services

import (
	"context"
	"errors"
	"testing"

	"go-backend/internal/apperrors"
	"go-backend/internal/clients"
	"go-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateFeeIsPure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("0.01")

	first, err := env.bridge.EstimateFee(ctx, "optimism_sepolia", "base_sepolia", amount)
	require.NoError(t, err)
	second, err := env.bridge.EstimateFee(ctx, "optimism_sepolia", "base_sepolia", amount)
	require.NoError(t, err)

	assert.True(t, first.BridgeFee.Equal(second.BridgeFee))
	assert.Equal(t, first.EstimatedGas, second.EstimatedGas)

	// Estimation mutates no transfer state.
	records, err := env.bridge.ListRecentTransfers(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEstimateFeeErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("0.01")

	_, err := env.bridge.EstimateFee(ctx, "dogecoin", "base_sepolia", amount)
	assert.Equal(t, apperrors.KindUnknownChain, apperrors.KindOf(err))

	_, err = env.bridge.EstimateFee(ctx, "optimism_sepolia", "base_sepolia", decimal.Zero)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	env.oracle.err = errors.New("oracle timeout")
	_, err = env.bridge.EstimateFee(ctx, "optimism_sepolia", "base_sepolia", amount)
	assert.Equal(t, apperrors.KindEstimationFailed, apperrors.KindOf(err))
	assert.True(t, apperrors.Retryable(err))
}

func TestExecuteTransferValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := func() *TransferIntent {
		return &TransferIntent{
			FromChain:   "arbitrum_sepolia",
			ToChain:     "base_sepolia",
			FromAddress: testBuyer,
			ToAddress:   testManufacturer,
			Amount:      decimal.RequireFromString("0.01"),
		}
	}

	intent := base()
	intent.Amount = decimal.Zero
	_, err := env.bridge.ExecuteTransfer(ctx, intent)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	intent = base()
	intent.FromAddress = "bogus"
	_, err = env.bridge.ExecuteTransfer(ctx, intent)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	intent = base()
	intent.ToChain = "dogecoin"
	_, err = env.bridge.ExecuteTransfer(ctx, intent)
	assert.Equal(t, apperrors.KindUnknownChain, apperrors.KindOf(err))

	// No records left behind by rejected submissions.
	records, err := env.bridge.ListRecentTransfers(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExecuteTransferSubmissionFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.endpoint.submitErr = errors.New("endpoint unavailable")
	_, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBridgeSubmissionFailed, apperrors.KindOf(err))
	assert.True(t, apperrors.Retryable(err))

	records, listErr := env.bridge.ListRecentTransfers(ctx, 10)
	require.NoError(t, listErr)
	assert.Empty(t, records, "failed submission moves no funds and leaves no record")
}

func TestExecuteTransferProducesDurableRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusInFlight, record.Status)
	assert.NotEmpty(t, record.TransactionHash)
	assert.NotEmpty(t, record.BridgeMessageID)

	stored, err := env.bridge.GetTransfer(ctx, record.TransferID)
	require.NoError(t, err)
	assert.Equal(t, record.TransferID, stored.TransferID)
}

func TestGetStatusCompletesDeliveredTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
		AutoConvert: true,
	})
	require.NoError(t, err)

	env.endpoint.messageState = clients.MessageStateDelivered
	view, err := env.bridge.GetStatus(ctx, record.TransferID)
	require.NoError(t, err)

	assert.Equal(t, models.BridgeStatusCompleted, view.Status)
	assert.NotEmpty(t, view.ConversionTxHash)
	assert.False(t, view.NeedsManualConversion)
	assert.Equal(t, 1, env.endpoint.conversions)

	// Polling is idempotent: no second conversion.
	view, err = env.bridge.GetStatus(ctx, record.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.BridgeStatusCompleted, view.Status)
	assert.Equal(t, 1, env.endpoint.conversions)
}

func TestAutoConvertFailureFlagsManualRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
		AutoConvert: true,
	})
	require.NoError(t, err)

	env.endpoint.messageState = clients.MessageStateDelivered
	env.endpoint.convertErr = errors.New("swap pool dry")

	view, err := env.bridge.GetStatus(ctx, record.TransferID)
	require.NoError(t, err)

	// The transfer itself still completed; only the conversion is pending.
	assert.Equal(t, models.BridgeStatusCompleted, view.Status)
	assert.NotEmpty(t, view.TransactionHash)
	assert.Empty(t, view.ConversionTxHash)
	assert.True(t, view.NeedsManualConversion)

	status, err := env.bridge.InfrastructureStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.ManualConversionsPending)
}

func TestFailedMessageMarksTransferStuck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)

	env.endpoint.messageState = clients.MessageStateFailed
	view, err := env.bridge.GetStatus(ctx, record.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.BridgeStatusStuck, view.Status)

	// Stuck is terminal for automatic progress: a later delivered report
	// does not resurrect the record.
	env.endpoint.messageState = clients.MessageStateDelivered
	view, err = env.bridge.GetStatus(ctx, record.TransferID)
	require.NoError(t, err)
	assert.Equal(t, models.BridgeStatusStuck, view.Status)

	status, err := env.bridge.InfrastructureStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.StuckTransfers)
}

func TestReconcileLostRaceReportsStoredStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.bridge.ExecuteTransfer(ctx, &TransferIntent{
		FromChain:   "arbitrum_sepolia",
		ToChain:     "base_sepolia",
		FromAddress: testBuyer,
		ToAddress:   testManufacturer,
		Amount:      decimal.RequireFromString("0.01"),
		AutoConvert: true,
	})
	require.NoError(t, err)

	// Another poller marked the record stuck between our read and the
	// delivered report.
	moved, err := env.store.Bridge.TransitionStatus(ctx, record.TransferID,
		[]models.BridgeStatus{models.BridgeStatusInFlight}, models.BridgeStatusStuck, nil)
	require.NoError(t, err)
	require.True(t, moved)

	env.endpoint.messageState = clients.MessageStateDelivered
	result := env.bridge.reconcile(ctx, record)

	assert.Equal(t, models.BridgeStatusStuck, result.Status, "the losing poller must report the stored row")
	assert.Zero(t, env.endpoint.conversions, "a lost race must not trigger conversion")
}

func TestGetStatusUnknownTransfer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.bridge.GetStatus(context.Background(), "vt_missing")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}
