package services

import (
	"context"
	"time"

	"go-backend/internal/apperrors"
	"go-backend/internal/clients"
	"go-backend/internal/metrics"
	"go-backend/internal/models"
	"go-backend/internal/registry"
	"go-backend/internal/repository"
	"go-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultTransferListLimit = 50

// TransferIntent is a caller's request to move value between chains. It is
// consumed immediately; the durable trace is the TransferRecord.
type TransferIntent struct {
	FromChain   string
	ToChain     string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	EscrowID    string
	AutoConvert bool
}

// TransferStatusView is the polling view over one transfer record.
type TransferStatusView struct {
	TransferID            string              `json:"transfer_id"`
	Status                models.BridgeStatus `json:"status"`
	TransactionHash       string              `json:"transaction_hash,omitempty"`
	ConversionTxHash      string              `json:"conversion_tx_hash,omitempty"`
	NeedsManualConversion bool                `json:"needs_manual_conversion"`
	ExplorerURL           string              `json:"explorer_url,omitempty"`
}

// InfrastructureStatus summarizes the health of the bridge dependencies.
type InfrastructureStatus struct {
	EndpointHealthy          bool  `json:"endpoint_healthy"`
	EndpointQueueSize        int   `json:"endpoint_queue_size"`
	StuckTransfers           int64 `json:"stuck_transfers"`
	InFlightTransfers        int64 `json:"in_flight_transfers"`
	ManualConversionsPending int64 `json:"manual_conversions_pending"`
}

// BridgeService executes cross-chain value transfers and tracks their
// durable records. It performs no hidden retries: a failed submission moves
// no funds and is reported retryable to the caller.
type BridgeService struct {
	chains   *registry.ChainRegistry
	oracle   clients.FeeOracle
	endpoint clients.BridgeEndpoint
	records  repository.BridgeRepository
	log      *logrus.Entry
}

// NewBridgeService creates a BridgeService.
func NewBridgeService(chains *registry.ChainRegistry, oracle clients.FeeOracle, endpoint clients.BridgeEndpoint, records repository.BridgeRepository) *BridgeService {
	return &BridgeService{
		chains:   chains,
		oracle:   oracle,
		endpoint: endpoint,
		records:  records,
		log:      logrus.WithField("component", "bridge_service"),
	}
}

// EstimateFee quotes the protocol fee for a transfer. Pure read: identical
// arguments produce identical quotes up to the oracle's own variance, and no
// transfer state is touched.
func (s *BridgeService) EstimateFee(ctx context.Context, fromChain, toChain string, amount decimal.Decimal) (*clients.FeeQuote, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "amount must be positive, got %s", amount)
	}
	src, err := s.chains.Describe(fromChain)
	if err != nil {
		return nil, err
	}
	dst, err := s.chains.Describe(toChain)
	if err != nil {
		return nil, err
	}

	quote, err := s.oracle.Quote(ctx, src.BridgeEndpointID, dst.BridgeEndpointID, amount)
	if err != nil {
		metrics.FeeQuotes.WithLabelValues("error").Inc()
		return nil, apperrors.Wrap(apperrors.KindEstimationFailed, err, "fee oracle unavailable for %s -> %s", fromChain, toChain)
	}
	metrics.FeeQuotes.WithLabelValues("ok").Inc()
	return quote, nil
}

// ExecuteTransfer validates and submits a value transfer. Every accepted
// submission leaves a durable TransferRecord; a rejected submission moves no
// funds and leaves no record.
func (s *BridgeService) ExecuteTransfer(ctx context.Context, intent *TransferIntent) (*models.TransferRecord, error) {
	if intent.Amount.Cmp(decimal.Zero) <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "amount must be positive, got %s", intent.Amount)
	}
	if !utils.IsValidAccountAddress(intent.FromAddress) {
		return nil, apperrors.New(apperrors.KindValidation, "malformed from address %q", intent.FromAddress)
	}
	if !utils.IsValidAccountAddress(intent.ToAddress) {
		return nil, apperrors.New(apperrors.KindValidation, "malformed to address %q", intent.ToAddress)
	}
	src, err := s.chains.Describe(intent.FromChain)
	if err != nil {
		return nil, err
	}
	dst, err := s.chains.Describe(intent.ToChain)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	submission, err := s.endpoint.Submit(ctx, &clients.SubmitTransferRequest{
		SrcEndpointID: src.BridgeEndpointID,
		DstEndpointID: dst.BridgeEndpointID,
		FromAddress:   utils.NormalizeAddress(intent.FromAddress),
		ToAddress:     utils.NormalizeAddress(intent.ToAddress),
		Amount:        intent.Amount,
	})
	metrics.BridgeSubmissionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BridgeTransfers.WithLabelValues("submission_failed").Inc()
		return nil, apperrors.Wrap(apperrors.KindBridgeSubmissionFailed, err, "bridge rejected transfer %s -> %s", intent.FromChain, intent.ToChain)
	}

	record := &models.TransferRecord{
		TransferID:      "vt_" + uuid.NewString(),
		FromChain:       intent.FromChain,
		ToChain:         intent.ToChain,
		FromAddress:     utils.NormalizeAddress(intent.FromAddress),
		ToAddress:       utils.NormalizeAddress(intent.ToAddress),
		Amount:          intent.Amount,
		EscrowID:        intent.EscrowID,
		Status:          models.BridgeStatusSubmitted,
		TransactionHash: submission.TransactionHash,
		BridgeMessageID: submission.MessageID,
		AutoConvert:     intent.AutoConvert,
	}
	if err := s.records.Create(ctx, record); err != nil {
		// The bridge accepted the transfer but the trace failed to persist.
		// Surface loudly: this must be reconciled by message id.
		s.log.WithError(err).WithField("message_id", submission.MessageID).
			Error("transfer submitted but record not persisted")
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "failed to persist transfer record")
	}

	if ok, err := s.records.TransitionStatus(ctx, record.TransferID,
		[]models.BridgeStatus{models.BridgeStatusSubmitted}, models.BridgeStatusInFlight, nil); err == nil && ok {
		record.Status = models.BridgeStatusInFlight
	}

	metrics.BridgeTransfers.WithLabelValues("submitted").Inc()
	s.log.WithFields(logrus.Fields{
		"transfer_id": record.TransferID,
		"from":        intent.FromChain,
		"to":          intent.ToChain,
		"amount":      intent.Amount.String(),
	}).Info("bridge transfer submitted")
	return record, nil
}

// GetStatus returns the current view of a transfer, reconciling in-flight
// records against the bridge endpoint. Reconciliation is idempotent (all
// transitions are guarded), so callers may poll arbitrarily often; it never
// submits new value transfers.
func (s *BridgeService) GetStatus(ctx context.Context, transferID string) (*TransferStatusView, error) {
	record, err := s.records.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "transfer %s not found", transferID)
	}

	if record.Status == models.BridgeStatusSubmitted || record.Status == models.BridgeStatusInFlight {
		record = s.reconcile(ctx, record)
	}

	return &TransferStatusView{
		TransferID:            record.TransferID,
		Status:                record.Status,
		TransactionHash:       record.TransactionHash,
		ConversionTxHash:      record.ConversionTxHash,
		NeedsManualConversion: record.NeedsManualConversion,
		ExplorerURL:           s.chains.ExplorerTxURL(record.FromChain, record.TransactionHash),
	}, nil
}

// reconcile pulls the delivery state for one non-terminal record and applies
// the corresponding guarded transition. Endpoint errors leave the record
// untouched; the next poll tries again.
func (s *BridgeService) reconcile(ctx context.Context, record *models.TransferRecord) *models.TransferRecord {
	status, err := s.endpoint.MessageStatus(ctx, record.BridgeMessageID)
	if err != nil {
		s.log.WithError(err).WithField("transfer_id", record.TransferID).Warn("message status poll failed")
		return record
	}

	switch status.State {
	case clients.MessageStateDelivered:
		ok, err := s.records.TransitionStatus(ctx, record.TransferID,
			[]models.BridgeStatus{models.BridgeStatusSubmitted, models.BridgeStatusInFlight},
			models.BridgeStatusCompleted, nil)
		if err != nil {
			s.log.WithError(err).WithField("transfer_id", record.TransferID).Warn("completion transition failed")
			return record
		}
		if !ok {
			return s.reload(ctx, record)
		}
		record.Status = models.BridgeStatusCompleted
		metrics.BridgeTransfers.WithLabelValues("completed").Inc()
		if record.AutoConvert && record.ConversionTxHash == "" {
			s.attemptConversion(ctx, record)
		}
	case clients.MessageStateFailed:
		ok, err := s.records.TransitionStatus(ctx, record.TransferID,
			[]models.BridgeStatus{models.BridgeStatusSubmitted, models.BridgeStatusInFlight},
			models.BridgeStatusStuck, nil)
		if err != nil {
			s.log.WithError(err).WithField("transfer_id", record.TransferID).Warn("stuck transition failed")
			return record
		}
		if !ok {
			return s.reload(ctx, record)
		}
		record.Status = models.BridgeStatusStuck
		metrics.BridgeTransfers.WithLabelValues("stuck").Inc()
		s.log.WithFields(logrus.Fields{
			"transfer_id": record.TransferID,
			"reason":      status.FailureReason,
		}).Error("bridge transfer stuck, operator intervention required")
	}
	return record
}

// reload returns the stored row after a lost transition race, so the view
// reflects what the winning writer persisted.
func (s *BridgeService) reload(ctx context.Context, record *models.TransferRecord) *models.TransferRecord {
	fresh, err := s.records.GetByTransferID(ctx, record.TransferID)
	if err != nil {
		s.log.WithError(err).WithField("transfer_id", record.TransferID).Warn("reload after lost race failed")
		return record
	}
	return fresh
}

// attemptConversion chains the best-effort native-asset conversion. Failure
// never fails the transfer; the record is flagged for a manual retry.
func (s *BridgeService) attemptConversion(ctx context.Context, record *models.TransferRecord) {
	dst, err := s.chains.Describe(record.ToChain)
	if err != nil {
		s.log.WithError(err).WithField("transfer_id", record.TransferID).Error("conversion skipped, unknown destination")
		return
	}
	resp, err := s.endpoint.Convert(ctx, &clients.ConvertRequest{
		DstEndpointID: dst.BridgeEndpointID,
		Recipient:     record.ToAddress,
		Amount:        record.Amount,
		MessageID:     record.BridgeMessageID,
	})
	if err != nil {
		s.log.WithError(err).WithField("transfer_id", record.TransferID).Warn("auto conversion failed, flagged for manual retry")
		if flagErr := s.records.FlagManualConversion(ctx, record.TransferID); flagErr != nil {
			s.log.WithError(flagErr).WithField("transfer_id", record.TransferID).Error("failed to flag manual conversion")
			return
		}
		record.NeedsManualConversion = true
		metrics.ManualConversionsPending.Inc()
		return
	}
	if err := s.records.MarkConverted(ctx, record.TransferID, resp.TransactionHash); err != nil {
		s.log.WithError(err).WithField("transfer_id", record.TransferID).Error("failed to record conversion tx")
		return
	}
	record.ConversionTxHash = resp.TransactionHash
}

// GetTransfer returns the raw record without reconciliation.
func (s *BridgeService) GetTransfer(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	record, err := s.records.GetByTransferID(ctx, transferID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, err, "transfer %s not found", transferID)
	}
	return record, nil
}

// ListRecentTransfers returns the newest transfer records.
func (s *BridgeService) ListRecentTransfers(ctx context.Context, limit int) ([]*models.TransferRecord, error) {
	if limit <= 0 {
		limit = defaultTransferListLimit
	}
	return s.records.List(ctx, limit)
}

// InfrastructureStatus reports bridge endpoint health and backlog counters.
func (s *BridgeService) InfrastructureStatus(ctx context.Context) (*InfrastructureStatus, error) {
	status := &InfrastructureStatus{}

	if health, err := s.endpoint.Health(ctx); err == nil {
		status.EndpointHealthy = health.Healthy
		status.EndpointQueueSize = health.QueueSize
	}

	stuck, err := s.records.CountByStatus(ctx, models.BridgeStatusStuck)
	if err != nil {
		return nil, err
	}
	status.StuckTransfers = stuck

	inFlight, err := s.records.CountByStatus(ctx, models.BridgeStatusInFlight)
	if err != nil {
		return nil, err
	}
	status.InFlightTransfers = inFlight

	pending, err := s.records.ListNeedingConversion(ctx, 1000)
	if err != nil {
		return nil, err
	}
	status.ManualConversionsPending = int64(len(pending))
	return status, nil
}
