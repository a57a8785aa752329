package services

import (
	"context"
	"errors"
	"time"

	"go-backend/internal/apperrors"
	"go-backend/internal/config"
	"go-backend/internal/events"
	"go-backend/internal/metrics"
	"go-backend/internal/models"
	"go-backend/internal/push"
	"go-backend/internal/repository"
	"go-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HubPublisher is the subset of the hub event bus the services publish on.
type HubPublisher interface {
	NotifyPurchaseIntent(ctx context.Context, event *events.PurchaseIntentEvent) error
	NotifyDeliveryCompleted(ctx context.Context, event *events.DeliveryCompletedEvent) error
}

// InitiateTransferInput are the arguments for opening a custody transfer.
type InitiateTransferInput struct {
	PurchaseRequestID    string
	ProductID            string
	ManufacturerAddress  string
	TransporterAddresses []string
	BuyerAddress         string
	PurchaseAmount       decimal.Decimal
	ProductMetadata      string
}

// StepResult is the outcome of one step execution.
type StepResult struct {
	TransferID string               `json:"transfer_id"`
	NewStep    int                  `json:"new_step"`
	TotalSteps int                  `json:"total_steps"`
	NewStatus  models.CustodyStatus `json:"new_status"`
	Progress   float64              `json:"progress_percentage"`
}

// CustodyDashboard aggregates orchestrator-wide analytics.
type CustodyDashboard struct {
	StatusCounts    map[models.CustodyStatus]int64 `json:"status_counts"`
	ActiveTransfers int64                          `json:"active_transfers"`
	Delivered       int64                          `json:"delivered"`
	Failed          int64                          `json:"failed"`
	Frozen          int64                          `json:"frozen"`
}

// CustodyService drives the custody transfer state machine: mint and escrow
// on shipping start, step-by-step handoffs, delivery confirmation with
// escrow release, and the dispute/refund path.
type CustodyService struct {
	store      *repository.Store
	bridge     *BridgeService
	reputation *ReputationService
	publisher  HubPublisher
	cfg        *config.Config
	pushHub    *push.Hub
	log        *logrus.Entry
}

// SetPushHub attaches the optional websocket hub for live status pushes.
func (s *CustodyService) SetPushHub(hub *push.Hub) { s.pushHub = hub }

func (s *CustodyService) pushStatus(transfer *models.CustodyTransfer) {
	if s.pushHub == nil {
		return
	}
	s.pushHub.Broadcast(&push.StatusEvent{
		Kind:    "custody",
		ID:      transfer.TransferID,
		Payload: transfer,
	})
}

// NewCustodyService creates a CustodyService.
func NewCustodyService(store *repository.Store, bridge *BridgeService, reputation *ReputationService, publisher HubPublisher, cfg *config.Config) *CustodyService {
	return &CustodyService{
		store:      store,
		bridge:     bridge,
		reputation: reputation,
		publisher:  publisher,
		cfg:        cfg,
		log:        logrus.WithField("component", "custody_service"),
	}
}

// InitiateTransfer mints the custody token and opens the escrow for a
// purchase request. Idempotent: a retry with the same purchaseRequestId
// returns the existing transfer instead of double-escrowing. The unique
// index on purchase_request_id is the guard; the duplicate surfaces as
// gorm.ErrDuplicatedKey and is recovered by lookup.
func (s *CustodyService) InitiateTransfer(ctx context.Context, input *InitiateTransferInput) (*models.CustodyTransfer, error) {
	request, err := s.store.Purchases.GetByRequestID(ctx, input.PurchaseRequestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "purchase request %s not found", input.PurchaseRequestID)
		}
		return nil, err
	}
	if err := s.validateTransferInput(request, input); err != nil {
		return nil, err
	}

	var transfer *models.CustodyTransfer
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var txErr error
		transfer, txErr = s.initiateInStore(ctx, tx, input)
		return txErr
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.store.Custody.GetByPurchaseRequestID(ctx, input.PurchaseRequestID)
		}
		return nil, err
	}
	return transfer, nil
}

func (s *CustodyService) validateTransferInput(request *models.PurchaseRequest, input *InitiateTransferInput) error {
	if len(input.TransporterAddresses) != request.TransportersRequired {
		return apperrors.New(apperrors.KindValidation,
			"route needs %d transporters, got %d", request.TransportersRequired, len(input.TransporterAddresses))
	}
	for _, addr := range input.TransporterAddresses {
		if !utils.IsValidAccountAddress(addr) {
			return apperrors.New(apperrors.KindValidation, "malformed transporter address %q", addr)
		}
	}
	if input.PurchaseAmount.Cmp(decimal.Zero) <= 0 {
		return apperrors.New(apperrors.KindValidation, "purchase amount must be positive, got %s", input.PurchaseAmount)
	}
	return nil
}

// initiateInStore performs mint and escrow against the given store, which may
// be transaction-bound (the shipping path runs it inside the same transaction
// as the purchase status change). Callers handle gorm.ErrDuplicatedKey.
func (s *CustodyService) initiateInStore(ctx context.Context, tx *repository.Store, input *InitiateTransferInput) (*models.CustodyTransfer, error) {
	normalized := make(models.AddressList, len(input.TransporterAddresses))
	for i, addr := range input.TransporterAddresses {
		normalized[i] = utils.NormalizeAddress(addr)
	}

	transfer := &models.CustodyTransfer{
		TransferID:           "ct_" + uuid.NewString(),
		PurchaseRequestID:    input.PurchaseRequestID,
		ProductID:            input.ProductID,
		TokenID:              "tok_" + uuid.NewString(),
		ManufacturerAddress:  utils.NormalizeAddress(input.ManufacturerAddress),
		TransporterAddresses: normalized,
		BuyerAddress:         utils.NormalizeAddress(input.BuyerAddress),
		EscrowID:             "es_" + uuid.NewString(),
		PurchaseAmount:       input.PurchaseAmount,
		CurrentStep:          1,
		TotalSteps:           len(input.TransporterAddresses) + 2,
		Status:               models.CustodyStatusMinted,
		ProductMetadata:      input.ProductMetadata,
	}
	if err := tx.Custody.Create(ctx, transfer); err != nil {
		return nil, err
	}

	escrow := &models.Escrow{
		EscrowID:   transfer.EscrowID,
		TransferID: transfer.TransferID,
		Amount:     input.PurchaseAmount,
		Status:     models.EscrowStatusHeld,
	}
	if err := tx.Custody.CreateEscrow(ctx, escrow); err != nil {
		return nil, err
	}

	// Mint and escrow commit atomically, but remain distinct observable
	// states: a transfer seen in minted has a token and no held funds yet.
	if _, err := tx.Custody.TransitionStatus(ctx, transfer.TransferID,
		[]models.CustodyStatus{models.CustodyStatusMinted}, models.CustodyStatusEscrowed); err != nil {
		return nil, err
	}
	transfer.Status = models.CustodyStatusEscrowed

	s.log.WithFields(logrus.Fields{
		"transfer_id":         transfer.TransferID,
		"purchase_request_id": input.PurchaseRequestID,
		"total_steps":         transfer.TotalSteps,
	}).Info("custody transfer opened")
	return transfer, nil
}

// ExecuteNextStep advances the custody chain by exactly one handoff.
// Concurrent or retried calls at the same step collapse to one logical
// advance: the per-step record plus the conditional update on current_step
// make the first writer win, and later callers get the advanced state back.
func (s *CustodyService) ExecuteNextStep(ctx context.Context, transferID, executorAddress string) (*StepResult, error) {
	transfer, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.KindAlreadyComplete, "transfer %s is %s", transferID, transfer.Status)
	}
	if transfer.Status == models.CustodyStatusFrozen {
		return nil, apperrors.New(apperrors.KindInvalidState, "transfer %s is frozen pending operator review", transferID)
	}
	if transfer.CurrentStep >= transfer.TotalSteps {
		return nil, apperrors.New(apperrors.KindInvalidState,
			"transfer %s awaits buyer delivery confirmation", transferID)
	}

	executor := utils.NormalizeAddress(executorAddress)
	if executor != transfer.ExpectedCustodian() {
		// A retry that raced a successful advance arrives with the executor
		// of the previous step. Return the advanced state instead of failing.
		if prev, prevErr := s.store.Custody.GetStep(ctx, transferID, transfer.CurrentStep-1); prevErr == nil && prev.ExecutorAddress == executor {
			metrics.CustodyStepConflicts.Inc()
			return s.stepResult(transfer), nil
		}
		return nil, apperrors.New(apperrors.KindNotAuthorized,
			"%s is not the custodian for step %d of transfer %s", executorAddress, transfer.CurrentStep, transferID)
	}

	step := transfer.CurrentStep
	nextStatus := models.CustodyStatusInTransit
	if step+1 == transfer.TotalSteps {
		nextStatus = models.CustodyStatusPendingConfirmation
	}

	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Custody.RecordStep(ctx, &models.StepExecution{
			TransferID:      transferID,
			Step:            step,
			ExecutorAddress: executor,
			ExecutedAt:      time.Now(),
		}); err != nil {
			return err
		}
		advanced, err := tx.Custody.AdvanceStep(ctx, transferID, step, nextStatus)
		if err != nil {
			return err
		}
		if !advanced {
			return apperrors.New(apperrors.KindInvalidState,
				"transfer %s left step %d before the advance committed", transferID, step)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Another call already executed this step. First writer wins.
			metrics.CustodyStepConflicts.Inc()
			current, getErr := s.getTransfer(ctx, transferID)
			if getErr != nil {
				return nil, getErr
			}
			return s.stepResult(current), nil
		}
		return nil, err
	}

	transfer.CurrentStep = step + 1
	transfer.Status = nextStatus
	metrics.CustodyStepsExecuted.Inc()

	// The first handoff mirrors the purchase request into in_transit.
	if step == 1 {
		if _, err := s.store.Purchases.TransitionStatus(ctx, transfer.PurchaseRequestID,
			[]models.PurchaseStatus{models.PurchaseStatusShippingInitiated}, models.PurchaseStatusInTransit); err != nil {
			s.log.WithError(err).WithField("request_id", transfer.PurchaseRequestID).Warn("purchase mirror to in_transit failed")
		} else {
			metrics.PurchaseTransitions.WithLabelValues(string(models.PurchaseStatusInTransit)).Inc()
		}
	}

	s.log.WithFields(logrus.Fields{
		"transfer_id": transferID,
		"step":        transfer.CurrentStep,
		"status":      transfer.Status,
	}).Info("custody step executed")
	s.pushStatus(transfer)
	return s.stepResult(transfer), nil
}

func (s *CustodyService) stepResult(transfer *models.CustodyTransfer) *StepResult {
	return &StepResult{
		TransferID: transfer.TransferID,
		NewStep:    transfer.CurrentStep,
		TotalSteps: transfer.TotalSteps,
		NewStatus:  transfer.Status,
		Progress:   transfer.Progress(),
	}
}

// ConfirmDelivery finishes the workflow: releases the escrow exactly once,
// settles the manufacturer payout over the value bridge, records the receipt
// and credits every transporter on the route.
func (s *CustodyService) ConfirmDelivery(ctx context.Context, transferID, buyerAddress, confirmationData string) (*models.DeliveryReceipt, error) {
	transfer, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if utils.NormalizeAddress(buyerAddress) != transfer.BuyerAddress {
		return nil, apperrors.New(apperrors.KindNotAuthorized, "%s is not the buyer for transfer %s", buyerAddress, transferID)
	}
	if transfer.Status == models.CustodyStatusDelivered {
		return nil, apperrors.New(apperrors.KindAlreadyComplete, "transfer %s already delivered", transferID)
	}
	if transfer.Status != models.CustodyStatusPendingConfirmation || transfer.CurrentStep != transfer.TotalSteps {
		return nil, apperrors.New(apperrors.KindInvalidState,
			"transfer %s is at step %d/%d in status %s, not awaiting confirmation",
			transferID, transfer.CurrentStep, transfer.TotalSteps, transfer.Status)
	}

	escrow, err := s.store.Custody.GetEscrow(ctx, transfer.EscrowID)
	if err != nil {
		s.freeze(ctx, transfer)
		return nil, apperrors.Wrap(apperrors.KindEscrowInvariantViolated, err,
			"escrow %s missing for transfer %s, transfer frozen", transfer.EscrowID, transferID)
	}
	if !escrow.Amount.Equal(transfer.PurchaseAmount) {
		s.freeze(ctx, transfer)
		return nil, apperrors.New(apperrors.KindEscrowInvariantViolated,
			"escrow %s holds %s but transfer %s expects %s, transfer frozen",
			transfer.EscrowID, escrow.Amount, transferID, transfer.PurchaseAmount)
	}

	// Claim the delivery first, then the escrow. Both are conditional
	// updates, so a concurrent confirmation loses one of the two races and
	// reports AlreadyComplete without touching funds.
	ok, err := s.store.Custody.TransitionStatus(ctx, transferID,
		[]models.CustodyStatus{models.CustodyStatusPendingConfirmation}, models.CustodyStatusDelivered)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.KindAlreadyComplete, "transfer %s already settled", transferID)
	}

	released, err := s.store.Custody.SettleEscrow(ctx, transfer.EscrowID, models.EscrowStatusReleased)
	if err != nil {
		return nil, err
	}
	if !released {
		s.freeze(ctx, transfer)
		return nil, apperrors.New(apperrors.KindEscrowInvariantViolated,
			"escrow %s was not held at release time, transfer frozen", transfer.EscrowID)
	}
	metrics.EscrowSettlements.WithLabelValues("released").Inc()

	manufacturerPayout, perTransporter := s.splitPayout(transfer.PurchaseAmount, len(transfer.TransporterAddresses))

	// Exactly one bridge settlement pays the manufacturer on its home
	// chain. Submission failure keeps the receipt visible with an empty
	// settlement id so the payout can be re-driven by an operator.
	settlementID := ""
	request, err := s.store.Purchases.GetByRequestID(ctx, transfer.PurchaseRequestID)
	if err == nil {
		record, bridgeErr := s.bridge.ExecuteTransfer(ctx, &TransferIntent{
			FromChain:   request.BuyerChain,
			ToChain:     request.ManufacturerChain,
			FromAddress: transfer.BuyerAddress,
			ToAddress:   transfer.ManufacturerAddress,
			Amount:      manufacturerPayout,
			EscrowID:    transfer.EscrowID,
			AutoConvert: true,
		})
		if bridgeErr != nil {
			s.log.WithError(bridgeErr).WithField("transfer_id", transferID).
				Error("settlement submission failed, escrow released but payout pending")
		} else {
			settlementID = record.TransferID
		}
	} else {
		s.log.WithError(err).WithField("transfer_id", transferID).Error("purchase request lookup failed during settlement")
	}

	now := time.Now()
	if err := s.store.Custody.SetSettlement(ctx, transferID, settlementID, now); err != nil {
		s.log.WithError(err).WithField("transfer_id", transferID).Error("failed to record settlement link")
	}

	receipt := &models.DeliveryReceipt{
		TransferID:           transferID,
		BuyerAddress:         transfer.BuyerAddress,
		ConfirmationData:     confirmationData,
		ManufacturerPayout:   manufacturerPayout,
		PerTransporterPayout: perTransporter,
		SettlementTransferID: settlementID,
	}
	if err := s.store.Custody.CreateReceipt(ctx, receipt); err != nil {
		s.log.WithError(err).WithField("transfer_id", transferID).Error("failed to persist delivery receipt")
	}

	for _, addr := range transfer.TransporterAddresses {
		if err := s.reputation.RecordOutcome(ctx, addr, true); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("reputation update failed")
		}
		if err := s.reputation.SetAvailability(ctx, addr, models.TransporterStatusAvailable); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("availability reset failed")
		}
	}

	if _, err := s.store.Purchases.TransitionStatus(ctx, transfer.PurchaseRequestID,
		[]models.PurchaseStatus{models.PurchaseStatusInTransit, models.PurchaseStatusShippingInitiated},
		models.PurchaseStatusDelivered); err != nil {
		s.log.WithError(err).WithField("request_id", transfer.PurchaseRequestID).Warn("purchase mirror to delivered failed")
	} else {
		metrics.PurchaseTransitions.WithLabelValues(string(models.PurchaseStatusDelivered)).Inc()
	}

	if s.publisher != nil {
		if err := s.publisher.NotifyDeliveryCompleted(ctx, &events.DeliveryCompletedEvent{
			TransferID:           transferID,
			PurchaseRequestID:    transfer.PurchaseRequestID,
			SettlementTransferID: settlementID,
			DeliveredAt:          now,
		}); err != nil {
			s.log.WithError(err).WithField("transfer_id", transferID).Warn("delivery event publish failed")
		}
	}

	transfer.Status = models.CustodyStatusDelivered
	transfer.SettlementTransferID = settlementID
	s.pushStatus(transfer)

	s.log.WithFields(logrus.Fields{
		"transfer_id":   transferID,
		"settlement_id": settlementID,
	}).Info("delivery confirmed, escrow released")
	return receipt, nil
}

// DisputeDelivery is the refund path: the buyer rejects the shipment, the
// transfer fails, the escrow returns to the buyer and every transporter on
// the route takes a failed-delivery mark.
func (s *CustodyService) DisputeDelivery(ctx context.Context, transferID, buyerAddress, reason string) error {
	transfer, err := s.getTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if utils.NormalizeAddress(buyerAddress) != transfer.BuyerAddress {
		return apperrors.New(apperrors.KindNotAuthorized, "%s is not the buyer for transfer %s", buyerAddress, transferID)
	}
	if transfer.Status.IsTerminal() {
		return apperrors.New(apperrors.KindAlreadyComplete, "transfer %s is %s", transferID, transfer.Status)
	}

	ok, err := s.store.Custody.TransitionStatus(ctx, transferID,
		[]models.CustodyStatus{models.CustodyStatusEscrowed, models.CustodyStatusInTransit, models.CustodyStatusPendingConfirmation},
		models.CustodyStatusFailed)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindInvalidState, "transfer %s cannot be disputed from its current status", transferID)
	}

	refunded, err := s.store.Custody.SettleEscrow(ctx, transfer.EscrowID, models.EscrowStatusRefunded)
	if err != nil {
		return err
	}
	if !refunded {
		s.freeze(ctx, transfer)
		return apperrors.New(apperrors.KindEscrowInvariantViolated,
			"escrow %s was not held at refund time, transfer frozen", transfer.EscrowID)
	}
	metrics.EscrowSettlements.WithLabelValues("refunded").Inc()

	for _, addr := range transfer.TransporterAddresses {
		if err := s.reputation.RecordOutcome(ctx, addr, false); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("reputation update failed")
		}
		if err := s.reputation.SetAvailability(ctx, addr, models.TransporterStatusAvailable); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("availability reset failed")
		}
	}

	if _, err := s.store.Purchases.TransitionStatus(ctx, transfer.PurchaseRequestID,
		[]models.PurchaseStatus{models.PurchaseStatusShippingInitiated, models.PurchaseStatusInTransit},
		models.PurchaseStatusCancelled); err != nil {
		s.log.WithError(err).WithField("request_id", transfer.PurchaseRequestID).Warn("purchase mirror to cancelled failed")
	}

	transfer.Status = models.CustodyStatusFailed
	s.pushStatus(transfer)

	s.log.WithFields(logrus.Fields{
		"transfer_id": transferID,
		"reason":      reason,
	}).Info("delivery disputed, escrow refunded")
	return nil
}

// freeze marks a transfer and its escrow for operator review. Frozen
// transfers are excluded from all automatic progress.
func (s *CustodyService) freeze(ctx context.Context, transfer *models.CustodyTransfer) {
	if _, err := s.store.Custody.TransitionStatus(ctx, transfer.TransferID,
		[]models.CustodyStatus{models.CustodyStatusEscrowed, models.CustodyStatusInTransit, models.CustodyStatusPendingConfirmation, models.CustodyStatusDelivered},
		models.CustodyStatusFrozen); err != nil {
		s.log.WithError(err).WithField("transfer_id", transfer.TransferID).Error("failed to freeze transfer")
	}
	if _, err := s.store.Custody.FreezeEscrow(ctx, transfer.EscrowID); err != nil {
		s.log.WithError(err).WithField("escrow_id", transfer.EscrowID).Error("failed to freeze escrow")
	}
	metrics.EscrowSettlements.WithLabelValues("frozen").Inc()
}

// GetTransfer returns one custody transfer.
func (s *CustodyService) GetTransfer(ctx context.Context, transferID string) (*models.CustodyTransfer, error) {
	return s.getTransfer(ctx, transferID)
}

func (s *CustodyService) getTransfer(ctx context.Context, transferID string) (*models.CustodyTransfer, error) {
	transfer, err := s.store.Custody.GetByTransferID(ctx, transferID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "custody transfer %s not found", transferID)
		}
		return nil, err
	}
	return transfer, nil
}

// ListTransfers returns the newest non-archived transfers.
func (s *CustodyService) ListTransfers(ctx context.Context, limit int) ([]*models.CustodyTransfer, error) {
	if limit <= 0 {
		limit = defaultTransferListLimit
	}
	return s.store.Custody.List(ctx, limit)
}

// Dashboard aggregates orchestrator-wide counters.
func (s *CustodyService) Dashboard(ctx context.Context) (*CustodyDashboard, error) {
	counts, err := s.store.Custody.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	dash := &CustodyDashboard{StatusCounts: counts}
	for status, count := range counts {
		switch status {
		case models.CustodyStatusDelivered:
			dash.Delivered += count
		case models.CustodyStatusFailed, models.CustodyStatusCancelled:
			dash.Failed += count
		case models.CustodyStatusFrozen:
			dash.Frozen += count
		default:
			dash.ActiveTransfers += count
		}
	}
	return dash, nil
}

// ArchiveExpired stamps terminal transfers past the retention window. Frozen
// transfers are never archived while their escrow value is outstanding.
func (s *CustodyService) ArchiveExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Custody.RetentionHours) * time.Hour)
	return s.store.Custody.ArchiveTerminalBefore(ctx, cutoff)
}

// splitPayout applies the configured manufacturer share in basis points; the
// remainder divides equally among the transporters.
func (s *CustodyService) splitPayout(amount decimal.Decimal, transporterCount int) (manufacturer, perTransporter decimal.Decimal) {
	bps := decimal.NewFromInt(int64(s.cfg.Payout.ManufacturerBps))
	manufacturer = amount.Mul(bps).Div(decimal.NewFromInt(10000))
	if transporterCount == 0 {
		return amount, decimal.Zero
	}
	perTransporter = amount.Sub(manufacturer).DivRound(decimal.NewFromInt(int64(transporterCount)), 18)
	return manufacturer, perTransporter
}
