package services

import (
	"context"
	"errors"

	"go-backend/internal/apperrors"
	"go-backend/internal/config"
	"go-backend/internal/events"
	"go-backend/internal/metrics"
	"go-backend/internal/models"
	"go-backend/internal/registry"
	"go-backend/internal/repository"
	"go-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultRequestListLimit = 50

// InitiatePurchaseInput are the arguments for creating a purchase request.
type InitiatePurchaseInput struct {
	BuyerAddress            string
	BuyerChain              string
	ManufacturerAddress     string
	ManufacturerChain       string
	ProductID               string
	DeliveryCoordinates     utils.Coordinates
	ManufacturerCoordinates utils.Coordinates
	PurchaseAmount          decimal.Decimal
}

// StartShippingInput are the arguments for the manufacturer's shipping call.
type StartShippingInput struct {
	RequestID              string
	ManufacturerAddress    string
	EstimatedDeliveryHours int
	PackageDetails         string
	SpecialInstructions    string
	// TransporterAddresses may be supplied explicitly; when empty the
	// top-ranked available transporters are selected from the reputation
	// ledger.
	TransporterAddresses []string
}

// PurchaseService creates and tracks cross-chain purchase requests and owns
// their lifecycle up to the custody handover.
type PurchaseService struct {
	store      *repository.Store
	chains     *registry.ChainRegistry
	custody    *CustodyService
	reputation *ReputationService
	publisher  HubPublisher
	cfg        *config.Config
	log        *logrus.Entry
}

// NewPurchaseService creates a PurchaseService.
func NewPurchaseService(store *repository.Store, chains *registry.ChainRegistry, custody *CustodyService, reputation *ReputationService, publisher HubPublisher, cfg *config.Config) *PurchaseService {
	return &PurchaseService{
		store:      store,
		chains:     chains,
		custody:    custody,
		reputation: reputation,
		publisher:  publisher,
		cfg:        cfg,
		log:        logrus.WithField("component", "purchase_service"),
	}
}

// InitiatePurchase validates the intent, derives the logistics parameters
// and persists the request in pending_hub_coordination. The hub notification
// is fire-and-forget: losing it delays coordination but never fails the
// purchase.
func (s *PurchaseService) InitiatePurchase(ctx context.Context, input *InitiatePurchaseInput) (*models.PurchaseRequest, error) {
	if !utils.IsValidAccountAddress(input.BuyerAddress) {
		return nil, apperrors.New(apperrors.KindValidation, "malformed buyer address %q", input.BuyerAddress)
	}
	if !utils.IsValidAccountAddress(input.ManufacturerAddress) {
		return nil, apperrors.New(apperrors.KindValidation, "malformed manufacturer address %q", input.ManufacturerAddress)
	}
	if err := input.DeliveryCoordinates.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "invalid delivery coordinates")
	}
	if err := input.ManufacturerCoordinates.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err, "invalid manufacturer coordinates")
	}
	if input.PurchaseAmount.Cmp(decimal.Zero) <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "purchase amount must be positive, got %s", input.PurchaseAmount)
	}
	if input.ProductID == "" {
		return nil, apperrors.New(apperrors.KindValidation, "product id is required")
	}
	if _, err := s.chains.Describe(input.BuyerChain); err != nil {
		return nil, err
	}
	if _, err := s.chains.Describe(input.ManufacturerChain); err != nil {
		return nil, err
	}

	distance := utils.HaversineMiles(input.ManufacturerCoordinates, input.DeliveryCoordinates)
	transporters := s.cfg.TransportersForDistance(distance)

	request := &models.PurchaseRequest{
		RequestID:             "pr_" + uuid.NewString(),
		BuyerAddress:          utils.NormalizeAddress(input.BuyerAddress),
		BuyerChain:            input.BuyerChain,
		ManufacturerAddress:   utils.NormalizeAddress(input.ManufacturerAddress),
		ManufacturerChain:     input.ManufacturerChain,
		ProductID:             input.ProductID,
		DeliveryLatitude:      input.DeliveryCoordinates.Latitude,
		DeliveryLongitude:     input.DeliveryCoordinates.Longitude,
		ManufacturerLatitude:  input.ManufacturerCoordinates.Latitude,
		ManufacturerLongitude: input.ManufacturerCoordinates.Longitude,
		PurchaseAmount:        input.PurchaseAmount,
		DistanceMiles:         distance,
		TransportersRequired:  transporters,
		Status:                models.PurchaseStatusPendingHubCoordination,
	}
	if err := s.store.Purchases.Create(ctx, request); err != nil {
		return nil, err
	}
	metrics.PurchaseRequestsCreated.Inc()

	if s.publisher != nil {
		if err := s.publisher.NotifyPurchaseIntent(ctx, &events.PurchaseIntentEvent{
			RequestID:            request.RequestID,
			BuyerChain:           request.BuyerChain,
			ManufacturerChain:    request.ManufacturerChain,
			ManufacturerAddress:  request.ManufacturerAddress,
			ProductID:            request.ProductID,
			PurchaseAmount:       request.PurchaseAmount.String(),
			TransportersRequired: request.TransportersRequired,
			CreatedAt:            request.CreatedAt,
		}); err != nil {
			s.log.WithError(err).WithField("request_id", request.RequestID).Warn("hub notification failed, request stays pending")
		}
	}

	s.log.WithFields(logrus.Fields{
		"request_id":   request.RequestID,
		"distance_mi":  distance,
		"transporters": transporters,
	}).Info("purchase request created")
	return request, nil
}

// GetRequest returns one purchase request.
func (s *PurchaseService) GetRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	request, err := s.store.Purchases.GetByRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindNotFound, "purchase request %s not found", requestID)
		}
		return nil, err
	}
	return request, nil
}

// ListRequests returns the newest purchase requests.
func (s *PurchaseService) ListRequests(ctx context.Context, limit int) ([]*models.PurchaseRequest, error) {
	if limit <= 0 {
		limit = defaultRequestListLimit
	}
	return s.store.Purchases.List(ctx, limit)
}

// HandleHubAck moves a request to hub_coordinated when the hub acknowledges
// routing. Safe under redelivery: the guarded transition makes a duplicate
// ack a no-op.
func (s *PurchaseService) HandleHubAck(ctx context.Context, ack *events.HubAckEvent) {
	ok, err := s.store.Purchases.TransitionStatus(ctx, ack.RequestID,
		[]models.PurchaseStatus{models.PurchaseStatusPendingHubCoordination}, models.PurchaseStatusHubCoordinated)
	if err != nil {
		s.log.WithError(err).WithField("request_id", ack.RequestID).Error("hub ack handling failed")
		return
	}
	if !ok {
		s.log.WithField("request_id", ack.RequestID).Debug("hub ack ignored, request not pending")
		return
	}
	metrics.PurchaseTransitions.WithLabelValues(string(models.PurchaseStatusHubCoordinated)).Inc()
	s.log.WithField("request_id", ack.RequestID).Info("hub coordination acknowledged")
}

// CancelRequest cancels a purchase before shipping. Once a custody transfer
// has escrowed funds, cancellation must go through the dispute/refund path.
func (s *PurchaseService) CancelRequest(ctx context.Context, requestID, callerAddress string) error {
	request, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if utils.NormalizeAddress(callerAddress) != request.BuyerAddress {
		return apperrors.New(apperrors.KindNotAuthorized, "%s is not the buyer for request %s", callerAddress, requestID)
	}
	if request.Status.IsTerminal() {
		return apperrors.New(apperrors.KindAlreadyComplete, "request %s is %s", requestID, request.Status)
	}

	ok, err := s.store.Purchases.TransitionStatus(ctx, requestID,
		[]models.PurchaseStatus{models.PurchaseStatusPendingHubCoordination, models.PurchaseStatusHubCoordinated},
		models.PurchaseStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindInvalidState,
			"request %s has started shipping, use the dispute path", requestID)
	}
	metrics.PurchaseTransitions.WithLabelValues(string(models.PurchaseStatusCancelled)).Inc()
	s.log.WithField("request_id", requestID).Info("purchase request cancelled")
	return nil
}

// StartShipping is the single seam between the purchase and custody state
// machines. The status transition and the custody transfer creation commit
// in one transaction: either both happen or neither does.
func (s *PurchaseService) StartShipping(ctx context.Context, input *StartShippingInput) (*models.CustodyTransfer, error) {
	request, err := s.GetRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	if utils.NormalizeAddress(input.ManufacturerAddress) != request.ManufacturerAddress {
		return nil, apperrors.New(apperrors.KindNotAuthorized,
			"%s is not the manufacturer for request %s", input.ManufacturerAddress, input.RequestID)
	}
	if request.Status.IsTerminal() {
		return nil, apperrors.New(apperrors.KindAlreadyComplete, "request %s is %s", input.RequestID, request.Status)
	}
	if request.Status != models.PurchaseStatusHubCoordinated {
		return nil, apperrors.New(apperrors.KindInvalidState,
			"request %s is %s, shipping requires hub_coordinated", input.RequestID, request.Status)
	}
	if input.EstimatedDeliveryHours <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "estimated delivery hours must be positive")
	}

	transporters := input.TransporterAddresses
	if len(transporters) == 0 {
		transporters, err = s.reputation.SelectTransporters(ctx, request.TransportersRequired)
		if err != nil {
			return nil, err
		}
	}
	if len(transporters) != request.TransportersRequired {
		return nil, apperrors.New(apperrors.KindInvalidState,
			"route needs %d transporters, only %d available", request.TransportersRequired, len(transporters))
	}

	transferInput := &InitiateTransferInput{
		PurchaseRequestID:    request.RequestID,
		ProductID:            request.ProductID,
		ManufacturerAddress:  request.ManufacturerAddress,
		TransporterAddresses: transporters,
		BuyerAddress:         request.BuyerAddress,
		PurchaseAmount:       request.PurchaseAmount,
		ProductMetadata:      input.PackageDetails,
	}
	if err := s.custody.validateTransferInput(request, transferInput); err != nil {
		return nil, err
	}

	var transfer *models.CustodyTransfer
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		ok, txErr := tx.Purchases.StartShipping(ctx, input.RequestID,
			input.EstimatedDeliveryHours, input.PackageDetails, input.SpecialInstructions)
		if txErr != nil {
			return txErr
		}
		if !ok {
			return apperrors.New(apperrors.KindInvalidState,
				"request %s left hub_coordinated before shipping committed", input.RequestID)
		}
		transfer, txErr = s.custody.initiateInStore(ctx, tx, transferInput)
		return txErr
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent shipping call won the race; return its transfer.
			return s.store.Custody.GetByPurchaseRequestID(ctx, request.RequestID)
		}
		return nil, err
	}
	metrics.PurchaseTransitions.WithLabelValues(string(models.PurchaseStatusShippingInitiated)).Inc()

	for _, addr := range transfer.TransporterAddresses {
		if err := s.reputation.SetAvailability(ctx, addr, models.TransporterStatusBusy); err != nil {
			s.log.WithError(err).WithField("address", addr).Warn("failed to mark transporter busy")
		}
	}

	s.log.WithFields(logrus.Fields{
		"request_id":  input.RequestID,
		"transfer_id": transfer.TransferID,
	}).Info("shipping initiated, custody transfer opened")
	return transfer, nil
}
