package repository

import (
	"context"
	"errors"

	"go-backend/internal/models"

	"gorm.io/gorm"
)

// PurchaseRepository defines data access for purchase requests.
type PurchaseRepository interface {
	Create(ctx context.Context, request *models.PurchaseRequest) error
	GetByRequestID(ctx context.Context, requestID string) (*models.PurchaseRequest, error)
	List(ctx context.Context, limit int) ([]*models.PurchaseRequest, error)
	ListByBuyer(ctx context.Context, buyerAddress string, limit int) ([]*models.PurchaseRequest, error)

	// TransitionStatus performs a conditional status update: the row is
	// changed only when its current status is one of the expected values.
	// Returns false when the guard did not match (no rows affected).
	TransitionStatus(ctx context.Context, requestID string, expected []models.PurchaseStatus, next models.PurchaseStatus) (bool, error)

	// StartShipping transitions hub_coordinated -> shipping_initiated and
	// records the shipping details in the same conditional update.
	StartShipping(ctx context.Context, requestID string, estimatedDeliveryHours int, packageDetails, specialInstructions string) (bool, error)

	CountByStatus(ctx context.Context, status models.PurchaseStatus) (int64, error)
}

type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new PurchaseRepository instance.
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, request *models.PurchaseRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *purchaseRepository) GetByRequestID(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	var request models.PurchaseRequest
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&request).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *purchaseRepository) List(ctx context.Context, limit int) ([]*models.PurchaseRequest, error) {
	var requests []*models.PurchaseRequest
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *purchaseRepository) ListByBuyer(ctx context.Context, buyerAddress string, limit int) ([]*models.PurchaseRequest, error) {
	var requests []*models.PurchaseRequest
	err := r.db.WithContext(ctx).
		Where("buyer_address = ?", buyerAddress).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *purchaseRepository) TransitionStatus(ctx context.Context, requestID string, expected []models.PurchaseStatus, next models.PurchaseStatus) (bool, error) {
	if len(expected) == 0 {
		return false, errors.New("expected status list must not be empty")
	}
	result := r.db.WithContext(ctx).
		Model(&models.PurchaseRequest{}).
		Where("request_id = ? AND status IN ?", requestID, expected).
		Update("status", next)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *purchaseRepository) StartShipping(ctx context.Context, requestID string, estimatedDeliveryHours int, packageDetails, specialInstructions string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.PurchaseRequest{}).
		Where("request_id = ? AND status = ?", requestID, models.PurchaseStatusHubCoordinated).
		Updates(map[string]interface{}{
			"status":                   models.PurchaseStatusShippingInitiated,
			"estimated_delivery_hours": estimatedDeliveryHours,
			"package_details":          packageDetails,
			"special_instructions":     specialInstructions,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *purchaseRepository) CountByStatus(ctx context.Context, status models.PurchaseStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PurchaseRequest{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
