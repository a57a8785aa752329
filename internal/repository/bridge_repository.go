package repository

import (
	"context"
	"errors"

	"go-backend/internal/models"

	"gorm.io/gorm"
)

// BridgeRepository defines data access for value bridge transfer records.
type BridgeRepository interface {
	Create(ctx context.Context, record *models.TransferRecord) error
	GetByTransferID(ctx context.Context, transferID string) (*models.TransferRecord, error)
	List(ctx context.Context, limit int) ([]*models.TransferRecord, error)
	ListNeedingConversion(ctx context.Context, limit int) ([]*models.TransferRecord, error)

	// TransitionStatus conditionally advances the record and applies the
	// given field updates in the same statement. Returns false when the row
	// was not in any of the expected statuses.
	TransitionStatus(ctx context.Context, transferID string, expected []models.BridgeStatus, next models.BridgeStatus, updates map[string]interface{}) (bool, error)

	// MarkConverted records the destination-side conversion transaction and
	// clears the manual-conversion flag.
	MarkConverted(ctx context.Context, transferID, conversionTxHash string) error
	FlagManualConversion(ctx context.Context, transferID string) error

	CountByStatus(ctx context.Context, status models.BridgeStatus) (int64, error)
}

type bridgeRepository struct {
	db *gorm.DB
}

// NewBridgeRepository creates a new BridgeRepository instance.
func NewBridgeRepository(db *gorm.DB) BridgeRepository {
	return &bridgeRepository{db: db}
}

func (r *bridgeRepository) Create(ctx context.Context, record *models.TransferRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *bridgeRepository) GetByTransferID(ctx context.Context, transferID string) (*models.TransferRecord, error) {
	var record models.TransferRecord
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *bridgeRepository) List(ctx context.Context, limit int) ([]*models.TransferRecord, error) {
	var records []*models.TransferRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *bridgeRepository) ListNeedingConversion(ctx context.Context, limit int) ([]*models.TransferRecord, error) {
	var records []*models.TransferRecord
	err := r.db.WithContext(ctx).
		Where("needs_manual_conversion = ?", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *bridgeRepository) TransitionStatus(ctx context.Context, transferID string, expected []models.BridgeStatus, next models.BridgeStatus, updates map[string]interface{}) (bool, error) {
	if len(expected) == 0 {
		return false, errors.New("expected status list must not be empty")
	}
	values := map[string]interface{}{"status": next}
	for k, v := range updates {
		values[k] = v
	}
	result := r.db.WithContext(ctx).
		Model(&models.TransferRecord{}).
		Where("transfer_id = ? AND status IN ?", transferID, expected).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *bridgeRepository) MarkConverted(ctx context.Context, transferID, conversionTxHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.TransferRecord{}).
		Where("transfer_id = ?", transferID).
		Updates(map[string]interface{}{
			"conversion_tx_hash":      conversionTxHash,
			"needs_manual_conversion": false,
		}).Error
}

func (r *bridgeRepository) FlagManualConversion(ctx context.Context, transferID string) error {
	return r.db.WithContext(ctx).
		Model(&models.TransferRecord{}).
		Where("transfer_id = ?", transferID).
		Update("needs_manual_conversion", true).Error
}

func (r *bridgeRepository) CountByStatus(ctx context.Context, status models.BridgeStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TransferRecord{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
