package repository

import (
	"context"
	"errors"
	"time"

	"go-backend/internal/models"

	"gorm.io/gorm"
)

// CustodyRepository defines data access for custody transfers, their escrows,
// per-step idempotency records and delivery receipts.
type CustodyRepository interface {
	Create(ctx context.Context, transfer *models.CustodyTransfer) error
	GetByTransferID(ctx context.Context, transferID string) (*models.CustodyTransfer, error)
	GetByPurchaseRequestID(ctx context.Context, purchaseRequestID string) (*models.CustodyTransfer, error)
	List(ctx context.Context, limit int) ([]*models.CustodyTransfer, error)

	// AdvanceStep is the compare-and-swap at the heart of step execution:
	// it bumps current_step by one only when the row still sits at fromStep
	// in a non-terminal status. Exactly one of any set of concurrent callers
	// observes advanced=true.
	AdvanceStep(ctx context.Context, transferID string, fromStep int, next models.CustodyStatus) (advanced bool, err error)

	// TransitionStatus conditionally moves the transfer between statuses.
	TransitionStatus(ctx context.Context, transferID string, expected []models.CustodyStatus, next models.CustodyStatus) (bool, error)

	RecordStep(ctx context.Context, step *models.StepExecution) error
	GetStep(ctx context.Context, transferID string, step int) (*models.StepExecution, error)

	CreateEscrow(ctx context.Context, escrow *models.Escrow) error
	GetEscrow(ctx context.Context, escrowID string) (*models.Escrow, error)
	// SettleEscrow moves a held escrow to released or refunded. The guard on
	// the held status guarantees value leaves the escrow exactly once.
	SettleEscrow(ctx context.Context, escrowID string, next models.EscrowStatus) (bool, error)
	FreezeEscrow(ctx context.Context, escrowID string) (bool, error)

	SetSettlement(ctx context.Context, transferID, settlementTransferID string, deliveredAt time.Time) error
	CreateReceipt(ctx context.Context, receipt *models.DeliveryReceipt) error
	GetReceipt(ctx context.Context, transferID string) (*models.DeliveryReceipt, error)

	ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.CustodyStatus]int64, error)
}

type custodyRepository struct {
	db *gorm.DB
}

// NewCustodyRepository creates a new CustodyRepository instance.
func NewCustodyRepository(db *gorm.DB) CustodyRepository {
	return &custodyRepository{db: db}
}

func (r *custodyRepository) Create(ctx context.Context, transfer *models.CustodyTransfer) error {
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *custodyRepository) GetByTransferID(ctx context.Context, transferID string) (*models.CustodyTransfer, error) {
	var transfer models.CustodyTransfer
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *custodyRepository) GetByPurchaseRequestID(ctx context.Context, purchaseRequestID string) (*models.CustodyTransfer, error) {
	var transfer models.CustodyTransfer
	err := r.db.WithContext(ctx).Where("purchase_request_id = ?", purchaseRequestID).First(&transfer).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *custodyRepository) List(ctx context.Context, limit int) ([]*models.CustodyTransfer, error) {
	var transfers []*models.CustodyTransfer
	err := r.db.WithContext(ctx).
		Where("archived_at IS NULL").
		Order("created_at DESC").
		Limit(limit).
		Find(&transfers).Error
	return transfers, err
}

func (r *custodyRepository) AdvanceStep(ctx context.Context, transferID string, fromStep int, next models.CustodyStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CustodyTransfer{}).
		Where("transfer_id = ? AND current_step = ? AND status IN ?",
			transferID, fromStep,
			[]models.CustodyStatus{models.CustodyStatusEscrowed, models.CustodyStatusInTransit}).
		Updates(map[string]interface{}{
			"current_step": fromStep + 1,
			"status":       next,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *custodyRepository) TransitionStatus(ctx context.Context, transferID string, expected []models.CustodyStatus, next models.CustodyStatus) (bool, error) {
	if len(expected) == 0 {
		return false, errors.New("expected status list must not be empty")
	}
	result := r.db.WithContext(ctx).
		Model(&models.CustodyTransfer{}).
		Where("transfer_id = ? AND status IN ?", transferID, expected).
		Update("status", next)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *custodyRepository) RecordStep(ctx context.Context, step *models.StepExecution) error {
	return r.db.WithContext(ctx).Create(step).Error
}

func (r *custodyRepository) GetStep(ctx context.Context, transferID string, step int) (*models.StepExecution, error) {
	var record models.StepExecution
	err := r.db.WithContext(ctx).
		Where("transfer_id = ? AND step = ?", transferID, step).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *custodyRepository) CreateEscrow(ctx context.Context, escrow *models.Escrow) error {
	return r.db.WithContext(ctx).Create(escrow).Error
}

func (r *custodyRepository) GetEscrow(ctx context.Context, escrowID string) (*models.Escrow, error) {
	var escrow models.Escrow
	err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).First(&escrow).Error
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (r *custodyRepository) SettleEscrow(ctx context.Context, escrowID string, next models.EscrowStatus) (bool, error) {
	if next != models.EscrowStatusReleased && next != models.EscrowStatusRefunded {
		return false, errors.New("escrow can only be settled to released or refunded")
	}
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("escrow_id = ? AND status = ?", escrowID, models.EscrowStatusHeld).
		Updates(map[string]interface{}{
			"status":      next,
			"released_at": &now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *custodyRepository) FreezeEscrow(ctx context.Context, escrowID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("escrow_id = ? AND status = ?", escrowID, models.EscrowStatusHeld).
		Update("status", models.EscrowStatusFrozen)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *custodyRepository) SetSettlement(ctx context.Context, transferID, settlementTransferID string, deliveredAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CustodyTransfer{}).
		Where("transfer_id = ?", transferID).
		Updates(map[string]interface{}{
			"settlement_transfer_id": settlementTransferID,
			"delivered_at":           &deliveredAt,
		}).Error
}

func (r *custodyRepository) CreateReceipt(ctx context.Context, receipt *models.DeliveryReceipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}

func (r *custodyRepository) GetReceipt(ctx context.Context, transferID string) (*models.DeliveryReceipt, error) {
	var receipt models.DeliveryReceipt
	err := r.db.WithContext(ctx).Where("transfer_id = ?", transferID).First(&receipt).Error
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ArchiveTerminalBefore stamps archived_at on terminal transfers older than
// the cutoff. Rows are never physically deleted; frozen transfers are never
// archived because their escrow value is still outstanding.
func (r *custodyRepository) ArchiveTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.CustodyTransfer{}).
		Where("archived_at IS NULL AND updated_at < ? AND status IN ?", cutoff,
			[]models.CustodyStatus{models.CustodyStatusDelivered, models.CustodyStatusCancelled, models.CustodyStatusFailed}).
		Update("archived_at", &now)
	return result.RowsAffected, result.Error
}

func (r *custodyRepository) CountByStatus(ctx context.Context) (map[models.CustodyStatus]int64, error) {
	type row struct {
		Status models.CustodyStatus
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.CustodyTransfer{}).
		Select("status, COUNT(*) as count").
		Where("archived_at IS NULL").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.CustodyStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
