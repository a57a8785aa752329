package repository

import (
	"context"
	"errors"

	"go-backend/internal/models"

	"gorm.io/gorm"
)

// TransporterRepository defines data access for transporter reputation rows.
type TransporterRepository interface {
	GetByAddress(ctx context.Context, address string) (*models.TransporterRecord, error)
	// GetOrCreate returns the existing record or inserts a fresh one with a
	// neutral starting score.
	GetOrCreate(ctx context.Context, address string) (*models.TransporterRecord, error)
	Update(ctx context.Context, record *models.TransporterRecord) error
	SetStatus(ctx context.Context, address string, status models.TransporterStatus) error

	// Leaderboard orders by score, then delivery volume, then address so the
	// ranking is fully deterministic.
	Leaderboard(ctx context.Context, limit int) ([]*models.TransporterRecord, error)
}

type transporterRepository struct {
	db *gorm.DB
}

// NewTransporterRepository creates a new TransporterRepository instance.
func NewTransporterRepository(db *gorm.DB) TransporterRepository {
	return &transporterRepository{db: db}
}

func (r *transporterRepository) GetByAddress(ctx context.Context, address string) (*models.TransporterRecord, error) {
	var record models.TransporterRecord
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *transporterRepository) GetOrCreate(ctx context.Context, address string) (*models.TransporterRecord, error) {
	record, err := r.GetByAddress(ctx, address)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.TransporterRecord{
		Address:         address,
		ReputationScore: 0.5,
		Status:          models.TransporterStatusAvailable,
	}
	if err := r.db.WithContext(ctx).Create(fresh).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetByAddress(ctx, address)
		}
		return nil, err
	}
	return fresh, nil
}

func (r *transporterRepository) Update(ctx context.Context, record *models.TransporterRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *transporterRepository) SetStatus(ctx context.Context, address string, status models.TransporterStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.TransporterRecord{}).
		Where("address = ?", address).
		Update("status", status).Error
}

func (r *transporterRepository) Leaderboard(ctx context.Context, limit int) ([]*models.TransporterRecord, error) {
	var records []*models.TransporterRecord
	err := r.db.WithContext(ctx).
		Order("reputation_score DESC").
		Order("total_deliveries DESC").
		Order("address ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
