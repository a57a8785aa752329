package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories over one database handle. Transaction
// rebinds all of them to a single transaction so multi-entity operations
// (for example the shipping transition plus custody transfer creation)
// commit or roll back as one unit.
type Store struct {
	db *gorm.DB

	Purchases    PurchaseRepository
	Custody      CustodyRepository
	Bridge       BridgeRepository
	Transporters TransporterRepository
}

// NewStore creates a Store over the given database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Purchases:    NewPurchaseRepository(db),
		Custody:      NewCustodyRepository(db),
		Bridge:       NewBridgeRepository(db),
		Transporters: NewTransporterRepository(db),
	}
}

// Transaction runs fn with a Store bound to a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
