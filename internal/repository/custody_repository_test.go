package repository

import (
	"context"
	"testing"

	"go-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gormDB, mock
}

// The step advance must be a single conditional UPDATE guarded by the
// current step, so concurrent executors cannot both advance.
func TestAdvanceStepIsConditionalUpdate(t *testing.T) {
	gormDB, mock := newMockDB(t)
	repo := NewCustodyRepository(gormDB)

	mock.ExpectExec(`UPDATE "custody_transfers" SET .+ WHERE transfer_id = \$\d+ AND current_step = \$\d+ AND status IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	advanced, err := repo.AdvanceStep(context.Background(), "ct_1", 1, models.CustodyStatusInTransit)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceStepLosesRace(t *testing.T) {
	gormDB, mock := newMockDB(t)
	repo := NewCustodyRepository(gormDB)

	// Another writer already moved current_step: zero rows match the guard.
	mock.ExpectExec(`UPDATE "custody_transfers"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	advanced, err := repo.AdvanceStep(context.Background(), "ct_1", 1, models.CustodyStatusInTransit)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleEscrowGuardsHeldStatus(t *testing.T) {
	gormDB, mock := newMockDB(t)
	repo := NewCustodyRepository(gormDB)

	mock.ExpectExec(`UPDATE "escrows" SET .+ WHERE escrow_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := repo.SettleEscrow(context.Background(), "es_1", models.EscrowStatusReleased)
	require.NoError(t, err)
	assert.False(t, released, "an escrow that is not held must never settle")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleEscrowRejectsInvalidTarget(t *testing.T) {
	gormDB, _ := newMockDB(t)
	repo := NewCustodyRepository(gormDB)

	_, err := repo.SettleEscrow(context.Background(), "es_1", models.EscrowStatusHeld)
	assert.Error(t, err)
	_, err = repo.SettleEscrow(context.Background(), "es_1", models.EscrowStatusFrozen)
	assert.Error(t, err)
}
