package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
)

func claimColumns() []string {
	return []string{
		"id", "user_id", "asset_type", "asset_address", "chain_id", "wallet_address",
		"amount", "token_id", "tx_hash", "status", "block_number", "gas_used",
		"created_at", "confirmed_at", "updated_at",
	}
}

func claimRow(rows *sqlmock.Rows, id string, status model.ClaimStatus) *sqlmock.Rows {
	now := time.Now().UnixMilli()
	return rows.AddRow(
		id, "user-1", "native", "0x1111111111111111111111111111111111111111", 4202,
		"0x2222222222222222222222222222222222222222",
		"0.050000000000000000", "", "0xabc", status, 0, 0,
		now, 0, now,
	)
}

func TestClaimRepository_Create_AssignsID(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "faucet_claims"`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	claim := &model.ClaimRecord{
		UserID:        "user-1",
		AssetType:     model.AssetTypeNative,
		ChainID:       4202,
		WalletAddress: "0x2222222222222222222222222222222222222222",
		Amount:        decimal.RequireFromString("0.05"),
		TxHash:        "0xabc",
	}
	require.NoError(t, repo.Create(context.Background(), claim))
	assert.Len(t, claim.ID, 36)
	assert.NotZero(t, claim.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_GetByID(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)
	mock.ExpectQuery(`SELECT \* FROM "faucet_claims" WHERE id = \$1 LIMIT \$2`).
		WithArgs("c-1", 1).
		WillReturnRows(claimRow(sqlmock.NewRows(claimColumns()), "c-1", model.ClaimStatusPending))

	claim, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", claim.ID)
	assert.True(t, claim.Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, model.ClaimStatusPending, claim.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_GetByID_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)
	mock.ExpectQuery(`SELECT \* FROM "faucet_claims"`).
		WillReturnRows(sqlmock.NewRows(claimColumns()))

	claim, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, claim)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestClaimRepository_CountActive(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)
	key := model.CooldownKey{UserID: "user-1", AssetType: model.AssetTypeNFT, ChainID: 4202}

	mock.ExpectQuery(`SELECT count\(\*\) FROM "faucet_claims" WHERE user_id = \$1 AND asset_type = \$2 AND chain_id = \$3 AND status <> \$4`).
		WithArgs("user-1", "nft", int64(4202), int64(model.ClaimStatusFailed)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountActive(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_ListPending(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)
	rows := sqlmock.NewRows(claimColumns())
	claimRow(rows, "c-1", model.ClaimStatusPending)
	claimRow(rows, "c-2", model.ClaimStatusPending)

	mock.ExpectQuery(`SELECT \* FROM "faucet_claims" WHERE status = \$1 AND \(created_at > \$2 OR \(created_at = \$3 AND id > \$4\)\) ORDER BY created_at ASC, id ASC LIMIT \$5`).
		WithArgs(int64(model.ClaimStatusPending), int64(0), int64(0), "", 50).
		WillReturnRows(rows)

	claims, err := repo.ListPending(context.Background(), PendingCursor{}, 50)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_ListPendingAfterCursor(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)
	rows := sqlmock.NewRows(claimColumns())
	claimRow(rows, "c-3", model.ClaimStatusPending)

	mock.ExpectQuery(`SELECT \* FROM "faucet_claims" WHERE status = \$1 AND \(created_at > \$2 OR \(created_at = \$3 AND id > \$4\)\) ORDER BY created_at ASC, id ASC LIMIT \$5`).
		WithArgs(int64(model.ClaimStatusPending), int64(1700000000000), int64(1700000000000), "c-2", 1).
		WillReturnRows(rows)

	claims, err := repo.ListPending(context.Background(), PendingCursor{CreatedAt: 1700000000000, ID: "c-2"}, 1)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "c-3", claims[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_UpdateStatus(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "faucet_claims" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "c-1", model.ClaimStatusConfirmed, 123, 21000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRepository_UpdateStatus_AlreadyTerminal(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "faucet_claims"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "c-1", model.ClaimStatusFailed, 0, 0)
	assert.ErrorIs(t, err, ErrClaimNotFound)
}

func TestClaimRepository_ListByUser(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewClaimRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "faucet_claims" WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM "faucet_claims" WHERE user_id = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WillReturnRows(claimRow(sqlmock.NewRows(claimColumns()), "c-1", model.ClaimStatusConfirmed))

	page := &Pagination{Page: 1, PageSize: 10}
	claims, err := repo.ListByUser(context.Background(), "user-1", page)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
	assert.Equal(t, int64(1), page.Total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
