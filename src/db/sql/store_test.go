package db

import (
	"context"
	"os"
	"testing"
	"time"

	"budgeteer-server/src/apperr"
	database "budgeteer-server/src/db"
	"budgeteer-server/src/models"
	"budgeteer-server/src/plaidsync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLikeEscaper(t *testing.T) {
	assert.Equal(t, `100\% Fun\_Stuff`, likeEscaper.Replace("100% Fun_Stuff"))
	assert.Equal(t, `a\\b`, likeEscaper.Replace(`a\b`))
}

// testStore connects to TEST_DATABASE_URL, applies migrations and empties the
// tables. Tests are skipped when it is unset.
func testStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE transactions, sync_cursors, linked_accounts, linked_items, categories RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	sealer, err := database.NewTokenSealer("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)
	return NewStore(pool, sealer, nil), pool
}

func linkItem(t *testing.T, s *Store, userID int64, itemID string) *models.LinkedItemWithAccounts {
	t.Helper()
	created, err := s.CreateLinkedItem(context.Background(), &models.LinkedItem{
		UserID:          userID,
		AccessToken:     "access-" + itemID,
		ItemID:          itemID,
		InstitutionID:   "ins_1",
		InstitutionName: "First Platypus Bank",
	}, []models.LinkedAccount{{AccountID: "acc-" + itemID, Name: "Checking", Type: "depository", Subtype: "checking", Currency: "USD"}})
	require.NoError(t, err)
	return created
}

func TestStore_CreateAndUnlinkItem(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()

	created := linkItem(t, s, 1, "item-1")
	require.Len(t, created.Accounts, 1)
	assert.Equal(t, models.ItemStatusActive, created.Item.Status)

	var stored string
	require.NoError(t, pool.QueryRow(ctx, `SELECT access_token FROM linked_items WHERE id = $1`, created.Item.ID).Scan(&stored))
	assert.NotEqual(t, "access-item-1", stored, "token is sealed at rest")

	item, err := s.GetItem(ctx, created.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-item-1", item.AccessToken)

	cursor, err := s.GetSyncCursor(ctx, created.Item.ID)
	require.NoError(t, err)
	assert.Empty(t, cursor.Cursor)

	linked, err := s.ListLinkedAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Len(t, linked[0].Accounts, 1)

	require.NoError(t, s.UnlinkItem(ctx, created.Item.ID))
	linked, err = s.ListLinkedAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, linked)

	item, err = s.GetItem(ctx, created.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusRemoved, item.Status)

	assert.ErrorIs(t, s.UnlinkItem(ctx, 9999), apperr.ErrNotFound)
}

func TestStore_SyncLease(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()
	created := linkItem(t, s, 1, "item-1")

	_, err := s.AcquireSyncLease(ctx, &created.Item, time.Minute)
	require.NoError(t, err)

	_, err = s.AcquireSyncLease(ctx, &created.Item, time.Minute)
	assert.ErrorIs(t, err, apperr.ErrSyncInProgress)

	_, err = pool.Exec(ctx, `UPDATE sync_cursors SET syncing_since = NOW() - INTERVAL '1 hour' WHERE item_id = $1`, created.Item.ID)
	require.NoError(t, err)
	_, err = s.AcquireSyncLease(ctx, &created.Item, time.Minute)
	require.NoError(t, err, "stale lease is taken over")

	require.NoError(t, s.ReleaseSyncLease(ctx, created.Item.ID))
	_, err = s.AcquireSyncLease(ctx, &created.Item, time.Minute)
	assert.NoError(t, err)
}

func TestStore_TransactionWrites(t *testing.T) {
	s, pool := testStore(t)
	ctx := context.Background()
	created := linkItem(t, s, 1, "item-1")

	var food, uncategorized int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO categories (user_id, name) VALUES (1, 'Food And Drink') RETURNING id`).Scan(&food))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO categories (user_id, name) VALUES (1, 'Uncategorized') RETURNING id`).Scan(&uncategorized))

	externalID := "t1"
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	err := s.WithTx(ctx, func(tx plaidsync.Tx) error {
		c, err := tx.FindCategoryByNameContains(ctx, 1, "food and")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, food, c.ID)

		c, err = tx.FindCategoryByNameContains(ctx, 1, "100%")
		require.NoError(t, err)
		assert.Nil(t, c)

		account, err := tx.FindLinkedAccount(ctx, created.Item.ID, "acc-item-1")
		require.NoError(t, err)
		require.NotNil(t, account)

		txn := &models.Transaction{UserID: 1, CategoryID: &food, Amount: decimal.RequireFromString("42.50"), Description: "Coffee", Date: date, ExternalTransactionID: &externalID, LinkedAccountID: &account.ID}
		inserted, err := tx.UpsertExternalTransaction(ctx, txn)
		require.NoError(t, err)
		assert.True(t, inserted)

		txn.CategoryID = &uncategorized
		inserted, err = tx.UpsertExternalTransaction(ctx, txn)
		require.NoError(t, err)
		assert.False(t, inserted)

		updated, err := tx.UpdateExternalTransaction(ctx, 1, "missing", decimal.NewFromInt(1), "x", date)
		require.NoError(t, err)
		assert.False(t, updated)

		return tx.AdvanceSyncCursor(ctx, created.Item.ID, "c1", 1, 0, 0)
	})
	require.NoError(t, err)

	var count int
	var categoryID int64
	var amount decimal.Decimal
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MIN(category_id), MIN(amount) FROM transactions`).Scan(&count, &categoryID, &amount))
	assert.Equal(t, 1, count)
	assert.Equal(t, food, categoryID, "category is not overwritten on conflict")
	assert.Equal(t, "42.50", amount.StringFixed(2))

	cursor, err := s.GetSyncCursor(ctx, created.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor.Cursor)
	assert.EqualValues(t, 1, cursor.AddedCount)
}
