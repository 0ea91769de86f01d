package db

import (
	"context"
	"time"

	"budgeteer-server/src/apperr"
	database "budgeteer-server/src/db"
	"budgeteer-server/src/models"
	"budgeteer-server/src/plaidsync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres-backed store used by the syncer, the handlers and the
// scheduler. Access tokens are sealed before they are written and opened when
// items are read.
type Store struct {
	pool   *pgxpool.Pool
	sealer *database.TokenSealer
	cache  *database.AccountCache
}

// NewStore wires the pool with an optional token sealer and accounts cache.
func NewStore(pool *pgxpool.Pool, sealer *database.TokenSealer, cache *database.AccountCache) *Store {
	return &Store{pool: pool, sealer: sealer, cache: cache}
}

func (s *Store) openItem(item *models.LinkedItem) (*models.LinkedItem, error) {
	token, err := s.sealer.Open(item.AccessToken)
	if err != nil {
		return nil, apperr.Storage("open access token", err)
	}
	item.AccessToken = token
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id int64) (*models.LinkedItem, error) {
	item, err := GetLinkedItemSQL(ctx, s.pool, id)
	if err != nil {
		return nil, apperr.Storage("get linked item", err)
	}
	return s.openItem(item)
}

func (s *Store) GetItemByExternalID(ctx context.Context, itemID string) (*models.LinkedItem, error) {
	item, err := GetLinkedItemByExternalIDSQL(ctx, s.pool, itemID)
	if err != nil {
		return nil, apperr.Storage("get linked item", err)
	}
	return s.openItem(item)
}

func (s *Store) ListActiveItems(ctx context.Context, userID int64) ([]models.LinkedItem, error) {
	items, err := ListActiveItemsSQL(ctx, s.pool, userID)
	if err != nil {
		return nil, apperr.Storage("list linked items", err)
	}
	for i := range items {
		if _, err := s.openItem(&items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Store) ListUsersWithActiveItems(ctx context.Context) ([]int64, error) {
	users, err := ListUsersWithActiveItemsSQL(ctx, s.pool)
	return users, apperr.Storage("list users with linked items", err)
}

// ListLinkedAccounts returns the user's active items with their active accounts.
func (s *Store) ListLinkedAccounts(ctx context.Context, userID int64) ([]models.LinkedItemWithAccounts, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			return cached, nil
		}
	}

	items, err := ListActiveItemsSQL(ctx, s.pool, userID)
	if err != nil {
		return nil, apperr.Storage("list linked items", err)
	}
	accounts, err := ListActiveAccountsSQL(ctx, s.pool, userID)
	if err != nil {
		return nil, apperr.Storage("list linked accounts", err)
	}

	out := make([]models.LinkedItemWithAccounts, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		index[item.ID] = len(out)
		out = append(out, models.LinkedItemWithAccounts{Item: item, Accounts: []models.LinkedAccount{}})
	}
	for _, a := range accounts {
		if i, ok := index[a.ItemID]; ok {
			out[i].Accounts = append(out[i].Accounts, a)
		}
	}

	if s.cache != nil {
		s.cache.Set(userID, out)
	}
	return out, nil
}

// CreateLinkedItem stores the item, its accounts and an empty sync cursor in
// one transaction.
func (s *Store) CreateLinkedItem(ctx context.Context, item *models.LinkedItem, accounts []models.LinkedAccount) (*models.LinkedItemWithAccounts, error) {
	sealed, err := s.sealer.Seal(item.AccessToken)
	if err != nil {
		return nil, apperr.Storage("seal access token", err)
	}

	created := *item
	out := &models.LinkedItemWithAccounts{}
	err = database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		created.AccessToken = sealed
		if err := InsertLinkedItemSQL(ctx, tx, &created); err != nil {
			return err
		}
		for _, a := range accounts {
			a.ItemID = created.ID
			a.UserID = created.UserID
			if err := InsertLinkedAccountSQL(ctx, tx, &a); err != nil {
				return err
			}
			out.Accounts = append(out.Accounts, a)
		}
		return InsertSyncCursorSQL(ctx, tx, created.UserID, created.ID)
	})
	if err != nil {
		return nil, apperr.Storage("create linked item", err)
	}

	created.AccessToken = item.AccessToken
	out.Item = created
	if s.cache != nil {
		s.cache.Invalidate(created.UserID)
	}
	return out, nil
}

// UnlinkItem marks the item removed and deactivates its accounts.
func (s *Store) UnlinkItem(ctx context.Context, id int64) error {
	var userID int64
	err := database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		item, err := GetLinkedItemSQL(ctx, tx, id)
		if err != nil {
			return err
		}
		userID = item.UserID
		if err := MarkItemRemovedSQL(ctx, tx, id); err != nil {
			return err
		}
		return DeactivateAccountsSQL(ctx, tx, id)
	})
	if err != nil {
		return apperr.Storage("unlink item", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	return nil
}

func (s *Store) GetSyncCursor(ctx context.Context, itemID int64) (*models.SyncCursor, error) {
	cursor, err := GetSyncCursorSQL(ctx, s.pool, itemID)
	if err != nil {
		return nil, apperr.Storage("get sync cursor", err)
	}
	return cursor, nil
}

func (s *Store) AcquireSyncLease(ctx context.Context, item *models.LinkedItem, ttl time.Duration) (*models.SyncCursor, error) {
	cursor, err := AcquireSyncLeaseSQL(ctx, s.pool, item.UserID, item.ID, ttl)
	if err != nil {
		return nil, apperr.Storage("acquire sync lease", err)
	}
	return cursor, nil
}

func (s *Store) ReleaseSyncLease(ctx context.Context, itemID int64) error {
	return apperr.Storage("release sync lease", ReleaseSyncLeaseSQL(ctx, s.pool, itemID))
}

func (s *Store) WithTx(ctx context.Context, fn func(tx plaidsync.Tx) error) error {
	return database.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx})
	})
}

// txStore runs the reconciler's reads and writes inside one pass transaction.
type txStore struct {
	q database.DBTX
}

func (t *txStore) FindCategoryByNameContains(ctx context.Context, userID int64, fragment string) (*models.Category, error) {
	c, err := FindCategoryByNameContainsSQL(ctx, t.q, userID, fragment)
	return c, apperr.Storage("find category", err)
}

func (t *txStore) FindCategoryByName(ctx context.Context, userID int64, name string) (*models.Category, error) {
	c, err := FindCategoryByNameSQL(ctx, t.q, userID, name)
	return c, apperr.Storage("find category", err)
}

func (t *txStore) FirstCategory(ctx context.Context, userID int64) (*models.Category, error) {
	c, err := FirstCategorySQL(ctx, t.q, userID)
	return c, apperr.Storage("find category", err)
}

func (t *txStore) FindLinkedAccount(ctx context.Context, itemID int64, externalAccountID string) (*models.LinkedAccount, error) {
	a, err := FindLinkedAccountSQL(ctx, t.q, itemID, externalAccountID)
	return a, apperr.Storage("find linked account", err)
}

func (t *txStore) UpsertExternalTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	created, err := UpsertExternalTransactionSQL(ctx, t.q, txn)
	return created, apperr.Storage("upsert transaction", err)
}

func (t *txStore) UpdateExternalTransaction(ctx context.Context, userID int64, externalID string, amount decimal.Decimal, description string, date time.Time) (bool, error) {
	ok, err := UpdateExternalTransactionSQL(ctx, t.q, userID, externalID, amount, description, date)
	return ok, apperr.Storage("update transaction", err)
}

func (t *txStore) DeleteExternalTransaction(ctx context.Context, userID int64, externalID string) (bool, error) {
	ok, err := DeleteExternalTransactionSQL(ctx, t.q, userID, externalID)
	return ok, apperr.Storage("delete transaction", err)
}

func (t *txStore) AdvanceSyncCursor(ctx context.Context, itemID int64, cursor string, added, modified, removed int) error {
	return apperr.Storage("advance sync cursor", AdvanceSyncCursorSQL(ctx, t.q, itemID, cursor, added, modified, removed))
}

var _ plaidsync.Store = (*Store)(nil)
