package plaidsync

import (
	"context"
	"time"

	"budgeteer-server/src/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence the syncer runs against outside a pass.
type Store interface {
	GetItem(ctx context.Context, id int64) (*models.LinkedItem, error)
	ListActiveItems(ctx context.Context, userID int64) ([]models.LinkedItem, error)
	// AcquireSyncLease creates the item's cursor if missing and claims it for one
	// pass. It fails with apperr.ErrSyncInProgress while a lease younger than ttl is held.
	AcquireSyncLease(ctx context.Context, item *models.LinkedItem, ttl time.Duration) (*models.SyncCursor, error)
	ReleaseSyncLease(ctx context.Context, itemID int64) error
	// WithTx runs fn in one storage transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// CategoryLookup finds categories for the resolver. Lookups return nil, nil when nothing matches.
type CategoryLookup interface {
	FindCategoryByNameContains(ctx context.Context, userID int64, fragment string) (*models.Category, error)
	FindCategoryByName(ctx context.Context, userID int64, name string) (*models.Category, error)
	FirstCategory(ctx context.Context, userID int64) (*models.Category, error)
}

// Tx is the transactional view used while applying a pass.
type Tx interface {
	CategoryLookup

	// FindLinkedAccount returns nil, nil when the item has no such account.
	FindLinkedAccount(ctx context.Context, itemID int64, externalAccountID string) (*models.LinkedAccount, error)
	// UpsertExternalTransaction inserts txn or, when its external id already
	// exists, refreshes amount, description, date and account in place.
	UpsertExternalTransaction(ctx context.Context, txn *models.Transaction) (created bool, err error)
	UpdateExternalTransaction(ctx context.Context, userID int64, externalID string, amount decimal.Decimal, description string, date time.Time) (bool, error)
	DeleteExternalTransaction(ctx context.Context, userID int64, externalID string) (bool, error)
	AdvanceSyncCursor(ctx context.Context, itemID int64, cursor string, added, modified, removed int) error
}
