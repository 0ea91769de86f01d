package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgeteer-server/src/apperr"
	database "budgeteer-server/src/db"
	"budgeteer-server/src/models"

	"github.com/jackc/pgx/v5"
)

const syncCursorColumns = `id, user_id, item_id, cursor, added_count, modified_count, removed_count, last_synced_at, syncing_since`

func scanSyncCursor(row pgx.Row) (*models.SyncCursor, error) {
	var c models.SyncCursor
	err := row.Scan(&c.ID, &c.UserID, &c.ItemID, &c.Cursor, &c.AddedCount, &c.ModifiedCount, &c.RemovedCount, &c.LastSyncedAt, &c.SyncingSince)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertSyncCursorSQL creates the item's empty cursor if it does not exist yet.
func InsertSyncCursorSQL(ctx context.Context, q database.DBTX, userID, itemID int64) error {
	query := `
		INSERT INTO sync_cursors (user_id, item_id)
		VALUES ($1, $2)
		ON CONFLICT (item_id) DO NOTHING
	`
	_, err := q.Exec(ctx, query, userID, itemID)
	return err
}

func GetSyncCursorSQL(ctx context.Context, q database.DBTX, itemID int64) (*models.SyncCursor, error) {
	query := `SELECT ` + syncCursorColumns + ` FROM sync_cursors WHERE item_id = $1`
	cursor, err := scanSyncCursor(q.QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sync cursor for item %d: %w", itemID, apperr.ErrNotFound)
	}
	return cursor, err
}

// AcquireSyncLeaseSQL claims the item for one pass. The claim succeeds when no
// pass holds it or the holder's lease is older than ttl.
func AcquireSyncLeaseSQL(ctx context.Context, q database.DBTX, userID, itemID int64, ttl time.Duration) (*models.SyncCursor, error) {
	if err := InsertSyncCursorSQL(ctx, q, userID, itemID); err != nil {
		return nil, err
	}

	query := `
		UPDATE sync_cursors SET syncing_since = NOW()
		WHERE item_id = $1
		  AND (syncing_since IS NULL OR syncing_since < NOW() - make_interval(secs => $2))
		RETURNING ` + syncCursorColumns
	cursor, err := scanSyncCursor(q.QueryRow(ctx, query, itemID, ttl.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", itemID, apperr.ErrSyncInProgress)
	}
	return cursor, err
}

func ReleaseSyncLeaseSQL(ctx context.Context, q database.DBTX, itemID int64) error {
	_, err := q.Exec(ctx, `UPDATE sync_cursors SET syncing_since = NULL WHERE item_id = $1`, itemID)
	return err
}

// AdvanceSyncCursorSQL stores the new cursor and adds the pass counts to the running totals.
func AdvanceSyncCursorSQL(ctx context.Context, q database.DBTX, itemID int64, cursor string, added, modified, removed int) error {
	query := `
		UPDATE sync_cursors SET
			cursor = $2,
			added_count = added_count + $3,
			modified_count = modified_count + $4,
			removed_count = removed_count + $5,
			last_synced_at = NOW()
		WHERE item_id = $1
	`
	tag, err := q.Exec(ctx, query, itemID, cursor, added, modified, removed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync cursor for item %d: %w", itemID, apperr.ErrNotFound)
	}
	return nil
}
