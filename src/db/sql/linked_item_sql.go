package db

import (
	"context"
	"errors"
	"fmt"

	"budgeteer-server/src/apperr"
	database "budgeteer-server/src/db"
	"budgeteer-server/src/models"

	"github.com/jackc/pgx/v5"
)

const linkedItemColumns = `id, user_id, access_token, item_id, institution_id, institution_name, status, created_at, updated_at`

func scanLinkedItem(row pgx.Row) (*models.LinkedItem, error) {
	var item models.LinkedItem
	err := row.Scan(&item.ID, &item.UserID, &item.AccessToken, &item.ItemID, &item.InstitutionID, &item.InstitutionName, &item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertLinkedItemSQL stores a new active item and fills in its generated fields.
func InsertLinkedItemSQL(ctx context.Context, q database.DBTX, item *models.LinkedItem) error {
	query := `
		INSERT INTO linked_items (user_id, access_token, item_id, institution_id, institution_name, status)
		VALUES ($1, $2, $3, $4, $5, 'active')
		RETURNING id, status, created_at, updated_at
	`
	return q.QueryRow(ctx, query, item.UserID, item.AccessToken, item.ItemID, item.InstitutionID, item.InstitutionName).
		Scan(&item.ID, &item.Status, &item.CreatedAt, &item.UpdatedAt)
}

func GetLinkedItemSQL(ctx context.Context, q database.DBTX, id int64) (*models.LinkedItem, error) {
	query := `SELECT ` + linkedItemColumns + ` FROM linked_items WHERE id = $1`
	item, err := scanLinkedItem(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("linked item %d: %w", id, apperr.ErrNotFound)
	}
	return item, err
}

func GetLinkedItemByExternalIDSQL(ctx context.Context, q database.DBTX, itemID string) (*models.LinkedItem, error) {
	query := `SELECT ` + linkedItemColumns + ` FROM linked_items WHERE item_id = $1`
	item, err := scanLinkedItem(q.QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("linked item %s: %w", itemID, apperr.ErrNotFound)
	}
	return item, err
}

func ListActiveItemsSQL(ctx context.Context, q database.DBTX, userID int64) ([]models.LinkedItem, error) {
	query := `SELECT ` + linkedItemColumns + ` FROM linked_items WHERE user_id = $1 AND status = 'active' ORDER BY id`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.LinkedItem
	for rows.Next() {
		item, err := scanLinkedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}

	return items, rows.Err()
}

func ListUsersWithActiveItemsSQL(ctx context.Context, q database.DBTX) ([]int64, error) {
	query := `SELECT DISTINCT user_id FROM linked_items WHERE status = 'active' ORDER BY user_id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	return users, rows.Err()
}

// MarkItemRemovedSQL flips the item to removed. The row is never deleted.
func MarkItemRemovedSQL(ctx context.Context, q database.DBTX, id int64) error {
	query := `UPDATE linked_items SET status = 'removed', updated_at = NOW() WHERE id = $1`
	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("linked item %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}
