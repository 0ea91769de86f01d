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

const linkedAccountColumns = `id, item_id, user_id, account_id, name, type, subtype, available_balance, current_balance, currency, is_active, created_at`

func scanLinkedAccount(row pgx.Row) (*models.LinkedAccount, error) {
	var a models.LinkedAccount
	err := row.Scan(&a.ID, &a.ItemID, &a.UserID, &a.AccountID, &a.Name, &a.Type, &a.Subtype, &a.AvailableBalance, &a.CurrentBalance, &a.Currency, &a.IsActive, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertLinkedAccountSQL stores an account under its item. Relinking an
// institution reactivates accounts it already knows.
func InsertLinkedAccountSQL(ctx context.Context, q database.DBTX, account *models.LinkedAccount) error {
	query := `
		INSERT INTO linked_accounts (item_id, user_id, account_id, name, type, subtype, available_balance, current_balance, currency, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (account_id) DO UPDATE SET
			item_id = EXCLUDED.item_id,
			name = EXCLUDED.name,
			available_balance = EXCLUDED.available_balance,
			current_balance = EXCLUDED.current_balance,
			is_active = TRUE
		WHERE linked_accounts.user_id = EXCLUDED.user_id
		RETURNING id, is_active, created_at
	`
	err := q.QueryRow(ctx, query,
		account.ItemID,
		account.UserID,
		account.AccountID,
		account.Name,
		account.Type,
		account.Subtype,
		account.AvailableBalance,
		account.CurrentBalance,
		account.Currency,
	).Scan(&account.ID, &account.IsActive, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("account %s: %w", account.AccountID, apperr.ErrNotOwned)
	}
	return err
}

// FindLinkedAccountSQL returns nil, nil when the item has no such account.
func FindLinkedAccountSQL(ctx context.Context, q database.DBTX, itemID int64, accountID string) (*models.LinkedAccount, error) {
	query := `SELECT ` + linkedAccountColumns + ` FROM linked_accounts WHERE item_id = $1 AND account_id = $2`
	account, err := scanLinkedAccount(q.QueryRow(ctx, query, itemID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return account, err
}

// ListActiveAccountsSQL returns the active accounts of the user's active items.
func ListActiveAccountsSQL(ctx context.Context, q database.DBTX, userID int64) ([]models.LinkedAccount, error) {
	query := `
		SELECT a.id, a.item_id, a.user_id, a.account_id, a.name, a.type, a.subtype, a.available_balance, a.current_balance, a.currency, a.is_active, a.created_at
		FROM linked_accounts a
		JOIN linked_items i ON a.item_id = i.id
		WHERE i.user_id = $1 AND i.status = 'active' AND a.is_active
		ORDER BY a.item_id, a.id
	`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.LinkedAccount
	for rows.Next() {
		account, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}

	return accounts, rows.Err()
}

func DeactivateAccountsSQL(ctx context.Context, q database.DBTX, itemID int64) error {
	_, err := q.Exec(ctx, `UPDATE linked_accounts SET is_active = FALSE WHERE item_id = $1`, itemID)
	return err
}
