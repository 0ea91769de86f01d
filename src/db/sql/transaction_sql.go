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
	"github.com/shopspring/decimal"
)

// UpsertExternalTransactionSQL inserts an imported transaction or refreshes
// the existing row with the same external id. The category of an existing
// row is left alone so user re-categorizations survive re-delivery.
func UpsertExternalTransactionSQL(ctx context.Context, q database.DBTX, txn *models.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (user_id, category_id, amount, description, date, external_transaction_id, linked_account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_transaction_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			date = EXCLUDED.date,
			linked_account_id = EXCLUDED.linked_account_id
		WHERE transactions.user_id = EXCLUDED.user_id
		RETURNING id, created_at, (xmax = 0) AS inserted
	`
	var created bool
	err := q.QueryRow(ctx, query,
		txn.UserID,
		txn.CategoryID,
		txn.Amount,
		txn.Description,
		txn.Date,
		txn.ExternalTransactionID,
		txn.LinkedAccountID,
	).Scan(&txn.ID, &txn.CreatedAt, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("transaction %s: %w", *txn.ExternalTransactionID, apperr.ErrNotOwned)
	}
	return created, err
}

// UpdateExternalTransactionSQL reports false when the user has no row with that external id.
func UpdateExternalTransactionSQL(ctx context.Context, q database.DBTX, userID int64, externalID string, amount decimal.Decimal, description string, date time.Time) (bool, error) {
	query := `
		UPDATE transactions SET amount = $3, description = $4, date = $5
		WHERE user_id = $1 AND external_transaction_id = $2
	`
	tag, err := q.Exec(ctx, query, userID, externalID, amount, description, date)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func DeleteExternalTransactionSQL(ctx context.Context, q database.DBTX, userID int64, externalID string) (bool, error) {
	query := `DELETE FROM transactions WHERE user_id = $1 AND external_transaction_id = $2`
	tag, err := q.Exec(ctx, query, userID, externalID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
