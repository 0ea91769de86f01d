package db

import (
	"context"
	"errors"
	"strings"

	database "budgeteer-server/src/db"
	"budgeteer-server/src/models"

	"github.com/jackc/pgx/v5"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func queryCategory(ctx context.Context, q database.DBTX, query string, args ...any) (*models.Category, error) {
	var c models.Category
	err := q.QueryRow(ctx, query, args...).Scan(&c.ID, &c.UserID, &c.Name, &c.MonthlyBudget)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCategoryByNameContainsSQL returns the lowest-id category whose name
// contains fragment, ignoring case.
func FindCategoryByNameContainsSQL(ctx context.Context, q database.DBTX, userID int64, fragment string) (*models.Category, error) {
	query := `
		SELECT id, user_id, name, monthly_budget FROM categories
		WHERE user_id = $1 AND name ILIKE '%' || $2 || '%'
		ORDER BY id LIMIT 1
	`
	return queryCategory(ctx, q, query, userID, likeEscaper.Replace(fragment))
}

func FindCategoryByNameSQL(ctx context.Context, q database.DBTX, userID int64, name string) (*models.Category, error) {
	query := `
		SELECT id, user_id, name, monthly_budget FROM categories
		WHERE user_id = $1 AND LOWER(name) = LOWER($2)
		ORDER BY id LIMIT 1
	`
	return queryCategory(ctx, q, query, userID, name)
}

func FirstCategorySQL(ctx context.Context, q database.DBTX, userID int64) (*models.Category, error) {
	query := `SELECT id, user_id, name, monthly_budget FROM categories WHERE user_id = $1 ORDER BY id LIMIT 1`
	return queryCategory(ctx, q, query, userID)
}
