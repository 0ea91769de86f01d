package models

import "github.com/shopspring/decimal"

const UncategorizedName = "Uncategorized"

type Category struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Name          string          `json:"name"`
	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
}
