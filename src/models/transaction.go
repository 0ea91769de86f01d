package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a row of the local ledger. Amount is always stored as a magnitude.
type Transaction struct {
	ID                    int64           `json:"id"`
	UserID                int64           `json:"user_id"`
	CategoryID            *int64          `json:"category_id"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description"`
	Date                  time.Time       `json:"date"`
	ExternalTransactionID *string         `json:"external_transaction_id"`
	LinkedAccountID       *int64          `json:"linked_account_id"`
	CreatedAt             time.Time       `json:"created_at"`
}
