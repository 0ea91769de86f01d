package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LinkedAccount struct {
	ID               int64               `json:"id"`
	ItemID           int64               `json:"item_id"`
	UserID           int64               `json:"user_id"`
	AccountID        string              `json:"account_id"`
	Name             string              `json:"name"`
	Type             string              `json:"type"`
	Subtype          string              `json:"subtype"`
	AvailableBalance decimal.NullDecimal `json:"available_balance"`
	CurrentBalance   decimal.NullDecimal `json:"current_balance"`
	Currency         string              `json:"currency"`
	IsActive         bool                `json:"is_active"`
	CreatedAt        time.Time           `json:"created_at"`
}
