package models

import "time"

const (
	ItemStatusActive  = "active"
	ItemStatusRemoved = "removed"
)

// LinkedItem is one Plaid bank connection. Items are never hard-deleted; unlinking flips Status.
type LinkedItem struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	AccessToken     string    `json:"-"`
	ItemID          string    `json:"item_id"`
	InstitutionID   string    `json:"institution_id"`
	InstitutionName string    `json:"institution_name"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (i *LinkedItem) IsActive() bool {
	return i.Status == ItemStatusActive
}

// LinkedItemWithAccounts is the shape returned by GET /plaid/accounts.
type LinkedItemWithAccounts struct {
	Item     LinkedItem      `json:"item"`
	Accounts []LinkedAccount `json:"accounts"`
}
