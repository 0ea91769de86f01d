// Package plaidsync keeps the local transaction ledger in step with the bank
// data provider using cursor-based incremental sync.
package plaidsync

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrRestartPagination means the provider's data changed while a pass was
// paging; the pass must be discarded and restarted from its starting cursor.
var ErrRestartPagination = errors.New("transactions changed during pagination")

// ExternalTransaction is one provider record as delivered by a sync page.
// Amount keeps the provider's sign; the reconciler stores its magnitude.
type ExternalTransaction struct {
	TransactionID string
	AccountID     string
	Amount        decimal.Decimal
	Date          string
	Name          string
	MerchantName  string
	Category      string
	Pending       bool
	Currency      string
}

// Description is the merchant name when the provider resolved one, otherwise the raw name.
func (t ExternalTransaction) Description() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// Page is one response of the provider's paginated sync endpoint.
type Page struct {
	Added      []ExternalTransaction
	Modified   []ExternalTransaction
	Removed    []string
	NextCursor string
	HasMore    bool
}

// Provider is the part of the bank data provider the syncer needs.
type Provider interface {
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*Page, error)
}
