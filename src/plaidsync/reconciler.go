package plaidsync

import (
	"context"
	"fmt"
	"time"

	"budgeteer-server/src/models"

	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// reconciler applies provider pages to the ledger inside the pass transaction.
type reconciler struct {
	tx       Tx
	item     *models.LinkedItem
	resolver *CategoryResolver
	result   *Result
	logger   *zap.Logger

	// external account id -> account, nil when the item has no such account
	accounts map[string]*models.LinkedAccount
}

func newReconciler(tx Tx, item *models.LinkedItem, result *Result, logger *zap.Logger) *reconciler {
	return &reconciler{
		tx:       tx,
		item:     item,
		resolver: NewCategoryResolver(tx),
		result:   result,
		logger:   logger,
		accounts: make(map[string]*models.LinkedAccount),
	}
}

// apply writes one page: added, then modified, then removed.
func (r *reconciler) apply(ctx context.Context, page *Page) error {
	for _, txn := range page.Added {
		if err := r.applyAdded(ctx, txn); err != nil {
			return err
		}
	}
	for _, txn := range page.Modified {
		if err := r.applyModified(ctx, txn); err != nil {
			return err
		}
	}
	for _, id := range page.Removed {
		if err := r.applyRemoved(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *reconciler) applyAdded(ctx context.Context, ext ExternalTransaction) error {
	account, err := r.account(ctx, ext.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		r.logger.Info("skipping transaction for unknown account",
			zap.String("transaction_id", ext.TransactionID),
			zap.String("account_id", ext.AccountID))
		r.result.Skipped++
		return nil
	}

	date, ok := r.parseDate(ext)
	if !ok {
		r.result.Skipped++
		return nil
	}

	categoryID, err := r.resolver.Resolve(ctx, r.item.UserID, CategoryLabel(ext.Category))
	if err != nil {
		return err
	}

	externalID := ext.TransactionID
	txn := &models.Transaction{
		UserID:                r.item.UserID,
		CategoryID:            categoryID,
		Amount:                ext.Amount.Abs(),
		Description:           ext.Description(),
		Date:                  date,
		ExternalTransactionID: &externalID,
		LinkedAccountID:       &account.ID,
	}
	if _, err := r.tx.UpsertExternalTransaction(ctx, txn); err != nil {
		return fmt.Errorf("upsert transaction %s: %w", ext.TransactionID, err)
	}
	r.result.Added++
	return nil
}

func (r *reconciler) applyModified(ctx context.Context, ext ExternalTransaction) error {
	date, ok := r.parseDate(ext)
	if !ok {
		r.result.Skipped++
		return nil
	}

	updated, err := r.tx.UpdateExternalTransaction(ctx, r.item.UserID, ext.TransactionID, ext.Amount.Abs(), ext.Description(), date)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", ext.TransactionID, err)
	}
	if !updated {
		// Never seen as added; recorded separately rather than inserted.
		r.logger.Warn("modified transaction has no local row",
			zap.String("transaction_id", ext.TransactionID))
		r.result.Unmatched++
		return nil
	}
	r.result.Modified++
	return nil
}

func (r *reconciler) applyRemoved(ctx context.Context, externalID string) error {
	deleted, err := r.tx.DeleteExternalTransaction(ctx, r.item.UserID, externalID)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", externalID, err)
	}
	if deleted {
		r.result.Removed++
	}
	return nil
}

func (r *reconciler) account(ctx context.Context, externalAccountID string) (*models.LinkedAccount, error) {
	if account, ok := r.accounts[externalAccountID]; ok {
		return account, nil
	}
	account, err := r.tx.FindLinkedAccount(ctx, r.item.ID, externalAccountID)
	if err != nil {
		return nil, fmt.Errorf("find account %s: %w", externalAccountID, err)
	}
	r.accounts[externalAccountID] = account
	return account, nil
}

func (r *reconciler) parseDate(ext ExternalTransaction) (time.Time, bool) {
	date, err := time.Parse(dateLayout, ext.Date)
	if err != nil {
		r.logger.Warn("skipping transaction with unparseable date",
			zap.String("transaction_id", ext.TransactionID),
			zap.String("date", ext.Date))
		return time.Time{}, false
	}
	return date, true
}
