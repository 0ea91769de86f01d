package plaid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/models"
	"budgeteer-server/src/observability"
	"budgeteer-server/src/plaidsync"
	"budgeteer-server/src/resilience"

	"github.com/plaid/plaid-go/v41/plaid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	providerName = "plaid"

	codeMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"
)

type Config struct {
	ClientName string
	WebhookURL string
	Timeout    time.Duration
	Retry      resilience.Config
}

type LinkToken struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
}

type Exchange struct {
	AccessToken string
	ItemID      string
}

type ItemInfo struct {
	ItemID        string
	InstitutionID string
}

// Client is the bank data provider adapter. Every call runs behind a shared
// circuit breaker, with a per-attempt timeout and retries for transient failures.
type Client struct {
	api     *plaid.APIClient
	cfg     Config
	cb      *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewClient(api *plaid.APIClient, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	if cfg.ClientName == "" {
		cfg.ClientName = "Budgeteer"
	}
	return &Client{
		api:     api,
		cfg:     cfg,
		cb:      resilience.NewCircuitBreaker(providerName, countsAsSuccess),
		metrics: metrics,
		logger:  logger.With(zap.String("component", "plaid")),
	}
}

func (c *Client) CreateLinkToken(ctx context.Context, userID int64) (*LinkToken, error) {
	user := plaid.LinkTokenCreateRequestUser{
		ClientUserId: strconv.FormatInt(userID, 10),
	}
	request := plaid.NewLinkTokenCreateRequest(
		c.cfg.ClientName,
		"en",
		[]plaid.CountryCode{plaid.COUNTRYCODE_US},
		user,
	)
	request.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})
	if c.cfg.WebhookURL != "" {
		request.SetWebhook(c.cfg.WebhookURL)
	}

	var out LinkToken
	err := c.call(ctx, "link_token_create", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*request).Execute()
		if err != nil {
			return err
		}
		out = LinkToken{LinkToken: resp.GetLinkToken(), Expiration: resp.GetExpiration()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExchangeToken(ctx context.Context, publicToken string) (*Exchange, error) {
	request := plaid.NewItemPublicTokenExchangeRequest(publicToken)

	var out Exchange
	err := c.call(ctx, "item_public_token_exchange", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*request).Execute()
		if err != nil {
			return err
		}
		out = Exchange{AccessToken: resp.GetAccessToken(), ItemID: resp.GetItemId()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetItem(ctx context.Context, accessToken string) (*ItemInfo, error) {
	request := plaid.NewItemGetRequest(accessToken)

	var out ItemInfo
	err := c.call(ctx, "item_get", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.ItemGet(ctx).ItemGetRequest(*request).Execute()
		if err != nil {
			return err
		}
		item := resp.GetItem()
		out = ItemInfo{ItemID: item.GetItemId(), InstitutionID: item.GetInstitutionId()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccounts returns the item's accounts with external fields populated.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]models.LinkedAccount, error) {
	request := plaid.NewAccountsGetRequest(accessToken)

	var out []models.LinkedAccount
	err := c.call(ctx, "accounts_get", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		if err != nil {
			return err
		}
		out = out[:0]
		for _, acc := range resp.GetAccounts() {
			out = append(out, toLinkedAccount(acc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*plaidsync.Page, error) {
	request := plaid.NewTransactionsSyncRequest(accessToken)
	if cursor != "" {
		request.SetCursor(cursor)
	}
	if count > 0 {
		request.SetCount(int32(count))
	}

	var page *plaidsync.Page
	err := c.call(ctx, "transactions_sync", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
		if err != nil {
			return err
		}
		page = toPage(resp)
		return nil
	})
	if err != nil {
		return nil, restartOnMutation(err)
	}
	return page, nil
}

// restartOnMutation marks the provider's "data changed while paging" error so
// the syncer restarts the pass.
func restartOnMutation(err error) error {
	var up *apperr.UpstreamError
	if errors.As(err, &up) && up.Code == codeMutationDuringPagination {
		return fmt.Errorf("%w: %w", plaidsync.ErrRestartPagination, err)
	}
	return err
}

func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	request := plaid.NewItemRemoveRequest(accessToken)
	return c.call(ctx, "item_remove", func(ctx context.Context) error {
		_, _, err := c.api.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*request).Execute()
		return err
	})
}

func (c *Client) WebhookVerificationKey(ctx context.Context, kid string) (*plaid.JWKPublicKey, error) {
	request := plaid.NewWebhookVerificationKeyGetRequest(kid)

	var key plaid.JWKPublicKey
	err := c.call(ctx, "webhook_verification_key_get", func(ctx context.Context) error {
		resp, _, err := c.api.PlaidApi.WebhookVerificationKeyGet(ctx).WebhookVerificationKeyGetRequest(*request).Execute()
		if err != nil {
			return err
		}
		key = resp.GetKey()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg.Retry, func() error {
			attemptCtx := ctx
			if c.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
				defer cancel()
			}
			err := fn(attemptCtx)
			if err == nil {
				return nil
			}
			up := upstreamError(op, err)
			if !up.Retryable() {
				return resilience.Permanent(up)
			}
			return up
		})
	})
	if err == nil {
		return nil
	}

	c.metrics.IncrProviderError(op)
	if resilience.IsOpen(err) {
		err = &apperr.UpstreamError{Provider: providerName, Operation: op, Code: "CIRCUIT_OPEN", Message: err.Error(), Err: err}
	}
	c.logger.Warn("plaid call failed", zap.String("operation", op), zap.Error(err))
	return err
}

// countsAsSuccess keeps client-side failures, such as an item needing
// re-login, from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var up *apperr.UpstreamError
	if errors.As(err, &up) {
		return up.Code != "" && !up.Retryable()
	}
	return false
}

func upstreamError(op string, err error) *apperr.UpstreamError {
	var up *apperr.UpstreamError
	if errors.As(err, &up) {
		return up
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &apperr.UpstreamError{Provider: providerName, Operation: op, Err: err}
	}
	perr, convErr := plaid.ToPlaidError(err)
	if convErr != nil || perr.ErrorCode == "" {
		return &apperr.UpstreamError{Provider: providerName, Operation: op, Err: err}
	}
	return fromPlaidError(op, perr, err)
}

func fromPlaidError(op string, perr plaid.PlaidError, err error) *apperr.UpstreamError {
	code := perr.ErrorCode
	if string(perr.ErrorType) == "RATE_LIMIT_EXCEEDED" {
		code = "RATE_LIMIT_EXCEEDED"
	}
	return &apperr.UpstreamError{
		Provider:  providerName,
		Operation: op,
		Code:      code,
		Message:   perr.ErrorMessage,
		Err:       err,
	}
}

func toPage(resp plaid.TransactionsSyncResponse) *plaidsync.Page {
	page := &plaidsync.Page{
		NextCursor: resp.GetNextCursor(),
		HasMore:    resp.GetHasMore(),
	}
	for _, t := range resp.GetAdded() {
		page.Added = append(page.Added, toExternal(t))
	}
	for _, t := range resp.GetModified() {
		page.Modified = append(page.Modified, toExternal(t))
	}
	for _, r := range resp.GetRemoved() {
		page.Removed = append(page.Removed, r.GetTransactionId())
	}
	return page
}

func toExternal(t plaid.Transaction) plaidsync.ExternalTransaction {
	return plaidsync.ExternalTransaction{
		TransactionID: t.GetTransactionId(),
		AccountID:     t.GetAccountId(),
		Amount:        decimal.NewFromFloat(t.GetAmount()),
		Date:          t.GetDate(),
		Name:          t.GetName(),
		MerchantName:  t.GetMerchantName(),
		Category:      t.GetPersonalFinanceCategory().Primary,
		Pending:       t.GetPending(),
		Currency:      t.GetIsoCurrencyCode(),
	}
}

func toLinkedAccount(acc plaid.AccountBase) models.LinkedAccount {
	balances := acc.GetBalances()
	account := models.LinkedAccount{
		AccountID: acc.GetAccountId(),
		Name:      acc.GetName(),
		Type:      string(acc.GetType()),
		Subtype:   string(acc.GetSubtype()),
		Currency:  balances.GetIsoCurrencyCode(),
		IsActive:  true,
	}
	if v, ok := balances.GetAvailableOk(); ok && v != nil {
		account.AvailableBalance = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
	}
	if v, ok := balances.GetCurrentOk(); ok && v != nil {
		account.CurrentBalance = decimal.NewNullDecimal(decimal.NewFromFloat(*v))
	}
	return account
}
