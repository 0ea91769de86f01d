package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/middleware"
	"budgeteer-server/src/models"
	"budgeteer-server/src/observability"
	"budgeteer-server/src/plaid"
	"budgeteer-server/src/plaidsync"
	"budgeteer-server/src/testutil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

type fakeLink struct {
	linkErr     error
	exchangeErr error
	itemErr     error
	accountsErr error
	removeErr   error

	accounts []models.LinkedAccount
	removed  []string
}

func (f *fakeLink) CreateLinkToken(_ context.Context, userID int64) (*plaid.LinkToken, error) {
	if f.linkErr != nil {
		return nil, f.linkErr
	}
	return &plaid.LinkToken{LinkToken: "link-sandbox-1", Expiration: time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeLink) ExchangeToken(_ context.Context, publicToken string) (*plaid.Exchange, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &plaid.Exchange{AccessToken: "access-new", ItemID: "item-new"}, nil
}

func (f *fakeLink) GetItem(_ context.Context, accessToken string) (*plaid.ItemInfo, error) {
	if f.itemErr != nil {
		return nil, f.itemErr
	}
	return &plaid.ItemInfo{ItemID: "item-new", InstitutionID: "ins_109508"}, nil
}

func (f *fakeLink) GetAccounts(_ context.Context, accessToken string) ([]models.LinkedAccount, error) {
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeLink) RemoveItem(_ context.Context, accessToken string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, accessToken)
	return nil
}

type env struct {
	store    *testutil.MemStore
	provider *testutil.FakeProvider
	link     *fakeLink
	syncer   *plaidsync.Syncer
	cfg      plaidsync.Config
	item     models.LinkedItem
	router   chi.Router
}

// newEnv seeds one active item with one account for alice and mounts the
// Plaid routes behind a stub that authenticates as the X-User header.
func newEnv(t *testing.T, mutate ...func(*plaidsync.Config)) *env {
	t.Helper()
	e := &env{
		store:    testutil.NewMemStore(),
		provider: testutil.NewFakeProvider(),
		link:     &fakeLink{accounts: []models.LinkedAccount{{AccountID: "acc-new", Name: "Savings", Type: "depository", Subtype: "savings", Currency: "USD"}}},
		cfg:      plaidsync.DefaultConfig(),
	}
	for _, m := range mutate {
		m(&e.cfg)
	}
	e.item = e.store.AddItem(models.LinkedItem{UserID: alice, ItemID: "item-1", AccessToken: "access-1", InstitutionName: "First Platypus Bank"})
	e.store.AddAccount(models.LinkedAccount{ItemID: e.item.ID, UserID: alice, AccountID: "acc-1", Name: "Checking", IsActive: true})
	e.store.SetCursor(models.SyncCursor{UserID: alice, ItemID: e.item.ID})
	e.syncer = plaidsync.NewSyncer(e.store, e.provider, e.cfg, observability.NewMetrics(), zap.NewNop())

	logger := zap.NewNop()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if raw := req.Header.Get("X-User"); raw != "" {
				var id int64
				if raw == "bob" {
					id = bob
				} else {
					id = alice
				}
				req = req.WithContext(middleware.WithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/plaid/create-link-token", CreateLinkToken(e.link, logger))
	r.Post("/plaid/exchange-token", ExchangePublicToken(e.link, e.store, logger))
	r.Get("/plaid/accounts", GetLinkedAccounts(e.store, logger))
	r.Delete("/plaid/accounts/{itemId}", UnlinkItem(e.link, e.store, logger))
	r.Post("/plaid/sync", SyncTransactions(e.store, e.syncer, logger))
	r.Post("/plaid/sync/{itemId}", SyncTransactions(e.store, e.syncer, logger))
	r.Get("/plaid/sync/{itemId}/status", GetSyncStatus(e.store, logger))
	e.router = r
	return e
}

func (e *env) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func coffee(id string) plaidsync.ExternalTransaction {
	return plaidsync.ExternalTransaction{
		TransactionID: id,
		AccountID:     "acc-1",
		Amount:        decimal.RequireFromString("4.75"),
		Date:          "2024-02-10",
		Name:          "Blue Bottle",
	}
}

func TestCreateLinkToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/plaid/create-link-token", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "link-sandbox-1", decode[map[string]any](t, rec)["link_token"])

	e.link.linkErr = errors.New("boom")
	rec = e.do(http.MethodPost, "/plaid/create-link-token", "alice", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to create link token", decode[map[string]string](t, rec)["error"])
}

func TestHandlers_RequireUser(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "/plaid/accounts", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExchangePublicToken(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/plaid/exchange-token", "bob",
		`{"public_token":"public-sandbox-abc","institution":{"institution_id":"ins_1","name":"Gingham Bank"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[models.LinkedItemWithAccounts](t, rec)
	assert.Equal(t, bob, created.Item.UserID)
	assert.Equal(t, "item-new", created.Item.ItemID)
	assert.Equal(t, "ins_109508", created.Item.InstitutionID, "provider institution wins over Link metadata")
	assert.Equal(t, "Gingham Bank", created.Item.InstitutionName)
	require.Len(t, created.Accounts, 1)
	assert.Equal(t, "acc-new", created.Accounts[0].AccountID)
	assert.NotContains(t, rec.Body.String(), "access-new", "access token is never returned")

	cursor, ok := e.store.Cursor(created.Item.ID)
	require.True(t, ok)
	assert.Empty(t, cursor.Cursor)
}

func TestExchangePublicToken_ItemDetailsOptional(t *testing.T) {
	e := newEnv(t)
	e.link.itemErr = errors.New("institution lookup failed")

	rec := e.do(http.MethodPost, "/plaid/exchange-token", "alice",
		`{"public_token":"public-sandbox-abc","institution":{"institution_id":"ins_1","name":"Gingham Bank"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ins_1", decode[models.LinkedItemWithAccounts](t, rec).Item.InstitutionID)
}

func TestExchangePublicToken_Failures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		setup       func(e *env)
		wantStatus  int
		wantRemoved bool
	}{
		{name: "malformed body", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "missing token", body: `{"institution":{"name":"x"}}`, wantStatus: http.StatusBadRequest},
		{
			name:       "exchange fails",
			body:       `{"public_token":"public-sandbox-abc"}`,
			setup:      func(e *env) { e.link.exchangeErr = &apperr.UpstreamError{Provider: "plaid", Code: "INVALID_PUBLIC_TOKEN"} },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "accounts fail",
			body:       `{"public_token":"public-sandbox-abc"}`,
			setup:      func(e *env) { e.link.accountsErr = errors.New("timeout") },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "storage fails",
			body: `{"public_token":"public-sandbox-abc"}`,
			setup: func(e *env) {
				e.store.Fail = func(op string) error {
					if op == "CreateLinkedItem" {
						return apperr.ErrStorage
					}
					return nil
				}
			},
			wantStatus:  http.StatusInternalServerError,
			wantRemoved: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if tt.setup != nil {
				tt.setup(e)
			}
			rec := e.do(http.MethodPost, "/plaid/exchange-token", "alice", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantRemoved {
				assert.Equal(t, []string{"access-new"}, e.link.removed)
			} else {
				assert.Empty(t, e.link.removed)
			}
		})
	}
}

func TestGetLinkedAccounts(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodGet, "/plaid/accounts", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]models.LinkedItemWithAccounts](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "item-1", items[0].Item.ItemID)
	require.Len(t, items[0].Accounts, 1)
	assert.Equal(t, "acc-1", items[0].Accounts[0].AccountID)

	rec = e.do(http.MethodGet, "/plaid/accounts", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	e.store.Fail = func(string) error { return apperr.ErrStorage }
	rec = e.do(http.MethodGet, "/plaid/accounts", "alice", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSyncTransactions_Item(t *testing.T) {
	e := newEnv(t)
	e.provider.OnCursor("", &plaidsync.Page{Added: []plaidsync.ExternalTransaction{coffee("t1")}, NextCursor: "c1"})

	rec := e.do(http.MethodPost, "/plaid/sync/1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Stats plaidsync.Result `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Stats.Added)
	assert.False(t, body.Stats.Incomplete)

	txns := e.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, "4.75", txns[0].Amount.StringFixed(2))
}

func TestSyncTransactions_User(t *testing.T) {
	e := newEnv(t)
	e.provider.OnCursor("", &plaidsync.Page{Added: []plaidsync.ExternalTransaction{coffee("t1"), coffee("t2")}, NextCursor: "c1"})

	rec := e.do(http.MethodPost, "/plaid/sync", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decode[map[string]map[string]any](t, rec)["stats"]["added"])

	rec = e.do(http.MethodPost, "/plaid/sync", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]map[string]any](t, rec)["stats"]["added"])
}

func TestSyncTransactions_Incomplete(t *testing.T) {
	e := newEnv(t, func(c *plaidsync.Config) { c.MaxPages = 1 })
	e.provider.OnCursor("", &plaidsync.Page{Added: []plaidsync.ExternalTransaction{coffee("t1")}, NextCursor: "c1", HasMore: true})

	rec := e.do(http.MethodPost, "/plaid/sync/1", "alice", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode[map[string]map[string]any](t, rec)["stats"]["incomplete"])

	cursor, _ := e.store.Cursor(e.item.ID)
	assert.Equal(t, "c1", cursor.Cursor)
}

func TestSyncTransactions_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		user       string
		setup      func(e *env)
		wantStatus int
	}{
		{name: "bad id", path: "/plaid/sync/abc", user: "alice", wantStatus: http.StatusBadRequest},
		{name: "not owned", path: "/plaid/sync/1", user: "bob", wantStatus: http.StatusForbidden},
		{name: "absent", path: "/plaid/sync/999", user: "alice", wantStatus: http.StatusNotFound},
		{
			name: "removed item",
			path: "/plaid/sync/1",
			user: "alice",
			setup: func(e *env) {
				require.NoError(t, e.store.UnlinkItem(context.Background(), e.item.ID))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "in progress",
			path: "/plaid/sync/1",
			user: "alice",
			setup: func(e *env) {
				now := time.Now()
				e.store.SetCursor(models.SyncCursor{UserID: alice, ItemID: e.item.ID, SyncingSince: &now})
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "provider error",
			path: "/plaid/sync/1",
			user: "alice",
			setup: func(e *env) {
				e.provider.Err = func(int, string) error {
					return &apperr.UpstreamError{Provider: "plaid", Operation: "transactions sync", Code: "ITEM_LOGIN_REQUIRED"}
				}
			},
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "storage error",
			path: "/plaid/sync/1",
			user: "alice",
			setup: func(e *env) {
				e.provider.OnCursor("", &plaidsync.Page{NextCursor: "c1"})
				e.store.Fail = func(op string) error {
					if op == "WithTx" {
						return apperr.Storage("begin", errors.New("connection reset"))
					}
					return nil
				}
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "in progress during user sync",
			path: "/plaid/sync",
			user: "alice",
			setup: func(e *env) {
				now := time.Now()
				e.store.SetCursor(models.SyncCursor{UserID: alice, ItemID: e.item.ID, SyncingSince: &now})
			},
			wantStatus: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if tt.setup != nil {
				tt.setup(e)
			}
			rec := e.do(http.MethodPost, tt.path, tt.user, "")
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestGetSyncStatus(t *testing.T) {
	e := newEnv(t)
	e.provider.OnCursor("", &plaidsync.Page{Added: []plaidsync.ExternalTransaction{coffee("t1")}, NextCursor: "c1"})
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/plaid/sync/1", "alice", "").Code)

	rec := e.do(http.MethodGet, "/plaid/sync/1/status", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cursor := decode[models.SyncCursor](t, rec)
	assert.Equal(t, "c1", cursor.Cursor)
	assert.EqualValues(t, 1, cursor.AddedCount)
	assert.NotNil(t, cursor.LastSyncedAt)
	assert.Nil(t, cursor.SyncingSince)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/plaid/sync/1/status", "bob", "").Code)
}

func TestUnlinkItem(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/plaid/accounts/1", "bob", "").Code, "other users see 404")
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/plaid/accounts/999", "alice", "").Code)
	assert.Empty(t, e.link.removed)

	rec := e.do(http.MethodDelete, "/plaid/accounts/1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Item unlinked", decode[map[string]string](t, rec)["message"])
	assert.Equal(t, []string{"access-1"}, e.link.removed)

	item, _ := e.store.Item(e.item.ID)
	assert.Equal(t, models.ItemStatusRemoved, item.Status)
	for _, a := range e.store.Accounts(e.item.ID) {
		assert.False(t, a.IsActive)
	}

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodDelete, "/plaid/accounts/1", "alice", "").Code, "already removed")
}

func TestUnlinkItem_ProviderFailureKeepsItem(t *testing.T) {
	e := newEnv(t)
	e.link.removeErr = &apperr.UpstreamError{Provider: "plaid", Code: "INTERNAL_SERVER_ERROR"}

	rec := e.do(http.MethodDelete, "/plaid/accounts/1", "alice", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	item, _ := e.store.Item(e.item.ID)
	assert.True(t, item.IsActive())
}
