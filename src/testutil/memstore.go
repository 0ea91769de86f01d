// Package testutil provides an in-memory implementation of the server's
// stores for tests. Transactions work on a copy of the state that replaces
// the original only on commit, so rollback behaviour matches Postgres.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"budgeteer-server/src/apperr"
	"budgeteer-server/src/models"
	"budgeteer-server/src/plaidsync"

	"github.com/shopspring/decimal"
)

type memState struct {
	nextID       int64
	items        map[int64]models.LinkedItem
	accounts     map[int64]models.LinkedAccount
	cursors      map[int64]models.SyncCursor
	transactions map[int64]models.Transaction
	categories   map[int64]models.Category
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:       s.nextID,
		items:        make(map[int64]models.LinkedItem, len(s.items)),
		accounts:     make(map[int64]models.LinkedAccount, len(s.accounts)),
		cursors:      make(map[int64]models.SyncCursor, len(s.cursors)),
		transactions: make(map[int64]models.Transaction, len(s.transactions)),
		categories:   make(map[int64]models.Category, len(s.categories)),
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// MemStore satisfies plaidsync.Store and the handler and scheduler store interfaces.
// Transactions are serialized.
type MemStore struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state *memState

	// Fail, when set, is consulted before every operation; a non-nil return
	// is reported as that operation's error.
	Fail func(op string) error
	Now  func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		state: (&memState{}).clone(),
		Now:   time.Now,
	}
}

func (m *MemStore) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

// Seeding and inspection helpers.

func (m *MemStore) AddItem(item models.LinkedItem) models.LinkedItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.state.id()
	if item.Status == "" {
		item.Status = models.ItemStatusActive
	}
	m.state.items[item.ID] = item
	return item
}

func (m *MemStore) AddAccount(account models.LinkedAccount) models.LinkedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.ID = m.state.id()
	m.state.accounts[account.ID] = account
	return account
}

func (m *MemStore) AddCategory(userID int64, name string) models.Category {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := models.Category{ID: m.state.id(), UserID: userID, Name: name, MonthlyBudget: decimal.Zero}
	m.state.categories[c.ID] = c
	return c
}

func (m *MemStore) AddTransaction(txn models.Transaction) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn.ID = m.state.id()
	m.state.transactions[txn.ID] = txn
	return txn
}

// Transactions returns the ledger ordered by id.
func (m *MemStore) Transactions() []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Transaction, 0, len(m.state.transactions))
	for _, t := range m.state.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cursor returns the item's sync cursor, if any.
func (m *MemStore) Cursor(itemID int64) (models.SyncCursor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.cursors[itemID]
	return c, ok
}

func (m *MemStore) SetCursor(c models.SyncCursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.cursors[c.ItemID] = c
}

func (m *MemStore) Item(id int64) (models.LinkedItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.state.items[id]
	return item, ok
}

func (m *MemStore) Accounts(itemID int64) []models.LinkedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return accountsOf(m.state, itemID, false)
}

// Store operations.

func (m *MemStore) GetItem(_ context.Context, id int64) (*models.LinkedItem, error) {
	if err := m.fail("GetItem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.state.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, apperr.ErrNotFound)
	}
	return &item, nil
}

func (m *MemStore) GetItemByExternalID(_ context.Context, itemID string) (*models.LinkedItem, error) {
	if err := m.fail("GetItemByExternalID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.state.items {
		if item.ItemID == itemID {
			return &item, nil
		}
	}
	return nil, fmt.Errorf("item %s: %w", itemID, apperr.ErrNotFound)
}

func (m *MemStore) ListActiveItems(_ context.Context, userID int64) ([]models.LinkedItem, error) {
	if err := m.fail("ListActiveItems"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return activeItems(m.state, userID), nil
}

func (m *MemStore) ListUsersWithActiveItems(_ context.Context) ([]int64, error) {
	if err := m.fail("ListUsersWithActiveItems"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]bool)
	var users []int64
	for _, item := range m.state.items {
		if item.IsActive() && !seen[item.UserID] {
			seen[item.UserID] = true
			users = append(users, item.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func (m *MemStore) ListLinkedAccounts(_ context.Context, userID int64) ([]models.LinkedItemWithAccounts, error) {
	if err := m.fail("ListLinkedAccounts"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LinkedItemWithAccounts
	for _, item := range activeItems(m.state, userID) {
		out = append(out, models.LinkedItemWithAccounts{Item: item, Accounts: accountsOf(m.state, item.ID, true)})
	}
	return out, nil
}

func (m *MemStore) CreateLinkedItem(_ context.Context, item *models.LinkedItem, accounts []models.LinkedAccount) (*models.LinkedItemWithAccounts, error) {
	if err := m.fail("CreateLinkedItem"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	created := *item
	created.ID = m.state.id()
	created.Status = models.ItemStatusActive
	created.CreatedAt, created.UpdatedAt = now, now
	m.state.items[created.ID] = created

	out := &models.LinkedItemWithAccounts{Item: created}
	for _, a := range accounts {
		a.ID = m.state.id()
		a.ItemID = created.ID
		a.UserID = created.UserID
		a.IsActive = true
		a.CreatedAt = now
		m.state.accounts[a.ID] = a
		out.Accounts = append(out.Accounts, a)
	}
	m.state.cursors[created.ID] = models.SyncCursor{ID: m.state.id(), UserID: created.UserID, ItemID: created.ID}
	return out, nil
}

func (m *MemStore) UnlinkItem(_ context.Context, id int64) error {
	if err := m.fail("UnlinkItem"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.state.items[id]
	if !ok {
		return fmt.Errorf("item %d: %w", id, apperr.ErrNotFound)
	}
	item.Status = models.ItemStatusRemoved
	item.UpdatedAt = m.Now()
	m.state.items[id] = item
	for k, a := range m.state.accounts {
		if a.ItemID == id {
			a.IsActive = false
			m.state.accounts[k] = a
		}
	}
	return nil
}

func (m *MemStore) GetSyncCursor(_ context.Context, itemID int64) (*models.SyncCursor, error) {
	if err := m.fail("GetSyncCursor"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.cursors[itemID]
	if !ok {
		return nil, fmt.Errorf("sync cursor for item %d: %w", itemID, apperr.ErrNotFound)
	}
	return &c, nil
}

func (m *MemStore) AcquireSyncLease(_ context.Context, item *models.LinkedItem, ttl time.Duration) (*models.SyncCursor, error) {
	if err := m.fail("AcquireSyncLease"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	c, ok := m.state.cursors[item.ID]
	if !ok {
		c = models.SyncCursor{ID: m.state.id(), UserID: item.UserID, ItemID: item.ID}
	}
	if c.SyncingSince != nil && now.Sub(*c.SyncingSince) < ttl {
		return nil, fmt.Errorf("item %d: %w", item.ID, apperr.ErrSyncInProgress)
	}
	c.SyncingSince = &now
	m.state.cursors[item.ID] = c
	return &c, nil
}

func (m *MemStore) ReleaseSyncLease(_ context.Context, itemID int64) error {
	if err := m.fail("ReleaseSyncLease"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.state.cursors[itemID]; ok {
		c.SyncingSince = nil
		m.state.cursors[itemID] = c
	}
	return nil
}

func (m *MemStore) WithTx(ctx context.Context, fn func(tx plaidsync.Tx) error) error {
	if err := m.fail("WithTx"); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	draft := m.state.clone()
	m.mu.Unlock()

	if err := fn(&memTx{store: m, state: draft}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// keep lease changes made outside the transaction
	for id, current := range m.state.cursors {
		c, ok := draft.cursors[id]
		if !ok {
			draft.cursors[id] = current
			continue
		}
		c.SyncingSince = current.SyncingSince
		draft.cursors[id] = c
	}
	draft.nextID = max(draft.nextID, m.state.nextID)
	m.state = draft
	return nil
}

type memTx struct {
	store *MemStore
	state *memState
}

func (t *memTx) FindCategoryByNameContains(_ context.Context, userID int64, fragment string) (*models.Category, error) {
	if err := t.store.fail("FindCategoryByNameContains"); err != nil {
		return nil, err
	}
	fragment = strings.ToLower(fragment)
	return lowestCategory(t.state, userID, func(c models.Category) bool {
		return strings.Contains(strings.ToLower(c.Name), fragment)
	}), nil
}

func (t *memTx) FindCategoryByName(_ context.Context, userID int64, name string) (*models.Category, error) {
	if err := t.store.fail("FindCategoryByName"); err != nil {
		return nil, err
	}
	return lowestCategory(t.state, userID, func(c models.Category) bool {
		return strings.EqualFold(c.Name, name)
	}), nil
}

func (t *memTx) FirstCategory(_ context.Context, userID int64) (*models.Category, error) {
	if err := t.store.fail("FirstCategory"); err != nil {
		return nil, err
	}
	return lowestCategory(t.state, userID, func(models.Category) bool { return true }), nil
}

func (t *memTx) FindLinkedAccount(_ context.Context, itemID int64, externalAccountID string) (*models.LinkedAccount, error) {
	if err := t.store.fail("FindLinkedAccount"); err != nil {
		return nil, err
	}
	for _, a := range t.state.accounts {
		if a.ItemID == itemID && a.AccountID == externalAccountID {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpsertExternalTransaction(_ context.Context, txn *models.Transaction) (bool, error) {
	if err := t.store.fail("UpsertExternalTransaction"); err != nil {
		return false, err
	}
	if id, ok := t.findExternal(txn.UserID, *txn.ExternalTransactionID); ok {
		existing := t.state.transactions[id]
		existing.Amount = txn.Amount
		existing.Description = txn.Description
		existing.Date = txn.Date
		existing.LinkedAccountID = txn.LinkedAccountID
		t.state.transactions[id] = existing
		return false, nil
	}
	row := *txn
	row.ID = t.state.id()
	row.CreatedAt = t.store.Now()
	t.state.transactions[row.ID] = row
	return true, nil
}

func (t *memTx) UpdateExternalTransaction(_ context.Context, userID int64, externalID string, amount decimal.Decimal, description string, date time.Time) (bool, error) {
	if err := t.store.fail("UpdateExternalTransaction"); err != nil {
		return false, err
	}
	id, ok := t.findExternal(userID, externalID)
	if !ok {
		return false, nil
	}
	row := t.state.transactions[id]
	row.Amount = amount
	row.Description = description
	row.Date = date
	t.state.transactions[id] = row
	return true, nil
}

func (t *memTx) DeleteExternalTransaction(_ context.Context, userID int64, externalID string) (bool, error) {
	if err := t.store.fail("DeleteExternalTransaction"); err != nil {
		return false, err
	}
	id, ok := t.findExternal(userID, externalID)
	if !ok {
		return false, nil
	}
	delete(t.state.transactions, id)
	return true, nil
}

func (t *memTx) AdvanceSyncCursor(_ context.Context, itemID int64, cursor string, added, modified, removed int) error {
	if err := t.store.fail("AdvanceSyncCursor"); err != nil {
		return err
	}
	c, ok := t.state.cursors[itemID]
	if !ok {
		return fmt.Errorf("sync cursor for item %d: %w", itemID, apperr.ErrNotFound)
	}
	now := t.store.Now()
	c.Cursor = cursor
	c.AddedCount += int64(added)
	c.ModifiedCount += int64(modified)
	c.RemovedCount += int64(removed)
	c.LastSyncedAt = &now
	t.state.cursors[itemID] = c
	return nil
}

func (t *memTx) findExternal(userID int64, externalID string) (int64, bool) {
	for id, row := range t.state.transactions {
		if row.UserID == userID && row.ExternalTransactionID != nil && *row.ExternalTransactionID == externalID {
			return id, true
		}
	}
	return 0, false
}

func activeItems(s *memState, userID int64) []models.LinkedItem {
	var out []models.LinkedItem
	for _, item := range s.items {
		if item.UserID == userID && item.IsActive() {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func accountsOf(s *memState, itemID int64, activeOnly bool) []models.LinkedAccount {
	var out []models.LinkedAccount
	for _, a := range s.accounts {
		if a.ItemID == itemID && (!activeOnly || a.IsActive) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func lowestCategory(s *memState, userID int64, match func(models.Category) bool) *models.Category {
	var best *models.Category
	for _, c := range s.categories {
		if c.UserID != userID || !match(c) {
			continue
		}
		if best == nil || c.ID < best.ID {
			c := c
			best = &c
		}
	}
	return best
}

var _ plaidsync.Store = (*MemStore)(nil)
