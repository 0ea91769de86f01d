package testutil

import (
	"context"
	"fmt"
	"sync"

	"budgeteer-server/src/plaidsync"
)

// SyncCall records one SyncTransactions request.
type SyncCall struct {
	AccessToken string
	Cursor      string
	Count       int
}

// FakeProvider serves scripted sync pages keyed by the request cursor, or by
// access token and cursor when several items share a provider.
type FakeProvider struct {
	mu      sync.Mutex
	pages   map[string]*plaidsync.Page
	byToken map[string]*plaidsync.Page
	calls   []SyncCall

	// Err, when set, is consulted before serving a page. call is 1-based.
	Err func(call int, cursor string) error
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		pages:   make(map[string]*plaidsync.Page),
		byToken: make(map[string]*plaidsync.Page),
	}
}

// OnCursor scripts the page returned for a request made with cursor.
func (p *FakeProvider) OnCursor(cursor string, page *plaidsync.Page) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[cursor] = page
	return p
}

// OnItem scripts the page returned for accessToken at cursor. It takes
// precedence over OnCursor.
func (p *FakeProvider) OnItem(accessToken, cursor string, page *plaidsync.Page) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byToken[accessToken+"|"+cursor] = page
	return p
}

func (p *FakeProvider) Calls() []SyncCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SyncCall(nil), p.calls...)
}

func (p *FakeProvider) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*plaidsync.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, SyncCall{AccessToken: accessToken, Cursor: cursor, Count: count})
	call := len(p.calls)
	page, ok := p.byToken[accessToken+"|"+cursor]
	if !ok {
		page, ok = p.pages[cursor]
	}
	hook := p.Err
	p.mu.Unlock()

	if hook != nil {
		if err := hook(call, cursor); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("no page scripted for cursor %q", cursor)
	}
	return page, nil
}

var _ plaidsync.Provider = (*FakeProvider)(nil)
