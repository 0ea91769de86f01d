package models

import "time"

// SyncCursor is the per-item checkpoint of the transactions sync. There is at most one per item.
type SyncCursor struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	ItemID        int64      `json:"item_id"`
	Cursor        string     `json:"cursor"`
	AddedCount    int64      `json:"added_count"`
	ModifiedCount int64      `json:"modified_count"`
	RemovedCount  int64      `json:"removed_count"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	SyncingSince  *time.Time `json:"syncing_since,omitempty"`
}
