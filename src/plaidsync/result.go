package plaidsync

// Result summarizes one pass, or the sum of several when syncing a user.
type Result struct {
	ItemID     int64 `json:"item_id,omitempty"`
	Added      int   `json:"added"`
	Modified   int   `json:"modified"`
	Removed    int   `json:"removed"`
	Skipped    int   `json:"skipped"`
	Unmatched  int   `json:"unmatched"`
	Pages      int   `json:"pages"`
	Incomplete bool  `json:"incomplete"`

	Cursor string `json:"-"`
}

func (r *Result) merge(o *Result) {
	r.Added += o.Added
	r.Modified += o.Modified
	r.Removed += o.Removed
	r.Skipped += o.Skipped
	r.Unmatched += o.Unmatched
	r.Pages += o.Pages
	r.Incomplete = r.Incomplete || o.Incomplete
}
