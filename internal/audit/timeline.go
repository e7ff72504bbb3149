package audit

import (
	"encoding/json"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Filters narrows the audit log listing.
type Filters struct {
	Module string
	Action string
	UserID int64
	From   *time.Time
	To     *time.Time
	Window shared.Window
}

// Entry is one stored audit_logs row.
type Entry struct {
	ID          int64           `json:"id"`
	UserID      *int64          `json:"user_id"`
	Username    string          `json:"username"`
	IPAddress   string          `json:"ip_address"`
	Action      string          `json:"action"`
	Module      string          `json:"module"`
	RecordType  string          `json:"record_type"`
	RecordID    string          `json:"record_id"`
	OldValues   json.RawMessage `json:"old_values,omitempty"`
	NewValues   json.RawMessage `json:"new_values,omitempty"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Page wraps a window of entries with paging information.
type Page struct {
	Items   []Entry `json:"items"`
	Skip    int     `json:"skip"`
	Limit   int     `json:"limit"`
	HasNext bool    `json:"has_next"`
}
