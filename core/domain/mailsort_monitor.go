package domain

import (
	"time"
)

// =============================================================================
// Monitor
// =============================================================================

// MonitorStatus is the persisted control record for one mailbox monitor.
// LastCheckAt drives the fetch window of the next check; a nil value means
// the monitor has never run and the next check uses the bootstrap lookback.
type MonitorStatus struct {
	ID          int64      `json:"id"`
	MailboxID   int64      `json:"mailbox_id"`
	IsActive    bool       `json:"is_active"`
	LastCheckAt *time.Time `json:"last_check_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`

	// LastFoundCount is how many messages the latest completed fetch
	// returned, including zero.
	LastFoundCount int `json:"last_found_count"`

	TotalChecks    int64 `json:"total_checks"`
	TotalFetched   int64 `json:"total_fetched"`
	TotalProcessed int64 `json:"total_processed"`
	TotalForwarded int64 `json:"total_forwarded"`
	TotalErrors    int64 `json:"total_errors"`
}

// CheckOutcome classifies what a single monitor check did.
type CheckOutcome string

const (
	CheckCompleted CheckOutcome = "completed"
	CheckSkipped   CheckOutcome = "skipped" // min interval not elapsed or lease held
	CheckFailed    CheckOutcome = "failed"
)

// CheckResult summarizes one monitor check over one mailbox.
type CheckResult struct {
	MailboxID  int64        `json:"mailbox_id"`
	Outcome    CheckOutcome `json:"outcome"`
	Reason     string       `json:"reason,omitempty"`
	WindowFrom time.Time    `json:"window_from"`

	Fetched    int `json:"fetched"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Processed  int `json:"processed"`
	Forwarded  int `json:"forwarded"`
	Errors     int `json:"errors"`

	// ByCategory counts classified messages per assigned category.
	ByCategory map[string]int `json:"by_category,omitempty"`

	Elapsed time.Duration `json:"elapsed_ms"`
}
