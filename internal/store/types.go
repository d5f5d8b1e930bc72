package store

import (
	"encoding/json"
	"time"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Tool statuses.
const (
	ToolStatusDraft    = "draft"
	ToolStatusActive   = "active"
	ToolStatusArchived = "archived"
)

// Trigger run outcomes.
const (
	RunStatusDispatched = "dispatched"
	RunStatusSucceeded  = "succeeded"
	RunStatusFailed     = "failed"
	RunStatusSkipped    = "skipped"
)

// Tool is the persisted head record for a generated tool. The spec
// content itself lives in versioned rows; the head pins the active one.
type Tool struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	OrgID         string     `json:"org_id"`
	Status        string     `json:"status"`
	ActiveVersion int64      `json:"active_version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// ToolVersion is one immutable materialized spec for a tool. Versions
// are append-only; activating a version updates the head pointer.
type ToolVersion struct {
	ToolID    string           `json:"tool_id"`
	Version   int64            `json:"version"`
	Spec      *schema.ToolSpec `json:"spec"`
	CreatedBy string           `json:"created_by,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TriggerRun is an immutable entry in the per-tool trigger run log.
type TriggerRun struct {
	ID        int64           `json:"id"`
	ToolID    string          `json:"tool_id"`
	TriggerID string          `json:"trigger_id"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// TriggerStats summarizes the tail of a trigger's run log.
type TriggerStats struct {
	TriggerID           string     `json:"trigger_id"`
	TotalRuns           int64      `json:"total_runs"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	LastStatus          string     `json:"last_status,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// --- Filter and update types ---

// ToolFilter specifies criteria for listing tools.
type ToolFilter struct {
	Status string     `json:"status,omitempty"`
	OrgID  string     `json:"org_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// ToolUpdate specifies mutable fields of a tool head.
type ToolUpdate struct {
	Name          *string    `json:"name,omitempty"`
	Status        *string    `json:"status,omitempty"`
	ActiveVersion *int64     `json:"active_version,omitempty"`
	ArchivedAt    *time.Time `json:"archived_at,omitempty"`
}

// TriggerRunFilter specifies criteria for listing trigger runs.
type TriggerRunFilter struct {
	TriggerID string     `json:"trigger_id,omitempty"`
	Status    string     `json:"status,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}
