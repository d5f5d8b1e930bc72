package schema

import (
	"encoding/json"
	"time"
)

// MemoryScope partitions memory records. Each scope value is combined with
// the owning identifiers (tool, user, org, session) by the caller when
// building the scope key.
type MemoryScope string

const (
	ScopeTool     MemoryScope = "tool"
	ScopeToolUser MemoryScope = "tool_user"
	ScopeToolOrg  MemoryScope = "tool_org"
	ScopeSession  MemoryScope = "session"
	ScopeUser     MemoryScope = "user"
	ScopeOrg      MemoryScope = "org"
)

// MemoryRecord is a (scope, namespace, key) -> value entry with
// last-writer-wins semantics and no cross-key transactionality.
type MemoryRecord struct {
	Scope     MemoryScope     `json:"scope"`
	ScopeID   string          `json:"scope_id"` // e.g. "<tool_id>/<org_id>" for tool_org
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SchedulerNamespace is the reserved namespace for scheduler bookkeeping
// (last-run timestamps, failure counters, the automation-paused flag).
const SchedulerNamespace = "tool_builder"
