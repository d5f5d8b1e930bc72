package store

import (
	"context"
	"encoding/json"

	"github.com/toolsmithhq/toolsmith/internal/memory"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Tool heads
	CreateTool(ctx context.Context, tool *Tool) error
	GetTool(ctx context.Context, id string) (*Tool, error)
	UpdateTool(ctx context.Context, id string, update ToolUpdate) error
	ListTools(ctx context.Context, filter ToolFilter) ([]*Tool, error)
	DeleteTool(ctx context.Context, id string) error

	// Tool versions (append-only)
	PutVersion(ctx context.Context, v *ToolVersion) error
	GetVersion(ctx context.Context, toolID string, version int64) (*ToolVersion, error)
	GetActiveSpec(ctx context.Context, toolID string) (*schema.ToolSpec, error)
	ListVersions(ctx context.Context, toolID string) ([]*ToolVersion, error)

	// Trigger run log (append-only)
	AppendTriggerRun(ctx context.Context, run *TriggerRun) error
	ListTriggerRuns(ctx context.Context, toolID string, filter TriggerRunFilter) ([]*TriggerRun, error)

	// Scoped memory
	GetMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) (json.RawMessage, bool, error)
	SetMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string, value json.RawMessage) error
	DeleteMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) error
	ListMemory(ctx context.Context, scope schema.MemoryScope, scopeID, namespace string) ([]*schema.MemoryRecord, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AsMemory adapts a Store's memory tables to the memory.Memory contract
// so the scheduler can run against durable state.
func AsMemory(s Store) memory.Memory {
	return storeMemory{s: s}
}

type storeMemory struct {
	s Store
}

func (m storeMemory) Get(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) (json.RawMessage, bool, error) {
	return m.s.GetMemory(ctx, scope, scopeID, namespace, key)
}

func (m storeMemory) Set(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string, value json.RawMessage) error {
	return m.s.SetMemory(ctx, scope, scopeID, namespace, key, value)
}

func (m storeMemory) Delete(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) error {
	return m.s.DeleteMemory(ctx, scope, scopeID, namespace, key)
}

func (m storeMemory) List(ctx context.Context, scope schema.MemoryScope, scopeID, namespace string) ([]*schema.MemoryRecord, error) {
	return m.s.ListMemory(ctx, scope, scopeID, namespace)
}
