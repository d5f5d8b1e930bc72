// Package memory provides scoped key-value memory shared between the
// compiler pipeline and the trigger scheduler. Records are addressed by
// (scope, scopeID, namespace, key) and resolve last-writer-wins.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Memory is the scoped-memory contract. Implementations must be safe
// for concurrent use.
type Memory interface {
	Get(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string, value json.RawMessage) error
	Delete(ctx context.Context, scope schema.MemoryScope, scopeID, namespace, key string) error
	List(ctx context.Context, scope schema.MemoryScope, scopeID, namespace string) ([]*schema.MemoryRecord, error)
}

type recordKey struct {
	scope     schema.MemoryScope
	scopeID   string
	namespace string
	key       string
}

// InMemory is a mutex-guarded Memory implementation used for tests and
// single-process embedding.
type InMemory struct {
	mu      sync.RWMutex
	records map[recordKey]*schema.MemoryRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[recordKey]*schema.MemoryRecord)}
}

func (m *InMemory) Get(_ context.Context, scope schema.MemoryScope, scopeID, namespace, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{scope, scopeID, namespace, key}]
	if !ok {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (m *InMemory) Set(_ context.Context, scope schema.MemoryScope, scopeID, namespace, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{scope, scopeID, namespace, key}] = &schema.MemoryRecord{
		Scope:     scope,
		ScopeID:   scopeID,
		Namespace: namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *InMemory) Delete(_ context.Context, scope schema.MemoryScope, scopeID, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{scope, scopeID, namespace, key})
	return nil
}

func (m *InMemory) List(_ context.Context, scope schema.MemoryScope, scopeID, namespace string) ([]*schema.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schema.MemoryRecord
	for k, rec := range m.records {
		if k.scope == scope && k.scopeID == scopeID && k.namespace == namespace {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}
