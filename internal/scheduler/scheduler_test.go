package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolsmithhq/toolsmith/internal/logging"
	"github.com/toolsmithhq/toolsmith/internal/memory"
	"github.com/toolsmithhq/toolsmith/internal/store"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

type staticSource struct {
	refs []ToolRef
}

func (s staticSource) ExecutableTools(context.Context) ([]ToolRef, error) {
	return s.refs, nil
}

type fakeDispatcher struct {
	mu            sync.Mutex
	actionCalls   []string
	workflowCalls []string
	fail          map[string]error
	panicOn       string
	lastCtx       context.Context
}

func (d *fakeDispatcher) DispatchAction(ctx context.Context, toolID string, action *schema.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := toolID + "/" + action.ID
	if key == d.panicOn {
		panic("dispatcher exploded")
	}
	d.lastCtx = ctx
	d.actionCalls = append(d.actionCalls, key)
	return d.fail[key]
}

func (d *fakeDispatcher) DispatchWorkflow(_ context.Context, toolID, workflowID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := toolID + "/" + workflowID
	d.workflowCalls = append(d.workflowCalls, key)
	return d.fail[key]
}

func (d *fakeDispatcher) actionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.actionCalls)
}

type fakeRecorder struct {
	runs []*store.TriggerRun
}

func (r *fakeRecorder) AppendTriggerRun(_ context.Context, run *store.TriggerRun) error {
	r.runs = append(r.runs, run)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cronSpec(triggers ...schema.RecurringTrigger) *schema.ToolSpec {
	return &schema.ToolSpec{
		Kind: schema.ToolSpecKindTool,
		Actions: []schema.Action{
			{ID: "sync_crm", Kind: schema.ActionKindIntegrationCall},
			{ID: "send_report", Kind: schema.ActionKindIntegrationCall},
		},
		Triggers: triggers,
	}
}

func newTestScheduler(refs []ToolRef, d Dispatcher, rec RunRecorder) (*Scheduler, *memory.InMemory, *time.Time) {
	mem := memory.NewInMemory()
	s := NewScheduler(staticSource{refs: refs}, d, mem, rec, discardLogger())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, mem, &clock
}

func TestResolveInterval(t *testing.T) {
	tests := []struct {
		name string
		cond schema.TriggerCondition
		want time.Duration
	}{
		{"every five minutes", schema.TriggerCondition{Cron: "*/5 * * * *"}, 5 * time.Minute},
		{"every two hours", schema.TriggerCondition{Cron: "0 */2 * * * *"}, 120 * time.Minute},
		{"unparseable falls back to interval", schema.TriggerCondition{Cron: "banana", IntervalMinutes: 10}, 10 * time.Minute},
		{"interval only", schema.TriggerCondition{IntervalMinutes: 15}, 15 * time.Minute},
		{"nothing defaults to one minute", schema.TriggerCondition{}, time.Minute},
		{"complex cron falls through", schema.TriggerCondition{Cron: "30 4 * * 1", IntervalMinutes: 7}, 7 * time.Minute},
		{"restricted hour field falls back", schema.TriggerCondition{Cron: "*/5 1 * * *", IntervalMinutes: 10}, 10 * time.Minute},
		{"restricted dow on hourly shape falls back", schema.TriggerCondition{Cron: "0 */2 * * 1", IntervalMinutes: 45}, 45 * time.Minute},
		{"restricted minute shape without fallback defaults", schema.TriggerCondition{Cron: "*/5 1 * * *"}, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveInterval(tt.cond))
		})
	}
}

func TestTickDispatchesDueTrigger(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{Cron: "*/5 * * * *"},
		ActionID:  "sync_crm",
	})}
	s, _, _ := newTestScheduler([]ToolRef{ref}, d, nil)

	s.Tick(context.Background())
	assert.Equal(t, []string{"crm/sync_crm"}, d.actionCalls)
}

func TestDispatchStampsCorrelationIDs(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{Cron: "*/5 * * * *"},
		ActionID:  "sync_crm",
	})}
	s, _, _ := newTestScheduler([]ToolRef{ref}, d, nil)

	s.Tick(context.Background())
	require.NotNil(t, d.lastCtx)
	assert.Equal(t, "crm", logging.ToolID(d.lastCtx))
	assert.Equal(t, "t1", logging.TriggerID(d.lastCtx))
	assert.Equal(t, "org-1", logging.OrgID(d.lastCtx))
}

func TestTickRespectsInterval(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{Cron: "*/5 * * * *"},
		ActionID:  "sync_crm",
	})}
	s, _, clock := newTestScheduler([]ToolRef{ref}, d, nil)
	ctx := context.Background()

	s.Tick(ctx)
	require.Equal(t, 1, d.actionCount())

	// Four minutes later: not due yet.
	*clock = clock.Add(4 * time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 1, d.actionCount())

	// At the five-minute mark: due again.
	*clock = clock.Add(time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 2, d.actionCount())
}

func TestTickSkipsDisabledAndManualTriggers(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(
		schema.RecurringTrigger{ID: "off", Enabled: false, Kind: schema.TriggerScheduleCron, ActionID: "sync_crm"},
		schema.RecurringTrigger{ID: "manual", Enabled: true, Kind: schema.TriggerScheduleManual, ActionID: "sync_crm"},
	)}
	s, _, _ := newTestScheduler([]ToolRef{ref}, d, nil)

	s.Tick(context.Background())
	assert.Empty(t, d.actionCalls)
}

func TestTickSkipsNonExecutableSpec(t *testing.T) {
	d := &fakeDispatcher{}
	spec := cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron, ActionID: "sync_crm",
	})
	spec.Kind = schema.ToolSpecKindDraft
	s, _, _ := newTestScheduler([]ToolRef{{ToolID: "crm", OrgID: "org-1", Spec: spec}}, d, nil)

	s.Tick(context.Background())
	assert.Empty(t, d.actionCalls)
}

func TestFailureThresholdPausesTool(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"crm/sync_crm": errors.New("integration unreachable")}}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{IntervalMinutes: 1, FailureThreshold: 3},
		ActionID:  "sync_crm",
	})}
	rec := &fakeRecorder{}
	s, _, clock := newTestScheduler([]ToolRef{ref}, d, rec)
	ctx := context.Background()

	// Three consecutive failures trip the breaker on the third.
	for i := 0; i < 3; i++ {
		s.Tick(ctx)
		*clock = clock.Add(time.Minute)
	}
	require.Equal(t, 3, d.actionCount())

	paused, err := s.Paused(ctx, ref)
	require.NoError(t, err)
	assert.True(t, paused)

	// Fourth tick: no dispatch for the paused tool.
	s.Tick(ctx)
	assert.Equal(t, 3, d.actionCount())

	require.Len(t, rec.runs, 3)
	assert.Equal(t, store.RunStatusFailed, rec.runs[0].Status)
	assert.Equal(t, "integration unreachable", rec.runs[0].Error)
}

func TestSuccessResetsOwnCounterNotPauseFlag(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"crm/sync_crm": errors.New("boom")}}
	crm := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{IntervalMinutes: 1, FailureThreshold: 2},
		ActionID:  "sync_crm",
	})}
	billing := ToolRef{ToolID: "billing", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t2", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{IntervalMinutes: 1, FailureThreshold: 2},
		ActionID:  "send_report",
	})}
	s, mem, clock := newTestScheduler([]ToolRef{crm, billing}, d, nil)
	ctx := context.Background()

	// Two failures pause crm; billing keeps succeeding.
	s.Tick(ctx)
	*clock = clock.Add(time.Minute)
	s.Tick(ctx)
	*clock = clock.Add(time.Minute)

	paused, err := s.Paused(ctx, crm)
	require.NoError(t, err)
	require.True(t, paused)

	// Billing's success reset its own counter to zero but left crm paused.
	s.Tick(ctx)
	paused, err = s.Paused(ctx, crm)
	require.NoError(t, err)
	assert.True(t, paused, "only an operator resets the pause flag")

	raw, found, err := mem.Get(ctx, schema.ScopeToolOrg, "billing:org-1", schema.SchedulerNamespace, "failures:t2")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `0`, string(raw))
}

func TestResumeClearsPauseAndCounters(t *testing.T) {
	d := &fakeDispatcher{fail: map[string]error{"crm/sync_crm": errors.New("boom")}}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{IntervalMinutes: 1, FailureThreshold: 1},
		ActionID:  "sync_crm",
	})}
	s, _, clock := newTestScheduler([]ToolRef{ref}, d, nil)
	ctx := context.Background()

	s.Tick(ctx)
	paused, err := s.Paused(ctx, ref)
	require.NoError(t, err)
	require.True(t, paused)

	require.NoError(t, s.Resume(ctx, ref))
	paused, err = s.Paused(ctx, ref)
	require.NoError(t, err)
	require.False(t, paused)

	// Dispatch works again after the operator reset.
	d.fail = nil
	*clock = clock.Add(time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 2, d.actionCount())
}

func TestTickContainsPanicPerTool(t *testing.T) {
	d := &fakeDispatcher{panicOn: "crm/sync_crm"}
	crm := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron, ActionID: "sync_crm",
	})}
	billing := ToolRef{ToolID: "billing", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t2", Enabled: true, Kind: schema.TriggerScheduleCron, ActionID: "send_report",
	})}
	s, _, _ := newTestScheduler([]ToolRef{crm, billing}, d, nil)

	s.Tick(context.Background())
	assert.Equal(t, []string{"billing/send_report"}, d.actionCalls)
}

func TestDispatchWorkflowBinding(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron, WorkflowID: "nightly_pipeline",
	})}
	s, _, _ := newTestScheduler([]ToolRef{ref}, d, nil)

	s.Tick(context.Background())
	assert.Equal(t, []string{"crm/nightly_pipeline"}, d.workflowCalls)
	assert.Empty(t, d.actionCalls)
}

func TestDispatchUnknownActionCountsAsFailure(t *testing.T) {
	d := &fakeDispatcher{}
	ref := ToolRef{ToolID: "crm", OrgID: "org-1", Spec: cronSpec(schema.RecurringTrigger{
		ID: "t1", Enabled: true, Kind: schema.TriggerScheduleCron,
		Condition: schema.TriggerCondition{IntervalMinutes: 1, FailureThreshold: 1},
		ActionID:  "no_such_action",
	})}
	s, _, _ := newTestScheduler([]ToolRef{ref}, d, nil)
	ctx := context.Background()

	s.Tick(ctx)
	assert.Empty(t, d.actionCalls)

	paused, err := s.Paused(ctx, ref)
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestStartStop(t *testing.T) {
	d := &fakeDispatcher{}
	s, _, _ := newTestScheduler(nil, d, nil)

	require.NoError(t, s.Start(context.Background(), time.Hour))
	require.Error(t, s.Start(context.Background(), time.Hour), "double start rejected")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestNextRun(t *testing.T) {
	s, _, _ := newTestScheduler(nil, &fakeDispatcher{}, nil)

	from := time.Date(2026, 3, 1, 12, 2, 0, 0, time.UTC)
	next, err := s.NextRun("*/5 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), next)

	_, err = s.NextRun("not a cron", from)
	require.Error(t, err)
}
