// Package scheduler runs the recurring-trigger control loop. Once per
// tick it walks every executable tool, evaluates its cron-like triggers
// against last-run timestamps held in scoped memory, dispatches due
// triggers, and maintains failure counters plus a per-tool
// automation-paused circuit breaker.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolsmithhq/toolsmith/internal/logging"
	"github.com/toolsmithhq/toolsmith/internal/memory"
	"github.com/toolsmithhq/toolsmith/internal/store"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// Memory keys under the scheduler namespace. Last-run and failure-count
// are per trigger; the paused flag covers the whole tool.
const (
	pausedKey     = "automation-paused"
	lastRunPrefix = "last_run:"
	failurePrefix = "failures:"
)

// DefaultTickInterval is used when Start receives a non-positive interval.
const DefaultTickInterval = 60 * time.Second

// Dispatcher invokes the action or workflow bound to a due trigger.
// The scheduler only cares whether the call returned an error.
type Dispatcher interface {
	DispatchAction(ctx context.Context, toolID string, action *schema.Action) error
	DispatchWorkflow(ctx context.Context, toolID, workflowID string) error
}

// Source supplies the tools whose triggers are evaluated each tick.
type Source interface {
	ExecutableTools(ctx context.Context) ([]ToolRef, error)
}

// ToolRef pairs a tool's identity with its active spec.
type ToolRef struct {
	ToolID string
	OrgID  string
	Spec   *schema.ToolSpec
}

// RunRecorder receives an entry per dispatch outcome. Optional.
type RunRecorder interface {
	AppendTriggerRun(ctx context.Context, run *store.TriggerRun) error
}

// Scheduler is the control loop. It holds no trigger state of its own;
// everything it reads and writes lives in scoped memory, so stopping
// and restarting the loop loses nothing.
type Scheduler struct {
	source     Source
	dispatcher Dispatcher
	mem        memory.Memory
	recorder   RunRecorder
	parser     cron.Parser
	logger     *slog.Logger
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
}

// NewScheduler creates a Scheduler. recorder may be nil.
func NewScheduler(source Source, dispatcher Dispatcher, mem memory.Memory, recorder RunRecorder, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		source:     source,
		dispatcher: dispatcher,
		mem:        mem,
		recorder:   recorder,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx, interval)
	s.logger.Info("scheduler started", slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop gracefully shuts down the loop. An in-flight dispatch is not
// interrupted; Stop only prevents future ticks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Tick evaluates every executable tool once. Exposed for manual and
// test invocation outside the timer.
func (s *Scheduler) Tick(ctx context.Context) {
	tools, err := s.source.ExecutableTools(ctx)
	if err != nil {
		s.logger.Error("failed to list executable tools", slog.String("error", err.Error()))
		return
	}

	for _, ref := range tools {
		s.tickTool(ctx, ref)
	}
}

// tickTool processes one tool. Any error or panic is contained here so
// one tool cannot abort the rest of the tick.
func (s *Scheduler) tickTool(ctx context.Context, ref ToolRef) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing tool",
				slog.String("tool_id", ref.ToolID),
				slog.Any("panic", r),
			)
		}
	}()

	spec := ref.Spec
	if spec == nil || !spec.Executable() {
		return
	}

	paused, err := s.readBool(ctx, ref, pausedKey)
	if err != nil {
		s.logger.Error("failed to read pause flag",
			slog.String("tool_id", ref.ToolID), slog.String("error", err.Error()))
		return
	}
	if paused {
		s.logger.Debug("automation paused, skipping tool", slog.String("tool_id", ref.ToolID))
		return
	}

	now := s.now()
	for i := range spec.Triggers {
		trigger := &spec.Triggers[i]
		if !trigger.Enabled || trigger.Kind != schema.TriggerScheduleCron {
			continue
		}
		if tripped := s.tickTrigger(ctx, ref, spec, trigger, now); tripped {
			// The pause flag is tool-scoped; remaining triggers are dormant too.
			return
		}
	}
}

// tickTrigger evaluates one trigger and returns true if the tool's
// circuit breaker tripped.
func (s *Scheduler) tickTrigger(ctx context.Context, ref ToolRef, spec *schema.ToolSpec, trigger *schema.RecurringTrigger, now time.Time) bool {
	interval := ResolveInterval(trigger.Condition)
	threshold := trigger.Condition.FailureThreshold

	failures, err := s.readInt(ctx, ref, failurePrefix+trigger.ID)
	if err != nil {
		s.logger.Error("failed to read failure count",
			slog.String("tool_id", ref.ToolID),
			slog.String("trigger_id", trigger.ID),
			slog.String("error", err.Error()))
		return false
	}
	if threshold > 0 && failures >= threshold {
		s.pause(ctx, ref, trigger.ID, failures)
		return true
	}

	lastRun, found, err := s.readTime(ctx, ref, lastRunPrefix+trigger.ID)
	if err != nil {
		s.logger.Error("failed to read last run",
			slog.String("tool_id", ref.ToolID),
			slog.String("trigger_id", trigger.ID),
			slog.String("error", err.Error()))
		return false
	}
	if found && now.Sub(lastRun) < interval {
		return false
	}

	dispatchErr := s.dispatch(ctx, ref, spec, trigger)
	tripped := false

	if dispatchErr == nil {
		failures = 0
	} else {
		failures++
		s.logger.Warn("trigger dispatch failed",
			slog.String("tool_id", ref.ToolID),
			slog.String("trigger_id", trigger.ID),
			slog.Int("consecutive_failures", failures),
			slog.String("error", dispatchErr.Error()))
		if threshold > 0 && failures >= threshold {
			s.pause(ctx, ref, trigger.ID, failures)
			tripped = true
		}
	}

	s.writeInt(ctx, ref, failurePrefix+trigger.ID, failures)
	s.writeTime(ctx, ref, lastRunPrefix+trigger.ID, now)
	s.record(ctx, ref, trigger.ID, dispatchErr)
	return tripped
}

func (s *Scheduler) dispatch(ctx context.Context, ref ToolRef, spec *schema.ToolSpec, trigger *schema.RecurringTrigger) error {
	ctx = logging.WithIDs(ctx, ref.ToolID, trigger.ID, ref.OrgID)
	start := s.now()
	var err error
	switch {
	case trigger.WorkflowID != "":
		err = s.dispatcher.DispatchWorkflow(ctx, ref.ToolID, trigger.WorkflowID)
	case trigger.ActionID != "":
		action := spec.ActionByID(trigger.ActionID)
		if action == nil {
			err = schema.NewErrorf(schema.ErrCodeDispatch,
				"trigger %q references unknown action %q", trigger.ID, trigger.ActionID)
		} else {
			err = s.dispatcher.DispatchAction(ctx, ref.ToolID, action)
		}
	default:
		err = schema.NewErrorf(schema.ErrCodeDispatch,
			"trigger %q binds neither an action nor a workflow", trigger.ID)
	}

	if err == nil {
		logging.LogWith(ctx, s.logger).Info("trigger dispatched",
			slog.Duration("duration", s.now().Sub(start)))
	}
	return err
}

// pause sets the tool's automation-paused flag. Only an operator resets it.
func (s *Scheduler) pause(ctx context.Context, ref ToolRef, triggerID string, failures int) {
	s.logger.Warn("failure threshold reached, pausing tool automation",
		slog.String("tool_id", ref.ToolID),
		slog.String("trigger_id", triggerID),
		slog.Int("consecutive_failures", failures))
	if err := s.mem.Set(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, pausedKey, json.RawMessage(`true`)); err != nil {
		s.logger.Error("failed to set pause flag",
			slog.String("tool_id", ref.ToolID), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) record(ctx context.Context, ref ToolRef, triggerID string, dispatchErr error) {
	if s.recorder == nil {
		return
	}
	run := &store.TriggerRun{
		ToolID:    ref.ToolID,
		TriggerID: triggerID,
		Status:    store.RunStatusSucceeded,
	}
	if dispatchErr != nil {
		run.Status = store.RunStatusFailed
		run.Error = dispatchErr.Error()
	}
	if err := s.recorder.AppendTriggerRun(ctx, run); err != nil {
		s.logger.Error("failed to record trigger run",
			slog.String("tool_id", ref.ToolID), slog.String("error", err.Error()))
	}
}

// --- scoped memory accessors ---

// scopeID keys the tool-org scope: all bookkeeping for one tool within
// one org lives under a single disjoint prefix.
func scopeID(ref ToolRef) string {
	return ref.ToolID + ":" + ref.OrgID
}

func (s *Scheduler) readBool(ctx context.Context, ref ToolRef, key string) (bool, error) {
	raw, found, err := s.mem.Get(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, key)
	if err != nil || !found {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, nil
	}
	return v, nil
}

func (s *Scheduler) readInt(ctx context.Context, ref ToolRef, key string) (int, error) {
	raw, found, err := s.mem.Get(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, key)
	if err != nil || !found {
		return 0, err
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (s *Scheduler) readTime(ctx context.Context, ref ToolRef, key string) (time.Time, bool, error) {
	raw, found, err := s.mem.Get(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, key)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	var v time.Time
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false, nil
	}
	return v, true, nil
}

func (s *Scheduler) writeInt(ctx context.Context, ref ToolRef, key string, v int) {
	raw, _ := json.Marshal(v)
	if err := s.mem.Set(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, key, raw); err != nil {
		s.logger.Error("failed to write memory key",
			slog.String("tool_id", ref.ToolID), slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *Scheduler) writeTime(ctx context.Context, ref ToolRef, key string, t time.Time) {
	raw, _ := json.Marshal(t)
	if err := s.mem.Set(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, key, raw); err != nil {
		s.logger.Error("failed to write memory key",
			slog.String("tool_id", ref.ToolID), slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Resume clears a tool's automation-paused flag and failure counters.
// This is the operator-side reset of the circuit breaker.
func (s *Scheduler) Resume(ctx context.Context, ref ToolRef) error {
	if err := s.mem.Delete(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, pausedKey); err != nil {
		return err
	}
	records, err := s.mem.List(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if strings.HasPrefix(rec.Key, failurePrefix) {
			if err := s.mem.Delete(ctx, schema.ScopeToolOrg, scopeID(ref), schema.SchedulerNamespace, rec.Key); err != nil {
				return err
			}
		}
	}
	s.logger.Info("tool automation resumed", slog.String("tool_id", ref.ToolID))
	return nil
}

// Paused reports whether the tool's automation-paused flag is set.
func (s *Scheduler) Paused(ctx context.Context, ref ToolRef) (bool, error) {
	return s.readBool(ctx, ref, pausedKey)
}

// NextRun computes the next fire time for a cron expression.
func (s *Scheduler) NextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// ResolveInterval derives the effective dispatch interval from a trigger
// condition: simple "every N minutes/hours" cron patterns first, then an
// explicit intervalMinutes, then a 1-minute default.
func ResolveInterval(cond schema.TriggerCondition) time.Duration {
	if cond.Cron != "" {
		if d, ok := intervalFromCron(cond.Cron); ok {
			return d
		}
	}
	if cond.IntervalMinutes > 0 {
		return time.Duration(cond.IntervalMinutes) * time.Minute
	}
	return time.Minute
}

// intervalFromCron recognizes the two shapes the proposal generator
// emits: "*/N * * * *" (every N minutes) and "0 */N * * * *" (every N
// hours). Every remaining field must be a wildcard; a restricted field
// means the expression carries constraints a fixed interval cannot
// honor, so it is left to the intervalMinutes fallback.
func intervalFromCron(expr string) (time.Duration, bool) {
	fields := strings.Fields(expr)
	if len(fields) < 5 {
		return 0, false
	}
	if n, ok := everyN(fields[0]); ok && wildcards(fields[1:]) {
		return time.Duration(n) * time.Minute, true
	}
	if fields[0] == "0" {
		if n, ok := everyN(fields[1]); ok && wildcards(fields[2:]) {
			return time.Duration(n) * time.Hour, true
		}
	}
	return 0, false
}

func wildcards(fields []string) bool {
	for _, f := range fields {
		if f != "*" {
			return false
		}
	}
	return true
}

func everyN(field string) (int, bool) {
	rest, ok := strings.CutPrefix(field, "*/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
