// Package dispatch executes the actions and workflows bound to due
// triggers. It is the reference Dispatcher implementation behind the
// scheduler: integration calls go over HTTP, transform and condition
// nodes run through the expression engines, and state writes land in
// scoped memory.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolsmithhq/toolsmith/internal/expressions"
	"github.com/toolsmithhq/toolsmith/internal/memory"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// StateNamespace is the memory namespace holding each tool's live state
// document, keyed under the tool scope.
const StateNamespace = "tool_state"

// stateKey is the single record key for the state document.
const stateKey = "state"

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultCallTimeout     = 30 * time.Second
)

// SpecResolver supplies the active spec for a tool at dispatch time.
type SpecResolver interface {
	GetActiveSpec(ctx context.Context, toolID string) (*schema.ToolSpec, error)
}

// Runner executes actions against a tool's state. Safe for concurrent
// use; each dispatch loads and persists state independently.
type Runner struct {
	specs  SpecResolver
	mem    memory.Memory
	cel    *expressions.CELEngine
	jq     *expressions.GoJQEngine
	guards *expressions.ExprEngine
	client *http.Client
	logger *slog.Logger

	maxResponseBody int64
	callTimeout     time.Duration
}

// NewRunner creates a Runner backed by the given spec source and memory.
func NewRunner(specs SpecResolver, mem memory.Memory, logger *slog.Logger) (*Runner, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Runner{
		specs:           specs,
		mem:             mem,
		cel:             cel,
		jq:              expressions.NewGoJQEngine(),
		guards:          expressions.NewExprEngine(),
		client:          &http.Client{},
		logger:          logger,
		maxResponseBody: defaultMaxResponseBody,
		callTimeout:     defaultCallTimeout,
	}, nil
}

// DispatchAction executes a single action bound to a trigger.
func (r *Runner) DispatchAction(ctx context.Context, toolID string, action *schema.Action) error {
	if action.Kind == schema.ActionKindWorkflow {
		// Workflows manage their own state document.
		return r.DispatchWorkflow(ctx, toolID, action.ID)
	}

	spec, err := r.specs.GetActiveSpec(ctx, toolID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "resolve active spec: %s", err.Error()).
			WithTool(toolID).WithCause(err)
	}

	state, err := r.loadState(ctx, toolID, spec)
	if err != nil {
		return err
	}

	if err := r.runWithRetry(ctx, toolID, spec, state, action); err != nil {
		return err
	}
	return r.saveState(ctx, toolID, state)
}

// DispatchWorkflow executes a workflow action's ordered steps. A step
// whose incoming edge guard evaluates to false is skipped, along with
// nothing else: later steps still run.
func (r *Runner) DispatchWorkflow(ctx context.Context, toolID, workflowID string) error {
	spec, err := r.specs.GetActiveSpec(ctx, toolID)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "resolve active spec: %s", err.Error()).
			WithTool(toolID).WithCause(err)
	}

	wf := spec.ActionByID(workflowID)
	if wf == nil || wf.Kind != schema.ActionKindWorkflow {
		return schema.NewErrorf(schema.ErrCodeDispatch, "workflow %q not found", workflowID).WithTool(toolID)
	}

	state, err := r.loadState(ctx, toolID, spec)
	if err != nil {
		return err
	}

	prev := ""
	for _, stepID := range wf.Steps {
		step := spec.ActionByID(stepID)
		if step == nil {
			return schema.NewErrorf(schema.ErrCodeDispatch,
				"workflow %q references unknown step %q", workflowID, stepID).WithTool(toolID)
		}
		if step.Kind == schema.ActionKindWorkflow {
			return schema.NewErrorf(schema.ErrCodeDispatch,
				"workflow %q nests workflow %q; nested workflows are not supported", workflowID, stepID).WithTool(toolID)
		}

		if prev != "" {
			ok, guardErr := r.guardAllows(ctx, spec, state, prev, stepID)
			if guardErr != nil {
				return guardErr
			}
			if !ok {
				r.logger.Debug("workflow step skipped by guard",
					slog.String("tool_id", toolID), slog.String("step", stepID))
				prev = stepID
				continue
			}
		}

		if err := r.runWithRetry(ctx, toolID, spec, state, step); err != nil {
			return err
		}
		prev = stepID
	}
	return r.saveState(ctx, toolID, state)
}

// guardAllows evaluates the expr guard on the from→to edge, if any.
// A missing edge or empty guard allows the step.
func (r *Runner) guardAllows(ctx context.Context, spec *schema.ToolSpec, state map[string]any, from, to string) (bool, error) {
	if spec.Graph == nil {
		return true, nil
	}
	for _, e := range spec.Graph.Edges {
		if e.From != from || e.To != to || e.Guard == "" {
			continue
		}
		out, err := r.guards.Evaluate(ctx, e.Guard, evalEnv(state))
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeDispatch,
				"guard on edge %s->%s failed: %s", from, to, err.Error()).WithCause(err)
		}
		allowed, ok := out.(bool)
		if !ok {
			return false, schema.NewErrorf(schema.ErrCodeDispatch,
				"guard on edge %s->%s did not produce a boolean", from, to)
		}
		return allowed, nil
	}
	return true, nil
}

// runWithRetry applies the graph node's retry policy around one action
// execution.
func (r *Runner) runWithRetry(ctx context.Context, toolID string, spec *schema.ToolSpec, state map[string]any, action *schema.Action) error {
	var policy *schema.RetryPolicy
	if spec.Graph != nil {
		if node := spec.Graph.NodeByID(action.ID); node != nil {
			policy = node.Retry
		}
	}

	attempts := 1
	if policy != nil && policy.Max > 0 {
		attempts = policy.Max + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, computeBackoff(policy, attempt-1)); err != nil {
				return err
			}
			r.logger.Debug("retrying action",
				slog.String("tool_id", toolID),
				slog.String("action", action.ID),
				slog.Int("attempt", attempt))
		}
		lastErr = r.runAction(ctx, toolID, state, action)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// runAction executes one action against the live state document,
// mutating it in place.
func (r *Runner) runAction(ctx context.Context, toolID string, state map[string]any, action *schema.Action) error {
	switch action.Kind {
	case schema.ActionKindTransform:
		return r.runTransform(ctx, state, action)
	case schema.ActionKindCondition:
		return r.runCondition(ctx, toolID, state, action)
	case schema.ActionKindEmitEvent:
		return r.runEmitEvent(ctx, toolID, action)
	default:
		return r.runIntegrationCall(ctx, toolID, state, action)
	}
}

func (r *Runner) runTransform(ctx context.Context, state map[string]any, action *schema.Action) error {
	var cfg schema.TransformConfig
	if err := unmarshalConfig(action, &cfg); err != nil {
		return err
	}
	if cfg.Expression == "" {
		return nil
	}

	out, err := r.jq.Evaluate(ctx, cfg.Expression, evalEnv(state))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"transform %q failed: %s", action.ID, err.Error()).WithCause(err)
	}
	writeResult(state, action, cfg.Output, out)
	return nil
}

func (r *Runner) runCondition(ctx context.Context, toolID string, state map[string]any, action *schema.Action) error {
	var cfg schema.ConditionConfig
	if err := unmarshalConfig(action, &cfg); err != nil {
		return err
	}
	if cfg.Expression == "" {
		return nil
	}

	out, err := r.cel.Evaluate(ctx, cfg.Expression, celEnv(state, toolID))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"condition %q failed: %s", action.ID, err.Error()).WithCause(err)
	}
	verdict, ok := out.(bool)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"condition %q did not produce a boolean", action.ID)
	}
	writeResult(state, action, "", verdict)
	return nil
}

func (r *Runner) runEmitEvent(ctx context.Context, toolID string, action *schema.Action) error {
	var cfg schema.EmitEventConfig
	if err := unmarshalConfig(action, &cfg); err != nil {
		return err
	}
	if cfg.Event == "" {
		return nil
	}

	value := cfg.Payload
	if len(value) == 0 {
		value = json.RawMessage(`{}`)
	}
	if err := r.mem.Set(ctx, schema.ScopeTool, toolID, "events", cfg.Event, value); err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"emit %q failed: %s", cfg.Event, err.Error()).WithCause(err)
	}
	r.logger.Info("event emitted",
		slog.String("tool_id", toolID), slog.String("event", cfg.Event))
	return nil
}

// runIntegrationCall performs the HTTP call described by the action's
// config. An action with no config (or no url) has nothing to invoke and
// succeeds as a no-op.
func (r *Runner) runIntegrationCall(ctx context.Context, toolID string, state map[string]any, action *schema.Action) error {
	params := configParams(action)
	rawURL := stringParam(params, "url", "")
	if rawURL == "" {
		r.logger.Debug("integration call without url; nothing to invoke",
			slog.String("tool_id", toolID), slog.String("action", action.ID))
		return nil
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeDispatch, "invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(params, "method", "GET"))
	timeout := r.callTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, parseErr := time.ParseDuration(ts); parseErr == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	if rawBody, ok := params["body"]; ok && rawBody != nil {
		b, marshalErr := json.Marshal(rawBody)
		if marshalErr != nil {
			return schema.NewErrorf(schema.ErrCodeDispatch, "marshal request body: %s", marshalErr.Error())
		}
		bodyReader = strings.NewReader(string(b))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "build request: %s", err.Error()).WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if hdrs, ok := params["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, r.maxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "read response: %s", err.Error()).WithCause(err)
	}

	var parsedBody any
	if len(bodyBytes) > 0 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			if jsonErr := json.Unmarshal(bodyBytes, &parsedBody); jsonErr != nil {
				parsedBody = string(bodyBytes)
			}
		} else {
			parsedBody = string(bodyBytes)
		}
	}

	if resp.StatusCode >= 400 {
		return schema.NewErrorf(schema.ErrCodeDispatch, "integration returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": parsedBody})
	}

	writeResult(state, action, "", map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsedBody,
	})
	return nil
}

// --- State handling ---

// loadState overlays the persisted state document onto the spec's
// declared defaults.
func (r *Runner) loadState(ctx context.Context, toolID string, spec *schema.ToolSpec) (map[string]any, error) {
	state := make(map[string]any, len(spec.State))
	for k, v := range spec.State {
		state[k] = v
	}

	raw, found, err := r.mem.Get(ctx, schema.ScopeTool, toolID, StateNamespace, stateKey)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDispatch, "load state: %s", err.Error()).
			WithTool(toolID).WithCause(err)
	}
	if found {
		var persisted map[string]any
		if jsonErr := json.Unmarshal(raw, &persisted); jsonErr == nil {
			for k, v := range persisted {
				state[k] = v
			}
		}
	}
	return state, nil
}

func (r *Runner) saveState(ctx context.Context, toolID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "marshal state: %s", err.Error()).WithTool(toolID)
	}
	if err := r.mem.Set(ctx, schema.ScopeTool, toolID, StateNamespace, stateKey, raw); err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch, "persist state: %s", err.Error()).
			WithTool(toolID).WithCause(err)
	}
	return nil
}

// writeResult stores an action's output under the explicit output key,
// falling back to the action's first declared write.
func writeResult(state map[string]any, action *schema.Action, output string, value any) {
	key := output
	if key == "" && len(action.Writes) > 0 {
		key = action.Writes[0]
	}
	if key != "" {
		state[key] = value
	}
}

// --- Helpers ---

func unmarshalConfig(action *schema.Action, target any) error {
	if len(action.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(action.Config, target); err != nil {
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"action %q has malformed config: %s", action.ID, err.Error()).WithCause(err)
	}
	return nil
}

func configParams(action *schema.Action) map[string]any {
	if len(action.Config) == 0 {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal(action.Config, &params); err != nil {
		return map[string]any{}
	}
	return params
}

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// evalEnv is the variable set exposed to jq and guard expressions.
func evalEnv(state map[string]any) map[string]any {
	return map[string]any{"state": state}
}

// celEnv matches the CEL environment's declared variables.
func celEnv(state map[string]any, toolID string) map[string]any {
	return map[string]any{
		"state":   state,
		"params":  map[string]any{},
		"trigger": map[string]any{},
		"tool":    map[string]any{"id": toolID},
	}
}
