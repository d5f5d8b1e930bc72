package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/toolsmithhq/toolsmith/internal/scheduler"
	"github.com/toolsmithhq/toolsmith/internal/store"
	"github.com/toolsmithhq/toolsmith/pkg/schema"
)

// handlePropose compiles a mutation and persists the resulting version.
func (s *ToolsmithServer) handlePropose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID, err := req.RequireString("org_id")
	if err != nil {
		return mcp.NewToolResultError("org_id is required"), nil
	}
	m, decodeErr := s.decodeMutation(req)
	if decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid mutation: %v", decodeErr)), nil
	}

	toolID := req.GetString("tool_id", "")
	mode := parseMode(req.GetString("mode", ""))

	var tool *store.Tool
	var prev *schema.ToolSpec
	if toolID != "" {
		t, getErr := s.store.GetTool(ctx, toolID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("tool lookup failed: %v", getErr)), nil
		}
		tool = t
		if t.ActiveVersion > 0 {
			spec, specErr := s.store.GetActiveSpec(ctx, toolID)
			if specErr != nil {
				return mcp.NewToolResultError(fmt.Sprintf("active spec lookup failed: %v", specErr)), nil
			}
			prev = spec
		}
	}

	spec, result, compileErr := s.compiler.Compile(m, prev, mode)
	if compileErr != nil {
		return marshalResult(map[string]any{
			"valid":  false,
			"errors": result.Errors,
		})
	}

	if tool == nil {
		tool = &store.Tool{Name: req.GetString("name", ""), OrgID: orgID}
		if tool.Name == "" {
			tool.Name = "untitled tool"
		}
		if createErr := s.store.CreateTool(ctx, tool); createErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create tool: %v", createErr)), nil
		}
	}

	version := &store.ToolVersion{ToolID: tool.ID, Spec: spec, CreatedAt: time.Now().UTC()}
	if putErr := s.store.PutVersion(ctx, version); putErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store version: %v", putErr)), nil
	}

	active := store.ToolStatusActive
	if updErr := s.store.UpdateTool(ctx, tool.ID, store.ToolUpdate{
		Status:        &active,
		ActiveVersion: &version.Version,
	}); updErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to activate version: %v", updErr)), nil
	}

	return marshalResult(map[string]any{
		"tool_id":  tool.ID,
		"version":  version.Version,
		"valid":    true,
		"warnings": result.Warnings,
	})
}

// handleValidate runs the pipeline checks without persisting anything.
func (s *ToolsmithServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, decodeErr := s.decodeMutation(req)
	if decodeErr != nil {
		return marshalResult(map[string]any{
			"valid":  false,
			"errors": []map[string]any{{"path": "/", "message": decodeErr.Error()}},
		})
	}

	mode := parseMode(req.GetString("mode", ""))

	var prev *schema.ToolSpec
	if toolID := req.GetString("tool_id", ""); toolID != "" {
		spec, specErr := s.store.GetActiveSpec(ctx, toolID)
		if specErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("active spec lookup failed: %v", specErr)), nil
		}
		prev = spec
	}

	m = s.compiler.Repair(s.compiler.Normalize(m))
	result := s.compiler.Validate(m, prev, mode)
	if result.Valid() {
		_, buildResult := s.compiler.BuildGraph(m, prev)
		result.Merge(buildResult)
	}

	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleTriggers inspects or manages a tool's recurring triggers.
func (s *ToolsmithServer) handleTriggers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	toolID, err := req.RequireString("tool_id")
	if err != nil {
		return mcp.NewToolResultError("tool_id is required"), nil
	}

	tool, getErr := s.store.GetTool(ctx, toolID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tool lookup failed: %v", getErr)), nil
	}

	switch action {
	case "list":
		return s.listTriggers(ctx, tool)
	case "enable", "disable":
		triggerID := req.GetString("trigger_id", "")
		if triggerID == "" {
			return mcp.NewToolResultError("trigger_id is required for enable/disable"), nil
		}
		return s.toggleTrigger(ctx, tool, triggerID, action == "enable")
	case "resume":
		ref := scheduler.ToolRef{ToolID: tool.ID, OrgID: tool.OrgID}
		if resumeErr := s.scheduler.Resume(ctx, ref); resumeErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "tool_id": tool.ID, "resumed": true})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

func (s *ToolsmithServer) listTriggers(ctx context.Context, tool *store.Tool) (*mcp.CallToolResult, error) {
	spec, specErr := s.store.GetActiveSpec(ctx, tool.ID)
	if specErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("active spec lookup failed: %v", specErr)), nil
	}

	stats, statsErr := store.TriggerStatsFor(ctx, s.store, tool.ID)
	if statsErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run log query failed: %v", statsErr)), nil
	}

	ref := scheduler.ToolRef{ToolID: tool.ID, OrgID: tool.OrgID}
	paused, pausedErr := s.scheduler.Paused(ctx, ref)
	if pausedErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pause flag lookup failed: %v", pausedErr)), nil
	}

	now := time.Now().UTC()
	triggers := make([]map[string]any, 0, len(spec.Triggers))
	for _, trig := range spec.Triggers {
		entry := map[string]any{
			"id":               trig.ID,
			"enabled":          trig.Enabled,
			"kind":             trig.Kind,
			"interval_minutes": int(scheduler.ResolveInterval(trig.Condition).Minutes()),
		}
		if trig.Condition.Cron != "" {
			if next, nextErr := s.scheduler.NextRun(trig.Condition.Cron, now); nextErr == nil {
				entry["next_run"] = next.Format(time.RFC3339)
			}
		}
		if st, ok := stats[trig.ID]; ok {
			entry["stats"] = st
		}
		triggers = append(triggers, entry)
	}

	return marshalResult(map[string]any{
		"tool_id":           tool.ID,
		"automation_paused": paused,
		"triggers":          triggers,
	})
}

// toggleTrigger writes a new spec version with the trigger's enabled flag
// flipped and repins the head. Versions stay immutable.
func (s *ToolsmithServer) toggleTrigger(ctx context.Context, tool *store.Tool, triggerID string, enabled bool) (*mcp.CallToolResult, error) {
	spec, specErr := s.store.GetActiveSpec(ctx, tool.ID)
	if specErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("active spec lookup failed: %v", specErr)), nil
	}

	found := false
	for i := range spec.Triggers {
		if spec.Triggers[i].ID == triggerID {
			spec.Triggers[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return mcp.NewToolResultError(fmt.Sprintf("trigger %q not found", triggerID)), nil
	}

	version := &store.ToolVersion{ToolID: tool.ID, Spec: spec}
	if putErr := s.store.PutVersion(ctx, version); putErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store version: %v", putErr)), nil
	}
	if updErr := s.store.UpdateTool(ctx, tool.ID, store.ToolUpdate{ActiveVersion: &version.Version}); updErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to activate version: %v", updErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":         true,
		"tool_id":    tool.ID,
		"trigger_id": triggerID,
		"enabled":    enabled,
		"version":    version.Version,
	})
}

// handleTick runs one scheduler pass immediately.
func (s *ToolsmithServer) handleTick(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.scheduler.Tick(ctx)
	return marshalResult(map[string]any{"ok": true})
}

// handleQuery lists tools, versions, or trigger runs based on filters.
func (s *ToolsmithServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "tools":
		return s.queryTools(ctx, filter)
	case "versions":
		return s.queryVersions(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *ToolsmithServer) queryTools(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tf := store.ToolFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok {
		tf.Status = status
	}
	if orgID, ok := filter["org_id"].(string); ok {
		tf.OrgID = orgID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			tf.Since = &t
		}
	}

	tools, err := s.store.ListTools(ctx, tf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"tools": tools})
}

func (s *ToolsmithServer) queryVersions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	toolID, ok := filter["tool_id"].(string)
	if !ok || toolID == "" {
		return mcp.NewToolResultError("version query requires 'tool_id' in filter"), nil
	}

	versions, err := s.store.ListVersions(ctx, toolID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"versions": versions})
}

func (s *ToolsmithServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	toolID, ok := filter["tool_id"].(string)
	if !ok || toolID == "" {
		return mcp.NewToolResultError("run query requires 'tool_id' in filter"), nil
	}

	rf := store.TriggerRunFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if triggerID, ok := filter["trigger_id"].(string); ok {
		rf.TriggerID = triggerID
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = status
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListTriggerRuns(ctx, toolID, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// --- Internal helpers ---

// decodeMutation extracts the mutation argument and runs it through the
// strict boundary decode.
func (s *ToolsmithServer) decodeMutation(req mcp.CallToolRequest) (*schema.Mutation, error) {
	raw := mcp.ParseStringMap(req, "mutation", nil)
	if raw == nil {
		return nil, fmt.Errorf("mutation is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return s.compiler.Decode(data)
}

func parseMode(mode string) schema.ValidationMode {
	if mode == string(schema.ModeLenient) {
		return schema.ModeLenient
	}
	return schema.ModeStrict
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
