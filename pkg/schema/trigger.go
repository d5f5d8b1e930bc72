package schema

// TriggerScheduleKind enumerates recurring trigger kinds. Only cron-like
// triggers are evaluated by the scheduler.
type TriggerScheduleKind string

const (
	TriggerScheduleCron   TriggerScheduleKind = "cron"
	TriggerScheduleManual TriggerScheduleKind = "manual"
)

// RecurringTrigger is a persisted rule causing a tool's action or workflow
// to fire on a schedule. The scheduler reads it every tick but never
// mutates it; bookkeeping lives in scoped memory records.
type RecurringTrigger struct {
	ID         string              `json:"id"`
	Enabled    bool                `json:"enabled"`
	Kind       TriggerScheduleKind `json:"kind"`
	Condition  TriggerCondition    `json:"condition"`
	ActionID   string              `json:"actionId,omitempty"`
	WorkflowID string              `json:"workflowId,omitempty"`
}

// TriggerCondition describes when a recurring trigger is due.
// Cron takes precedence over IntervalMinutes when it parses as one of the
// recognized patterns; otherwise IntervalMinutes applies, then a 1-minute
// default.
type TriggerCondition struct {
	Cron             string `json:"cron,omitempty"`
	IntervalMinutes  int    `json:"intervalMinutes,omitempty"`
	FailureThreshold int    `json:"failureThreshold,omitempty"`
}
