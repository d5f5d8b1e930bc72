package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeCycleDetected = "CYCLE_DETECTED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeDispatch      = "DISPATCH_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodePaused        = "AUTOMATION_PAUSED"
	ErrCodeStore         = "STORE_ERROR"
)

// ToolsmithError is the structured error type for all toolsmith operations.
type ToolsmithError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	ToolID  string         `json:"tool_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolsmithError) Error() string {
	if e.ToolID != "" {
		return fmt.Sprintf("[%s] tool %s: %s", e.Code, e.ToolID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ToolsmithError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ToolsmithError.
func NewError(code, message string) *ToolsmithError {
	return &ToolsmithError{Code: code, Message: message}
}

// NewErrorf creates a new ToolsmithError with a formatted message.
func NewErrorf(code, format string, args ...any) *ToolsmithError {
	return &ToolsmithError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTool attaches a tool ID to the error.
func (e *ToolsmithError) WithTool(toolID string) *ToolsmithError {
	e.ToolID = toolID
	return e
}

// WithCause attaches an underlying cause.
func (e *ToolsmithError) WithCause(err error) *ToolsmithError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ToolsmithError) WithDetails(details map[string]any) *ToolsmithError {
	e.Details = details
	return e
}
