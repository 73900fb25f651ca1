// Package tools provides the tool registry and execution framework.
//
// This file defines the error kinds tool execution can produce. The agent
// loop reports them differently back into the conversation, so they must
// stay distinguishable:
//
//   - ValidationError: the model supplied malformed or out-of-bounds
//     arguments. Surfaced as a clarification, not a system failure.
//   - not-found (task.ErrNotFound): the target does not exist for this
//     user. Ownership violations collapse into this kind so tool output
//     never reveals whether another user's record exists.
//   - ExecutionError: the arguments were fine but the underlying store
//     operation failed.
package tools

import (
	"errors"
	"fmt"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/task"
)

// ValidationError indicates the tool arguments failed validation before
// any store access happened.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// UnknownToolError is returned when a requested tool name is not in the
// fixed catalogue. The model is untrusted input; arbitrary names are
// rejected rather than resolved.
type UnknownToolError struct {
	ToolName string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ToolName)
}

// ExecutionError wraps a store failure that occurred after validation
// passed.
type ExecutionError struct {
	ToolName string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure (including an
// unknown tool name).
func IsValidation(err error) bool {
	var ve *ValidationError
	var ue *UnknownToolError
	return errors.As(err, &ve) || errors.As(err, &ue)
}

// IsNotFound reports whether err means the target task does not exist for
// the calling user.
func IsNotFound(err error) bool {
	return errors.Is(err, task.ErrNotFound)
}
