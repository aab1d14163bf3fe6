package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents an fmebridge error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrNotReady            ErrorCode = "NOT_READY"            // 400
	ErrInvalidExecutable   ErrorCode = "INVALID_EXECUTABLE"   // 400
	ErrFileNotFound        ErrorCode = "FILE_NOT_FOUND"       // 404
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrRunInProgress       ErrorCode = "RUN_IN_PROGRESS"      // 409
	ErrInvalidDataset      ErrorCode = "INVALID_DATASET"      // 422
	ErrCancelled           ErrorCode = "CANCELLED"            // 499
	ErrWorkspaceUnreadable ErrorCode = "WORKSPACE_UNREADABLE" // 500
	ErrRunFailed           ErrorCode = "RUN_FAILED"           // 500
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// BridgeError represents a structured error with code, status, and details.
type BridgeError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *BridgeError {
	return &BridgeError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotReady creates a 400 error when no command can be built yet
// (executable or workspace path missing).
func NewNotReady(missing ...string) *BridgeError {
	msg := "command is not ready to execute"
	if len(missing) > 0 {
		msg = fmt.Sprintf("command is not ready to execute: missing %s", strings.Join(missing, ", "))
	}
	return &BridgeError{
		Code:    ErrNotReady,
		Status:  400,
		Message: msg,
		Details: map[string]any{"missing": missing},
	}
}

// NewInvalidExecutable creates a 400 error for an executable path that failed validation.
func NewInvalidExecutable(path, suffix string) *BridgeError {
	return &BridgeError{
		Code:    ErrInvalidExecutable,
		Status:  400,
		Message: fmt.Sprintf("invalid %s path: %s", suffix, path),
		Details: map[string]any{"path": path, "suffix": suffix},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *BridgeError {
	return &BridgeError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *BridgeError {
	return &BridgeError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewRunInProgress creates a 409 error when a run is already active.
func NewRunInProgress(runID string) *BridgeError {
	return &BridgeError{
		Code:    ErrRunInProgress,
		Status:  409,
		Message: fmt.Sprintf("run %s is still in progress", runID),
		Details: map[string]any{"run_id": runID},
	}
}

// NewInvalidDataset creates a 422 error for a dataset that is not valid GeoJSON.
func NewInvalidDataset(path string, err error) *BridgeError {
	msg := fmt.Sprintf("invalid GeoJSON dataset: %s", path)
	if err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, err)
	}
	return &BridgeError{
		Code:    ErrInvalidDataset,
		Status:  422,
		Message: msg,
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates a 499 error for an operation stopped by the caller.
func NewCancelled(operation string) *BridgeError {
	return &BridgeError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
	}
}

// NewWorkspaceUnreadable creates a 500 error for a workspace file that exists but cannot be read.
func NewWorkspaceUnreadable(path string, err error) *BridgeError {
	return &BridgeError{
		Code:    ErrWorkspaceUnreadable,
		Status:  500,
		Message: fmt.Sprintf("cannot read workspace %s: %v", path, err),
		Details: map[string]any{"path": path},
	}
}

// NewRunFailed creates a 500 error for a translation that finished unsuccessfully.
func NewRunFailed(runID, status string, exitCode int) *BridgeError {
	return &BridgeError{
		Code:    ErrRunFailed,
		Status:  500,
		Message: status,
		Details: map[string]any{"run_id": runID, "exit_code": exitCode},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging only.
func NewInternal(err error) *BridgeError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &BridgeError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or any error it wraps) is a BridgeError with the given code.
func Is(err error, code ErrorCode) bool {
	var bErr *BridgeError
	if stderrors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}

// Cause returns the wrapped internal error text for INTERNAL errors, or "".
func Cause(err error) string {
	var bErr *BridgeError
	if stderrors.As(err, &bErr) && bErr.Code == ErrInternal {
		if s, ok := bErr.Details["internal_error"].(string); ok {
			return s
		}
	}
	return ""
}

// Wrap returns err unchanged when it already carries a code, and an INTERNAL
// error otherwise. nil stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var bErr *BridgeError
	if stderrors.As(err, &bErr) {
		return err
	}
	return NewInternal(err)
}
