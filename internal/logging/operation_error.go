package logging

import "fmt"

// OperationError ties a failure to the pipeline step and the request it
// belonged to, keeping handler-level logs correlatable by request_id.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

// NewOperationError wraps err with operation context. A nil err stays nil so
// call sites can wrap unconditionally.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
