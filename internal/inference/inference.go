package inference

import (
	"context"
	"errors"
	"fmt"
)

// Client produces the forensics model's raw answer text for one image.
// Implementations make a single upstream call per invocation; nothing is
// retried here.
type Client interface {
	Classify(ctx context.Context, mediaType string, image []byte) (string, error)
}

// ErrNoTextOutput is returned when the vendor reply contains no usable text
// in either of its documented shapes.
var ErrNoTextOutput = errors.New("no text output")

// ErrMissingCredential is returned when a client is invoked without an API key.
var ErrMissingCredential = errors.New("missing API credential")

// APIError is a non-2xx answer from the inference vendor.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("inference API %d: %s", e.Status, e.Message)
}
