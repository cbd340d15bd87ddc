package identity

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/dan-solli/gomask/pkg/store"
)

// ErrResolution wraps every failure returned by Resolver.Resolve.
var ErrResolution = errors.New("identity resolution failed")

// ErrInvalidBatch indicates malformed input, e.g. an empty PII type.
var ErrInvalidBatch = errors.New("invalid PII batch")

// Error type constants for classification
const (
	ErrTypeLockTimeout  = "lock_timeout"
	ErrTypeCorruptStore = "corrupt_store"
	ErrTypeTimeout      = "timeout"
	ErrTypeCanceled     = "canceled"
	ErrTypeValidation   = "validation"
	ErrTypeIO           = "io"
	ErrTypeUnknown      = "unknown"
)

// ClassifyError maps an error to a coarse class for metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	switch {
	case errors.Is(err, store.ErrLockTimeout):
		return ErrTypeLockTimeout
	case errors.Is(err, store.ErrCorruptStore), errors.Is(err, store.ErrUnsupportedSchema):
		return ErrTypeCorruptStore
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrTypeCanceled
	case errors.Is(err, ErrInvalidBatch):
		return ErrTypeValidation
	case errors.As(err, &pathErr), errors.As(err, &linkErr):
		return ErrTypeIO
	default:
		return ErrTypeUnknown
	}
}
