package gomask

import (
	"errors"

	"github.com/dan-solli/gomask/pkg/identity"
)

// ErrStoreNotFound is returned by Unmask when no identity store exists yet.
var ErrStoreNotFound = errors.New("identity store not found")

// ErrDocumentStore wraps failures of the document database.
var ErrDocumentStore = errors.New("document store failed")

// Error type constants for classification. Resolver classes are re-exported
// from the identity package.
const (
	ErrTypeLockTimeout   = identity.ErrTypeLockTimeout
	ErrTypeCorruptStore  = identity.ErrTypeCorruptStore
	ErrTypeTimeout       = identity.ErrTypeTimeout
	ErrTypeCanceled      = identity.ErrTypeCanceled
	ErrTypeValidation    = identity.ErrTypeValidation
	ErrTypeIO            = identity.ErrTypeIO
	ErrTypeUnknown       = identity.ErrTypeUnknown
	ErrTypeDatabase      = "database"
	ErrTypeStoreNotFound = "store_not_found"
)

// ClassifyError returns the error class used in metrics and traces.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStoreNotFound):
		return ErrTypeStoreNotFound
	case errors.Is(err, ErrDocumentStore):
		return ErrTypeDatabase
	default:
		return identity.ClassifyError(err)
	}
}
