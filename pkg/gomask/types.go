package gomask

import (
	"github.com/dan-solli/gomask/pkg/identity"
	"github.com/dan-solli/gomask/pkg/store"
)

// Type re-exports for caller convenience

// Batch is re-exported from identity package
type Batch = identity.Batch

// PII is re-exported from identity package
type PII = identity.PII

// Stats is re-exported from identity package
type Stats = identity.Stats

// Document is re-exported from store package
type Document = store.Document
