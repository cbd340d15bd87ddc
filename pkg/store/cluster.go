package store

import (
	"errors"
	"fmt"
	"os"
)

// ClusterLog records, per person id, why other observations were merged into
// that person. It is an audit trail only; nothing reads it back for matching.
type ClusterLog map[string][]string

// LoadClusterLog reads the cluster log with the same missing/corrupt
// semantics as Load.
func LoadClusterLog(path string) (ClusterLog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(ClusterLog), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cluster log %s: %w", path, err)
	}

	log := make(ClusterLog)
	if err := decodeJSON(data, &log); err != nil {
		return make(ClusterLog), fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}
	if log == nil {
		log = make(ClusterLog)
	}
	return log, nil
}

// SaveClusterLog writes the log atomically.
func SaveClusterLog(path string, log ClusterLog) error {
	if log == nil {
		log = make(ClusterLog)
	}
	data, err := encodeJSON(log)
	if err != nil {
		return fmt.Errorf("encode cluster log: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write cluster log %s: %w", path, err)
	}
	return nil
}

// Append adds an event line for personID.
func (c ClusterLog) Append(personID, event string) {
	c[personID] = append(c[personID], event)
}
