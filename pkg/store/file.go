package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrCorruptStore indicates that a store or cluster file exists but does not
// hold valid data. Load still returns a usable empty value alongside it so the
// caller can decide whether to reset or abort.
var ErrCorruptStore = errors.New("store file is corrupt")

// ErrUnsupportedSchema indicates a store written by a newer schema version.
var ErrUnsupportedSchema = errors.New("unsupported store schema version")

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Load reads the store at path. A missing file yields an empty store and no
// error. Unparsable content yields an empty store and an error wrapping
// ErrCorruptStore.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}

	s := New()
	if err := decodeJSON(data, s); err != nil {
		return New(), fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}
	if s.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %s has version %d, max %d", ErrUnsupportedSchema, path, s.SchemaVersion, SchemaVersion)
	}
	s.normalize()
	return s, nil
}

// Save writes the whole store to path, replacing it atomically.
func Save(path string, s *Store) error {
	s.normalize()
	data, err := encodeJSON(s)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write store %s: %w", path, err)
	}
	return nil
}

// QuarantineCorrupt moves an unreadable file aside so a reset does not
// overwrite the only copy. Returns the new path.
func QuarantineCorrupt(path string, now time.Time) (string, error) {
	dest := path + ".corrupt-" + strconv.FormatInt(now.Unix(), 10)
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	return dest, nil
}

func decodeJSON(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty file")
	}
	return json.Unmarshal(data, v)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path. The previous file stays intact on failure.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, filePerm)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// Best effort: persist the rename itself.
	_ = syncDir(dir)
	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
