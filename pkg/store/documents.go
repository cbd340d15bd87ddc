package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Document kinds stored in the archive.
const (
	DocumentMasked   = "masked"
	DocumentUnmasked = "unmasked"
)

// Document is a masked or unmasked text kept for later retrieval.
type Document struct {
	ID               string    // Unique identifier (UUID)
	Kind             string    // DocumentMasked or DocumentUnmasked
	DocHash          string    // SHA-256 of the input text the document was produced from
	Source           string    // Optional caller-supplied origin, e.g. an upload file name
	Content          string    // Output text
	PlaceholderCount int       // Placeholders applied (masked) or resolved (unmasked)
	CreatedAt        time.Time // Timestamp of creation
}

// DocumentStore archives produced documents.
type DocumentStore interface {
	// SaveDocument inserts or replaces a document. An empty ID gets a new UUID.
	SaveDocument(ctx context.Context, doc *Document) error

	// GetDocument returns (nil, nil) when id is unknown.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// FindByHash returns the newest document of kind produced from hash,
	// or (nil, nil) when there is none.
	FindByHash(ctx context.Context, kind, hash string) (*Document, error)

	// CountDocuments returns the number of archived documents.
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}

var _ DocumentStore = (*SQLiteDocumentStore)(nil)

// SQLiteDocumentStore implements DocumentStore on SQLite.
type SQLiteDocumentStore struct {
	db *sql.DB
}

// NewSQLiteDocumentStore opens (or creates) the archive at dbPath.
// dbPath can be ":memory:" for tests.
func NewSQLiteDocumentStore(dbPath string) (*SQLiteDocumentStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteDocumentStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// ComputeDocHash hashes trimmed document text.
func ComputeDocHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("%x", sum)
}

func (s *SQLiteDocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		doc_hash TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(kind, doc_hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.migrateSchema()
}

// migrateSchema adds columns introduced after the first schema.
func (s *SQLiteDocumentStore) migrateSchema() error {
	if !s.columnExists("documents", "source") {
		if _, err := s.db.Exec("ALTER TABLE documents ADD COLUMN source TEXT DEFAULT ''"); err != nil {
			return fmt.Errorf("failed to add source column: %w", err)
		}
	}
	if !s.columnExists("documents", "placeholder_count") {
		if _, err := s.db.Exec("ALTER TABLE documents ADD COLUMN placeholder_count INTEGER DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add placeholder_count column: %w", err)
		}
	}
	return nil
}

func (s *SQLiteDocumentStore) columnExists(tableName, columnName string) bool {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false
		}
		if name == columnName {
			return true
		}
	}
	return false
}

// SaveDocument inserts or replaces a document.
func (s *SQLiteDocumentStore) SaveDocument(ctx context.Context, doc *Document) error {
	if doc.Kind != DocumentMasked && doc.Kind != DocumentUnmasked {
		return fmt.Errorf("invalid document kind %q", doc.Kind)
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (id, kind, doc_hash, source, content, placeholder_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Kind, doc.DocHash, doc.Source, doc.Content, doc.PlaceholderCount, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

const documentColumns = `id, kind, doc_hash, source, content, placeholder_count, created_at`

// GetDocument retrieves a document by id.
func (s *SQLiteDocumentStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// FindByHash returns the newest document of kind for hash.
func (s *SQLiteDocumentStore) FindByHash(ctx context.Context, kind, hash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE kind = ? AND doc_hash = ? ORDER BY created_at DESC, id LIMIT 1",
		kind, hash)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var (
		doc    Document
		source sql.NullString
		count  sql.NullInt64
	)
	err := row.Scan(&doc.ID, &doc.Kind, &doc.DocHash, &source, &doc.Content, &count, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Source = source.String
	doc.PlaceholderCount = int(count.Int64)
	return &doc, nil
}

// CountDocuments returns the total number of archived documents.
func (s *SQLiteDocumentStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteDocumentStore) Close() error {
	return s.db.Close()
}
