package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDocumentStore_SaveGet(t *testing.T) {
	ctx := context.Background()
	ds, err := NewSQLiteDocumentStore(":memory:")
	require.NoError(t, err)
	defer ds.Close()

	doc := &Document{
		Kind:             DocumentMasked,
		DocHash:          ComputeDocHash("Contact Ann at ann@x.com"),
		Source:           "letter.txt",
		Content:          "Contact [PERSON_0_NAME_0] at [PERSON_0_EMAIL_0]",
		PlaceholderCount: 2,
	}
	require.NoError(t, ds.SaveDocument(ctx, doc))
	assert.NotEmpty(t, doc.ID, "ID should be generated")
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := ds.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, "letter.txt", got.Source)
	assert.Equal(t, 2, got.PlaceholderCount)

	missing, err := ds.GetDocument(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	count, err := ds.CountDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteDocumentStore_FindByHash(t *testing.T) {
	ctx := context.Background()
	ds, err := NewSQLiteDocumentStore(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	defer ds.Close()

	hash := ComputeDocHash("text")
	require.NoError(t, ds.SaveDocument(ctx, &Document{Kind: DocumentMasked, DocHash: hash, Content: "masked"}))
	require.NoError(t, ds.SaveDocument(ctx, &Document{Kind: DocumentUnmasked, DocHash: hash, Content: "plain"}))

	got, err := ds.FindByHash(ctx, DocumentUnmasked, hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "plain", got.Content)

	none, err := ds.FindByHash(ctx, DocumentMasked, ComputeDocHash("other"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteDocumentStore_RejectsUnknownKind(t *testing.T) {
	ds, err := NewSQLiteDocumentStore(":memory:")
	require.NoError(t, err)
	defer ds.Close()

	err = ds.SaveDocument(context.Background(), &Document{Kind: "draft"})
	assert.Error(t, err)
}

func TestSQLiteDocumentStore_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	ds, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	ds, err = NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	defer ds.Close()
	assert.True(t, ds.columnExists("documents", "placeholder_count"))
	assert.True(t, ds.columnExists("documents", "source"))
}

func TestComputeDocHash_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, ComputeDocHash("abc"), ComputeDocHash("  abc\n"))
	assert.NotEqual(t, ComputeDocHash("abc"), ComputeDocHash("abd"))
	assert.Len(t, ComputeDocHash("abc"), 64)
}
