package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSave(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalFileStore(dir, "/media", zap.NewNop())

	url, err := store.Save("receipts", "invoice.pdf", []byte("content"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/media/receipts/"))
	assert.True(t, strings.HasSuffix(url, "_invoice.pdf"))

	name := strings.TrimPrefix(url, "/media/receipts/")
	data, err := os.ReadFile(filepath.Join(dir, "receipts", name))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestSaveUniquePrefixes(t *testing.T) {
	store := NewLocalFileStore(t.TempDir(), "/media", zap.NewNop())

	first, err := store.Save("proforma", "quote.pdf", []byte("a"))
	require.NoError(t, err)
	second, err := store.Save("proforma", "quote.pdf", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSaveSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalFileStore(dir, "/media", zap.NewNop())

	url, err := store.Save("receipts", "../../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, url, "..")

	url, err = store.Save("receipts", "weird name!?.pdf", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, url, " ")
	assert.NotContains(t, url, "!")
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalFileStore(dir, "/media", zap.NewNop())

	url, err := store.Save("receipts", "invoice.pdf", []byte("content"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(url))

	name := strings.TrimPrefix(url, "/media/receipts/")
	_, statErr := os.Stat(filepath.Join(dir, "receipts", name))
	assert.True(t, os.IsNotExist(statErr))

	// Already gone
	assert.Error(t, store.Remove(url))

	// Paths outside this store are refused
	assert.Error(t, store.Remove("/elsewhere/receipts/x.pdf"))
	assert.Error(t, store.Remove("/media/../../etc/passwd"))
}
