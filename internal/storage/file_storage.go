// Package storage persists uploaded and generated documents (proforma,
// receipt, purchase order) on the local filesystem and hands back the
// web path they are served under.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStore saves document content under a category folder and returns
// the public path for the stored file. Remove takes that public path
// back, so callers can undo a save whose transaction rolled back.
type FileStore interface {
	Save(category, filename string, content []byte) (string, error)
	Remove(publicPath string) error
	BaseDir() string
}

// LocalFileStore implements FileStore on the local filesystem. Files
// land under <baseDir>/<category>/ and are exposed at
// <urlPrefix>/<category>/<name>.
type LocalFileStore struct {
	baseDir   string
	urlPrefix string
	logger    *zap.Logger
}

func NewLocalFileStore(baseDir, urlPrefix string, logger *zap.Logger) *LocalFileStore {
	return &LocalFileStore{baseDir: baseDir, urlPrefix: urlPrefix, logger: logger}
}

func (s *LocalFileStore) BaseDir() string {
	return s.baseDir
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeName strips path components and unsafe characters from a
// client-supplied filename.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return name
}

// Save writes content to disk under the category folder. A short UUID
// prefix keeps concurrent uploads with the same name from colliding.
func (s *LocalFileStore) Save(category, filename string, content []byte) (string, error) {
	name := fmt.Sprintf("%s_%s", uuid.NewString()[:8], sanitizeName(filename))
	fullPath := filepath.Join(s.baseDir, category, name)

	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		s.logger.Error("failed to create storage directory",
			zap.String("path", filepath.Dir(fullPath)),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0o644); err != nil {
		s.logger.Error("failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.Debug("file saved",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))

	return strings.TrimSuffix(s.urlPrefix, "/") + "/" + category + "/" + name, nil
}

// Remove deletes a previously saved file given the public path Save
// returned.
func (s *LocalFileStore) Remove(publicPath string) error {
	rel := strings.TrimPrefix(publicPath, strings.TrimSuffix(s.urlPrefix, "/")+"/")
	if rel == publicPath {
		return fmt.Errorf("path %q is not under this store", publicPath)
	}

	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	s.logger.Debug("file removed", zap.String("path", fullPath))
	return nil
}

// validatePath checks that the resolved path stays within baseDir.
func (s *LocalFileStore) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}

	return nil
}
