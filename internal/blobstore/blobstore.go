// Package blobstore persists image bytes on the local filesystem, keyed
// by opaque references stored alongside the catalog records.
package blobstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/google/uuid"
)

// Store reads and writes blobs under a single root directory.
type Store struct {
	root string
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.Newf("blob store root directory is empty").
			Category(errors.CategoryConfiguration).
			Component("blobstore").
			Build()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Component("blobstore").
			Context("operation", "create_root").
			FileContext(dir, 0).
			Build()
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Save writes data under a fresh reference and returns it. The extension
// of the original filename is kept so stored blobs stay recognizable.
func (s *Store) Save(data []byte, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	ref := uuid.New().String() + ext

	path := filepath.Join(s.root, ref)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", writeError(err, tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", writeError(err, path)
	}
	return ref, nil
}

// Read returns the bytes stored under ref.
func (s *Store) Read(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Category(category).
			Component("blobstore").
			Context("operation", "read").
			FileContext(path, 0).
			Build()
	}
	return data, nil
}

// Remove deletes the blob stored under ref. Missing blobs are not errors.
func (s *Store) Remove(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Component("blobstore").
			Context("operation", "remove").
			FileContext(path, 0).
			Build()
	}
	return nil
}

// resolve maps a reference to its path, rejecting escapes from the root.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", errors.Newf("invalid blob reference %q", ref).
			Category(errors.CategoryValidation).
			Component("blobstore").
			Build()
	}
	return filepath.Join(s.root, ref), nil
}

func writeError(err error, path string) error {
	return errors.New(err).
		Category(errors.CategoryFileIO).
		Component("blobstore").
		Context("operation", "write").
		FileContext(path, 0).
		Build()
}
