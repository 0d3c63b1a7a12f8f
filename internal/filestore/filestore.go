// Package filestore implements the content-addressed File Store (component
// B): durable write-then-link semantics for uploaded originals and signed
// release PDFs, keyed by documents/<document-id>/<version>/<name>.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store is a filesystem-backed content store rooted at a directory. Writes
// go to a temporary key and are renamed into place only after the content
// is fully flushed, so a reader never observes a partially written file
// (§4.5/§5: "written atomically via temp-file-then-rename").
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// OriginalKey is the logical key for a version's uploaded source file.
func OriginalKey(documentID, version, ext string) string {
	return filepath.Join("documents", documentID, version, "original"+ext)
}

// SignedKey is the logical key for a version's signed release PDF.
func SignedKey(documentID, version string) string {
	return filepath.Join("documents", documentID, version, "signed.pdf")
}

// WriteResult reports the outcome of a durable write.
type WriteResult struct {
	Key    string
	SHA256 string
	Bytes  int64
}

// Write durably stores content under key: it is first written to a
// temporary sibling file, fsynced, and only then renamed to its final
// path, matching §4.5's write-then-link contract. The returned SHA-256 is
// computed from the same bytes that land on disk.
func (s *Store) Write(ctx context.Context, key string, content io.Reader) (*WriteResult, error) {
	finalPath := filepath.Join(s.root, key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create parent dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("filestore: create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), content)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("filestore: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("filestore: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("filestore: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("filestore: rename into place %s: %w", key, err)
	}

	return &WriteResult{
		Key:    key,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
		Bytes:  n,
	}, nil
}

// Read opens the content at key. Callers must Close the returned reader.
func (s *Store) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, key))
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", key, err)
	}
	return f, nil
}

// Exists reports whether key is present in the store.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(filepath.Join(s.root, key))
	return err == nil
}
