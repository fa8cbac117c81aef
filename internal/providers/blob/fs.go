// Package blob is a filesystem BlobStore. Each object is stored at its path
// under the root, with a JSON sidecar holding content type, etag and metadata.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/planning-ingest/internal/providers"
)

const sidecarSuffix = ".meta.json"

var _ providers.BlobStore = (*FS)(nil)

// ErrNotFound is returned by Get for missing objects
var ErrNotFound = errors.New("blob not found")

// FS stores blobs under a root directory
type FS struct {
	root string
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewFS creates the root directory if needed
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, &providers.ConfigError{Provider: "blob", Message: "root directory is not configured"}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FS{root: root}, nil
}

// resolve maps a blob path to a file path, refusing paths that escape the root
func (s *FS) resolve(p string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(p))
	if clean == "/" || strings.HasSuffix(clean, sidecarSuffix) {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes data and its sidecar. Writes go through a temp file and rename.
func (s *FS) Put(_ context.Context, p string, data []byte, contentType string, metadata map[string]string) (*providers.BlobObject, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	sum := sha256.Sum256(data)
	meta := sidecar{
		ContentType: contentType,
		ETag:        hex.EncodeToString(sum[:]),
		Size:        int64(len(data)),
		Metadata:    metadata,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal blob metadata: %w", err)
	}

	if err := writeAtomic(full, data); err != nil {
		return nil, fmt.Errorf("failed to write blob %s: %w", p, err)
	}
	if err := writeAtomic(full+sidecarSuffix, metaJSON); err != nil {
		return nil, fmt.Errorf("failed to write blob metadata %s: %w", p, err)
	}

	return &providers.BlobObject{
		Path:        p,
		ETag:        meta.ETag,
		Size:        meta.Size,
		ContentType: contentType,
		Metadata:    metadata,
	}, nil
}

// Get reads an object and its sidecar
func (s *FS) Get(_ context.Context, p string) (*providers.BlobObject, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", p, err)
	}

	obj := &providers.BlobObject{Path: p, Data: data, Size: int64(len(data))}
	if metaJSON, err := os.ReadFile(full + sidecarSuffix); err == nil {
		var meta sidecar
		_ = json.Unmarshal(metaJSON, &meta)
		obj.ContentType = meta.ContentType
		obj.ETag = meta.ETag
		obj.Metadata = meta.Metadata
	}
	if obj.ETag == "" {
		sum := sha256.Sum256(data)
		obj.ETag = hex.EncodeToString(sum[:])
	}
	return obj, nil
}

// Delete removes an object; deleting a missing object is not an error
func (s *FS) Delete(_ context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	for _, f := range []string{full, full + sidecarSuffix} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete blob %s: %w", p, err)
		}
	}
	return nil
}

// Exists reports whether an object is stored at p
func (s *FS) Exists(_ context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob %s: %w", p, err)
	}
	return !info.IsDir(), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
