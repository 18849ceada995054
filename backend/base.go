package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/vecdex/vecdex/vectordb/ident"
)

// Base supplies the path naming and file plumbing shared across backends.
// Model-scoped indexes live under <base>/models, document-scoped ones under
// <base>/documents. Name components carry the same hash suffix as table
// identifiers so distinct keys never share a file after sanitization.
type Base struct {
	fs       afs.Service
	basePath string
	ext      string
}

// NewBase creates path helpers rooted at basePath with the given file
// extension (without the dot).
func NewBase(basePath, ext string) *Base {
	return &Base{fs: afs.New(), basePath: basePath, ext: ext}
}

// BasePath returns the configured root directory.
func (b *Base) BasePath() string { return b.basePath }

// ModelIndexPath returns the corpus-wide index location for a vector space.
func (b *Base) ModelIndexPath(modelName string, dimension int) string {
	name := fmt.Sprintf("index_%s_%d.%s", ident.FileComponent(modelName), dimension, b.ext)
	return url.Join(b.basePath, "models", name)
}

// DocumentIndexPath returns the per-document index location.
func (b *Base) DocumentIndexPath(documentID, modelName string, dimension int) string {
	name := fmt.Sprintf("index_doc_%s_%s_%d.%s", ident.FileComponent(documentID), ident.FileComponent(modelName), dimension, b.ext)
	return url.Join(b.basePath, "documents", name)
}

// IndexPath resolves the index location for a config-shaped key.
func (b *Base) IndexPath(documentID, modelName string, dimension int) string {
	if documentID != "" {
		return b.DocumentIndexPath(documentID, modelName, dimension)
	}
	return b.ModelIndexPath(modelName, dimension)
}

// Exists reports whether an index file is present at path.
func (b *Base) Exists(ctx context.Context, path string) (bool, error) {
	return b.fs.Exists(ctx, path)
}

// EnsureParent creates the directory that will hold path.
func (b *Base) EnsureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// Upload writes the index payload at path, replacing any previous file.
func (b *Base) Upload(ctx context.Context, path string, payload io.Reader) error {
	if ok, _ := b.fs.Exists(ctx, path); ok {
		if err := b.fs.Delete(ctx, path); err != nil {
			return err
		}
	}
	return b.fs.Upload(ctx, path, file.DefaultFileOsMode, payload)
}

// Open returns a reader over the index payload at path.
func (b *Base) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return b.fs.OpenURL(ctx, path)
}

// Copy duplicates the index file at src to dst, replacing any previous file.
func (b *Base) Copy(ctx context.Context, src, dst string) error {
	if ok, _ := b.fs.Exists(ctx, dst); ok {
		if err := b.fs.Delete(ctx, dst); err != nil {
			return err
		}
	}
	return b.fs.Copy(ctx, src, dst)
}

// Remove deletes the index file at path; removing an absent file is a no-op.
func (b *Base) Remove(ctx context.Context, path string) error {
	if ok, _ := b.fs.Exists(ctx, path); !ok {
		return nil
	}
	return b.fs.Delete(ctx, path)
}
