// Package uploads manages user images copied into the application uploads directory.
// Nothing outside of this directory is ever written or removed by the package.
package uploads

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/google/uuid"

	"github.com/umputun/nanoledger/app/common"
)

// limits of a single upload call
const (
	MaxFileSize = 10 * 1024 * 1024
	MaxFiles    = 20
)

// AllowedExtensions lists accepted image extensions, lowercase without dot
var AllowedExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}

var mimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// File is an image copied into the uploads directory
type File struct {
	ID   string `json:"id" yaml:"id"`
	Path string `json:"path" yaml:"path"`
	Name string `json:"name" yaml:"name"`
}

// Manager validates, copies and deletes uploaded images
type Manager struct {
	dir         string // absolute, symlinks resolved
	concurrency int
}

// New makes manager for the given uploads directory, creating it if needed
func New(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: failed to make uploads directory %s: %w", common.ErrIO, dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get absolute path of %s: %w", common.ErrIO, dir, err)
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, fmt.Errorf("%w: failed to resolve %s: %w", common.ErrIO, dir, err)
	}
	return &Manager{dir: abs, concurrency: 4}, nil
}

// Dir returns canonical location of the uploads directory
func (m *Manager) Dir() string { return m.dir }

// Upload copies the given images into the uploads directory. All files are validated first,
// nothing is copied if any of them is rejected. Copies made before a failure are removed.
func (m *Manager) Upload(ctx context.Context, paths []string) ([]File, error) {
	if len(paths) > MaxFiles {
		return nil, fmt.Errorf("%w: %d files, at most %d allowed", common.ErrTooManyFiles, len(paths), MaxFiles)
	}

	res := make([]File, 0, len(paths))
	for _, p := range paths {
		ext, err := m.check(p)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		res = append(res, File{ID: id, Path: filepath.Join(m.dir, id+"."+ext), Name: filepath.Base(p)})
	}

	errs := make([]error, len(paths))
	gr := syncs.NewSizedGroup(m.concurrency)
	for i, p := range paths {
		gr.Go(func(context.Context) {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = copyFile(p, res[i].Path)
		})
	}
	gr.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, f := range res {
			if e := os.Remove(f.Path); e != nil && !errors.Is(e, os.ErrNotExist) {
				log.Printf("[WARN] failed to remove partial upload %s, %v", f.Path, e)
			}
		}
		return nil, err
	}

	log.Printf("[INFO] uploaded %d files to %s", len(res), m.dir)
	return res, nil
}

// DataURL returns the file as data:<mime>;base64,<payload>
func (m *Manager) DataURL(path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // reading user selected image
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("image %s: %w", path, common.ErrNotFound)
		}
		return "", fmt.Errorf("%w: failed to read %s: %w", common.ErrIO, path, err)
	}
	mime, ok := mimeTypes[extension(path)]
	if !ok {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Delete removes the file from uploads directory. Paths outside of it are rejected,
// missing file is not an error.
func (m *Manager) Delete(path string) error {
	target, err := m.contained(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: failed to delete %s: %w", common.ErrIO, path, err)
	}
	log.Printf("[DEBUG] deleted upload %s", target)
	return nil
}

// check validates single source file and returns its lowercase extension
func (m *Manager) check(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file %s: %w", path, common.ErrNotFound)
		}
		return "", fmt.Errorf("%w: failed to stat %s: %w", common.ErrIO, path, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", common.ErrInvalidType, path)
	}
	ext := extension(path)
	if !slices.Contains(AllowedExtensions, ext) {
		return "", fmt.Errorf("%w: %q in %s, allowed %s", common.ErrInvalidType, ext, filepath.Base(path),
			strings.Join(AllowedExtensions, ", "))
	}
	if fi.Size() > MaxFileSize {
		return "", fmt.Errorf("%w: %s is %d bytes, limit %d", common.ErrTooLarge, filepath.Base(path), fi.Size(), MaxFileSize)
	}
	return ext, nil
}

// contained returns canonical form of path if it lies strictly inside the uploads directory.
// The parent is resolved rather than the file itself, so a dangling or missing name still checks.
func (m *Manager) contained(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get absolute path of %s: %w", common.ErrIO, path, err)
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	switch {
	case errors.Is(err, os.ErrNotExist):
		parent = filepath.Dir(abs)
	case err != nil:
		return "", fmt.Errorf("%w: failed to resolve %s: %w", common.ErrIO, path, err)
	}
	target := filepath.Join(parent, filepath.Base(abs))

	rel, err := filepath.Rel(m.dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
		filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s is outside of uploads directory", common.ErrPermission, path)
	}
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // user selected image
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", common.ErrIO, src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // dst is inside uploads
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", common.ErrIO, dst, err)
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: failed to copy %s: %w", common.ErrIO, src, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", common.ErrIO, dst, err)
	}
	return nil
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
