// Package blobstore keeps the on-disk artifacts of each search context: raw
// data, previews, stage logs, checkpoints, and a parallel public copy that a
// web server can serve directly.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/FranksOps/maestro/internal/storage"
)

// ErrPathTraversal is returned when a relative path escapes its context.
var ErrPathTraversal = errors.New("blobstore: path escapes context directory")

// Well-known directories relative to a context directory.
const (
	DirFull        = "data/full"
	DirThumbs      = "data/thumbs"
	DirLogs        = "logs"
	DirCheckpoints = "checkpoints"
)

// Scope addresses one context's directory tree.
type Scope struct {
	Owner storage.Owner
	Code  string
}

// ScopeOf returns the scope of sc.
func ScopeOf(sc *storage.SearchContext) Scope {
	return Scope{Owner: sc.Owner, Code: sc.Code}
}

func (s Scope) rel() string {
	return filepath.Join(string(s.Owner.Kind), s.Owner.ID, s.Code)
}

// Store is a directory-backed blob store.
type Store struct {
	root   string
	public string
}

// New creates the root and public directories if needed.
func New(root, public string) (*Store, error) {
	for _, dir := range []string{root, public} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{root: filepath.Clean(root), public: filepath.Clean(public)}, nil
}

// Root is the private data root.
func (s *Store) Root() string { return s.root }

// SafeJoin joins rel under base and rejects results outside base.
func SafeJoin(base, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", fmt.Errorf("%q: %w", rel, ErrPathTraversal)
	}
	joined := filepath.Join(base, filepath.Clean("/"+rel))
	if !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", rel, ErrPathTraversal)
	}
	return joined, nil
}

// Dir is the absolute private directory of a context.
func (s *Store) Dir(scope Scope) string {
	return filepath.Join(s.root, scope.rel())
}

// PublicDir is the absolute public directory of a context.
func (s *Store) PublicDir(scope Scope) string {
	return filepath.Join(s.public, scope.rel())
}

// Prepare creates the directory tree of a context.
func (s *Store) Prepare(scope Scope) error {
	for _, sub := range []string{DirFull, DirThumbs, DirLogs, DirCheckpoints} {
		if err := os.MkdirAll(filepath.Join(s.Dir(scope), sub), 0o755); err != nil {
			return fmt.Errorf("prepare context dir: %w", err)
		}
	}
	return nil
}

// Path resolves a context-relative path to an absolute one.
func (s *Store) Path(scope Scope, rel string) (string, error) {
	return SafeJoin(s.Dir(scope), rel)
}

// WriteFile atomically replaces rel with data.
func (s *Store) WriteFile(scope Scope, rel string, data []byte) error {
	path, err := s.Path(scope, rel)
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}

// Create streams r into rel and returns the number of bytes written. The file
// only appears under its final name once fully written.
func (s *Store) Create(scope Scope, rel string, r io.Reader) (int64, error) {
	path, err := s.Path(scope, rel)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create parent for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(dir, ".maestro-tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file for %s: %w", rel, err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("rename %s: %w", rel, err)
	}
	return n, nil
}

// ReadFile reads rel.
func (s *Store) ReadFile(scope Scope, rel string) ([]byte, error) {
	path, err := s.Path(scope, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists reports whether rel exists.
func (s *Store) Exists(scope Scope, rel string) bool {
	path, err := s.Path(scope, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Remove deletes rel and its public copy. Missing files are not an error.
func (s *Store) Remove(scope Scope, rel string) error {
	for _, base := range []string{s.Dir(scope), s.PublicDir(scope)} {
		path, err := SafeJoin(base, rel)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
	}
	return nil
}

// Publish copies rel into the public tree and returns its path relative to
// the public root, suitable for building URLs.
func (s *Store) Publish(scope Scope, rel string) (string, error) {
	src, err := s.Path(scope, rel)
	if err != nil {
		return "", err
	}
	dst, err := SafeJoin(s.PublicDir(scope), rel)
	if err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("publish %s: %w", rel, err)
	}
	return filepath.ToSlash(filepath.Join(scope.rel(), rel)), nil
}

// RemoveContext deletes the private and public trees of a context.
func (s *Store) RemoveContext(scope Scope) error {
	for _, dir := range []string{s.Dir(scope), s.PublicDir(scope)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove context dir: %w", err)
		}
	}
	return nil
}

// WriteAtomic writes data to a temp file next to path and renames it into
// place, so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".maestro-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file for %s: %w", path, err)
	}
	return nil
}
