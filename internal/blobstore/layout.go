// Package blobstore maps content hashes to shard directories and reads,
// writes and deletes blob bytes at a (shard, key) location.
//
// A blob lives at <root>/<shard>/<key>, where shard is the first two hex
// characters of the object's content hash. The directory is chosen by
// hash but the file is named by key, so two keys with identical content
// are stored twice, and overwriting a key with a different hash leaves the
// previous file behind in its old shard.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ShardLen is the number of hash characters used for the shard directory.
	ShardLen = 2

	// MaxKeyLength bounds the on-disk file name.
	MaxKeyLength = 1024

	tempDirName = ".tmp"
)

var (
	// ErrBlobNotFound is returned when no file exists at a (shard, key).
	ErrBlobNotFound = errors.New("blob not found")

	// ErrInvalidHash is returned when a hash cannot produce a shard.
	ErrInvalidHash = errors.New("invalid content hash")

	// ErrInvalidKey is returned for keys that are not a single safe path segment.
	ErrInvalidKey = errors.New("invalid object key")
)

// Shard returns the lowercased first two characters of a hex hash.
func Shard(hash string) (string, error) {
	if len(hash) < ShardLen {
		return "", fmt.Errorf("%w: need at least %d hex characters, got %q", ErrInvalidHash, ShardLen, hash)
	}
	prefix := strings.ToLower(hash[:ShardLen])
	for i := 0; i < len(prefix); i++ {
		if !isHex(prefix[i]) {
			return "", fmt.Errorf("%w: %q is not hex", ErrInvalidHash, prefix)
		}
	}
	return prefix, nil
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f')
}

// ValidateKey rejects keys that would escape their shard directory or
// collide with the staging area.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidKey, MaxKeyLength)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\"):
		return fmt.Errorf("%w: path separators not allowed", ErrInvalidKey)
	case strings.ContainsRune(key, 0):
		return fmt.Errorf("%w: null bytes not allowed", ErrInvalidKey)
	}
	return nil
}

// Options configures a Layout.
type Options struct {
	FileMode os.FileMode
	DirMode  os.FileMode
	// Staged writes go to a temp file, are fsynced and renamed into place,
	// so readers never see a partially written blob.
	Staged bool
}

// OptionFunc mutates Options.
type OptionFunc func(*Options)

func WithStagedWrites(staged bool) OptionFunc {
	return func(o *Options) { o.Staged = staged }
}

func WithFileMode(mode os.FileMode) OptionFunc {
	return func(o *Options) { o.FileMode = mode }
}

// Layout is the on-disk blob tree.
type Layout struct {
	root string
	opts Options
}

// NewLayout creates a layout rooted at root, creating the directory.
func NewLayout(root string, opts ...OptionFunc) (*Layout, error) {
	options := Options{FileMode: 0644, DirMode: 0755}
	for _, opt := range opts {
		opt(&options)
	}

	root = filepath.Clean(root)
	if err := os.MkdirAll(root, options.DirMode); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	if options.Staged {
		if err := os.MkdirAll(filepath.Join(root, tempDirName), options.DirMode); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	return &Layout{root: root, opts: options}, nil
}

// Root returns the blob tree root.
func (l *Layout) Root() string {
	return l.root
}

// Path returns the file path for (shard, key).
func (l *Layout) Path(shard, key string) string {
	return filepath.Join(l.root, shard, key)
}

func (l *Layout) check(shard, key string) error {
	if len(shard) != ShardLen || !isHex(shard[0]) || !isHex(shard[1]) {
		return fmt.Errorf("%w: bad shard %q", ErrInvalidHash, shard)
	}
	return ValidateKey(key)
}

// Write stores r at (shard, key), replacing any existing file.
func (l *Layout) Write(ctx context.Context, shard, key string, r io.Reader) (int64, error) {
	if err := l.check(shard, key); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Join(l.root, shard)
	if err := os.MkdirAll(dir, l.opts.DirMode); err != nil {
		return 0, fmt.Errorf("create shard dir: %w", err)
	}

	if l.opts.Staged {
		return l.writeStaged(shard, key, r)
	}
	return l.writeDirect(shard, key, r)
}

// writeDirect truncates the target in place. There is no fsync; a crash
// may leave a short file behind.
func (l *Layout) writeDirect(shard, key string, r io.Reader) (int64, error) {
	path := l.Path(shard, key)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, l.opts.FileMode)
	if err != nil {
		return 0, fmt.Errorf("open blob %s/%s: %w", shard, key, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("write blob %s/%s: %w", shard, key, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close blob %s/%s: %w", shard, key, err)
	}
	return n, nil
}

func (l *Layout) writeStaged(shard, key string, r io.Reader) (int64, error) {
	tmpDir := filepath.Join(l.root, tempDirName)
	if err := os.MkdirAll(tmpDir, l.opts.DirMode); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(tmpDir, ".blob-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return n, fmt.Errorf("write blob data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, l.opts.FileMode); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, l.Path(shard, key)); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("rename blob: %w", err)
	}
	return n, nil
}

// Open opens the blob at (shard, key) and returns its size.
// Returns ErrBlobNotFound if no file exists there.
func (l *Layout) Open(_ context.Context, shard, key string) (*os.File, int64, error) {
	if err := l.check(shard, key); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(l.Path(shard, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%s/%s: %w", shard, key, ErrBlobNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open blob %s/%s: %w", shard, key, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat blob %s/%s: %w", shard, key, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s/%s is a directory: %w", shard, key, ErrBlobNotFound)
	}
	return f, info.Size(), nil
}

// Exists reports whether a regular file exists at (shard, key).
func (l *Layout) Exists(shard, key string) (bool, error) {
	if err := l.check(shard, key); err != nil {
		return false, err
	}
	info, err := os.Stat(l.Path(shard, key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s/%s: %w", shard, key, err)
	}
	return info.Mode().IsRegular(), nil
}

// Remove deletes the blob at (shard, key). Returns ErrBlobNotFound if it
// was already gone; any other failure is returned as is.
func (l *Layout) Remove(_ context.Context, shard, key string) error {
	if err := l.check(shard, key); err != nil {
		return err
	}
	err := os.Remove(l.Path(shard, key))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s/%s: %w", shard, key, ErrBlobNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove blob %s/%s: %w", shard, key, err)
	}
	return nil
}

// RemoveShardIfEmpty removes the shard directory. A non-empty directory is
// left in place and reported as an error the caller is free to ignore.
func (l *Layout) RemoveShardIfEmpty(shard string) error {
	if len(shard) != ShardLen || !isHex(shard[0]) || !isHex(shard[1]) {
		return fmt.Errorf("%w: bad shard %q", ErrInvalidHash, shard)
	}
	return os.Remove(filepath.Join(l.root, shard))
}

// Walk calls fn for every blob file in the tree. The staging directory and
// anything not shaped like <shard>/<file> is skipped.
func (l *Layout) Walk(ctx context.Context, fn func(shard, key string, size int64) error) error {
	shards, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("read blob root: %w", err)
	}

	for _, sd := range shards {
		name := sd.Name()
		if !sd.IsDir() || name == tempDirName || len(name) != ShardLen || !isHex(name[0]) || !isHex(name[1]) {
			continue
		}

		entries, err := os.ReadDir(filepath.Join(l.root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue // removed concurrently
		}
		if err != nil {
			return fmt.Errorf("read shard %s: %w", name, err)
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !e.Type().IsRegular() {
				continue
			}
			info, err := e.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("stat %s/%s: %w", name, e.Name(), err)
			}
			if err := fn(name, e.Name(), info.Size()); err != nil {
				return err
			}
		}
	}
	return nil
}
