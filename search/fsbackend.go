package search

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/maruel/natural"
	"github.com/spf13/afero"
)

const (
	copyChunkSize = 256 * 1024 // 256KB per chunk

	// DefaultMaxReadSize bounds ReadFile when the caller passes no limit.
	DefaultMaxReadSize = 10 << 20

	maxSearchResults = 500
)

// ErrSourceModified is returned when a backup detects that the source file
// was modified during the copy.
var ErrSourceModified = errors.New("source modified during copy")

// FSBackend implements the backend contract on top of an afero filesystem.
type FSBackend struct {
	fs     afero.Fs
	ignore *IgnoreList
}

var _ Backend = (*FSBackend)(nil)

// NewFSBackend creates a local backend. ignore may be nil.
func NewFSBackend(fs afero.Fs, ignore *IgnoreList) *FSBackend {
	return &FSBackend{fs: fs, ignore: ignore}
}

func notFound(op, path string) error {
	return newError(op, path, ErrNotFound, "no such file or directory")
}

func itemFromInfo(dir string, info os.FileInfo) Item {
	it := Item{
		Path:     JoinPath(dir, info.Name()),
		Name:     info.Name(),
		Type:     ItemFile,
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}
	if info.IsDir() {
		it.Type = ItemFolder
		it.Size = 0
	}
	it.FileType = string(ClassifyType(info.Name(), info.IsDir()))
	return it
}

// Browse lists the direct children of path, folders first, natural order.
func (b *FSBackend) Browse(_ context.Context, path string) (*Listing, error) {
	path = CleanPath(path)
	infos, err := afero.ReadDir(b.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("browse", path)
		}
		return nil, fmt.Errorf("read dir %s: %w", path, err)
	}

	items := make([]Item, 0, len(infos))
	for _, info := range infos {
		if info.Name() == IgnoreFileName || b.ignore.IsIgnored(info.Name(), info.IsDir()) {
			continue
		}
		items = append(items, itemFromInfo(path, info))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return natural.Less(strings.ToLower(items[i].Name), strings.ToLower(items[j].Name))
	})
	return &Listing{Success: true, Path: path, Items: items}, nil
}

// Search walks path and returns entries whose name contains every query
// token, case-insensitively. Ignored directories are skipped entirely.
func (b *FSBackend) Search(ctx context.Context, query, path string) ([]Item, error) {
	l := sub("fsbackend")
	path = CleanPath(path)
	if path == "" {
		return nil, newError("search", path, ErrNotFound, "a search root is required")
	}
	if exists, _ := afero.DirExists(b.fs, path); !exists {
		return nil, notFound("search", path)
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return []Item{}, nil
	}

	var results []Item
	stop := errors.New("limit reached")
	err := afero.Walk(b.fs, path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			l.Warn("search walk error", "path", p, "err", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if CleanPath(p) == path {
			return nil
		}
		if info.Name() == IgnoreFileName {
			return nil
		}
		if b.ignore.IsIgnored(info.Name(), info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := strings.ToLower(info.Name())
		for _, t := range terms {
			if !strings.Contains(name, t) {
				return nil
			}
		}
		results = append(results, itemFromInfo(ParentDir(p), info))
		if len(results) >= maxSearchResults {
			return stop
		}
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	l.Debug("search complete", "query", query, "root", path, "results", len(results))
	if results == nil {
		results = []Item{}
	}
	return results, nil
}

// ReadFile returns the content of path, UTF-8 as is and anything else base64.
func (b *FSBackend) ReadFile(_ context.Context, path string, maxSize int64) (*FileContent, error) {
	path = CleanPath(path)
	if maxSize <= 0 {
		maxSize = DefaultMaxReadSize
	}
	info, err := b.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("read-file", path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read-file %s: is a directory", path)
	}
	if info.Size() > maxSize {
		return nil, fmt.Errorf("read-file %s: file too large (%d > %d bytes)", path, info.Size(), maxSize)
	}

	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if utf8.Valid(data) {
		return &FileContent{Content: string(data), Size: int64(len(data)), Encoding: "utf8"}, nil
	}
	return &FileContent{
		Content:  base64.StdEncoding.EncodeToString(data),
		Size:     int64(len(data)),
		Encoding: "base64",
	}, nil
}

// WriteFile replaces path atomically (temp file then rename). With backup
// set and an existing file, the previous version is copied first.
func (b *FSBackend) WriteFile(ctx context.Context, path, content, encoding string, backup bool) (string, error) {
	path = CleanPath(path)
	data := []byte(content)
	if encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		data = decoded
	}

	var backupPath string
	if backup {
		if exists, _ := afero.Exists(b.fs, path); exists {
			backupPath = BackupPathFor(path)
			if err := b.BackupFile(ctx, path, backupPath); err != nil {
				return "", fmt.Errorf("backup before write: %w", err)
			}
		}
	}

	if err := b.fs.MkdirAll(ParentDir(path), 0755); err != nil {
		return "", fmt.Errorf("mkdir parent: %w", err)
	}
	tmpPath := path + ".search-tmp"
	if err := afero.WriteFile(b.fs, tmpPath, data, 0644); err != nil {
		b.fs.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("write tmp: %w", err)
	}
	if err := b.fs.Rename(tmpPath, path); err != nil {
		b.fs.Remove(tmpPath) //nolint:errcheck
		return "", fmt.Errorf("rename tmp: %w", err)
	}
	sub("fsbackend").Info("file written", "path", path, "bytes", len(data), "backup", backupPath)
	return backupPath, nil
}

// DeleteFile removes a file. A missing file is not an error.
func (b *FSBackend) DeleteFile(_ context.Context, path string) error {
	path = CleanPath(path)
	info, err := b.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			sub("fsbackend").Debug("delete: already absent", "path", path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("delete-file %s: is a directory", path)
	}
	if err := b.fs.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	sub("fsbackend").Info("file deleted", "path", path)
	return nil
}

// RenameFile moves oldPath to newPath. The destination must not exist.
func (b *FSBackend) RenameFile(_ context.Context, oldPath, newPath string) error {
	oldPath, newPath = CleanPath(oldPath), CleanPath(newPath)
	if exists, _ := afero.Exists(b.fs, oldPath); !exists {
		return notFound("rename-file", oldPath)
	}
	if exists, _ := afero.Exists(b.fs, newPath); exists {
		return fmt.Errorf("rename-file %s: destination already exists", newPath)
	}
	if err := b.fs.MkdirAll(ParentDir(newPath), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}
	if err := b.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s: %w", oldPath, err)
	}
	sub("fsbackend").Info("file renamed", "from", oldPath, "to", newPath)
	return nil
}

// BackupFile copies src to dst in chunks through a temp file, then verifies
// that src was not modified during the copy before renaming into place.
func (b *FSBackend) BackupFile(ctx context.Context, src, dst string) error {
	src, dst = CleanPath(src), CleanPath(dst)
	srcInfo, err := b.fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound("backup-file", src)
		}
		return fmt.Errorf("stat src: %w", err)
	}
	mtime1 := srcInfo.ModTime().UnixNano()

	if err := b.fs.MkdirAll(ParentDir(dst), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}

	srcFile, err := b.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open src: %w", err)
	}
	defer srcFile.Close()

	tmpPath := dst + ".search-tmp"
	tmpFile, err := b.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}

	buf := make([]byte, copyChunkSize)
	var copyErr error
	for {
		if err := ctx.Err(); err != nil {
			copyErr = err
			break
		}
		n, readErr := srcFile.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				copyErr = fmt.Errorf("write tmp: %w", writeErr)
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			copyErr = fmt.Errorf("read src: %w", readErr)
			break
		}
	}
	tmpFile.Close()
	if copyErr != nil {
		b.fs.Remove(tmpPath) //nolint:errcheck
		return copyErr
	}

	srcInfo2, err := b.fs.Stat(src)
	if err != nil || srcInfo2.ModTime().UnixNano() != mtime1 {
		b.fs.Remove(tmpPath) //nolint:errcheck
		return ErrSourceModified
	}

	if err := b.fs.Rename(tmpPath, dst); err != nil {
		b.fs.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("rename tmp: %w", err)
	}
	sub("fsbackend").Debug("backup complete", "src", src, "dst", dst)
	return nil
}

// FileInfo returns metadata for path.
func (b *FSBackend) FileInfo(_ context.Context, path string) (*FileInfo, error) {
	path = CleanPath(path)
	info, err := b.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound("file-info", path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileInfo{
		Path:        path,
		Name:        info.Name(),
		Size:        info.Size(),
		Modified:    info.ModTime().UTC(),
		IsDirectory: info.IsDir(),
		FileType:    string(ClassifyType(info.Name(), info.IsDir())),
	}, nil
}
