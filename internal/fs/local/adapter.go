package local

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"drivesync/internal/fs"
	"drivesync/internal/meta"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// TempPrefix marks in-flight downloads. The default ignore list skips it.
const TempPrefix = ".drivesync-"

// Adapter 本地文件系统适配器, chrooted at the sync root.
type Adapter struct {
	rootDir string // 本地绝对路径根目录
	fs      billy.Filesystem
}

// NewAdapter 创建一个新的本地适配器
func NewAdapter(rootDir string) *Adapter {
	absDir, err := filepath.Abs(rootDir)
	if err != nil {
		absDir = rootDir
	}
	return &Adapter{rootDir: absDir, fs: osfs.New(absDir)}
}

// Root 返回根目录
func (a *Adapter) Root() string {
	return a.rootDir
}

func (a *Adapter) Exists(relPath string) (bool, error) {
	_, err := a.fs.Stat(relPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("local: stat %q: %w", relPath, err)
}

func (a *Adapter) MkdirAll(relPath string) error {
	if err := a.fs.MkdirAll(relPath, 0o755); err != nil {
		return fmt.Errorf("local: mkdir %q: %w", relPath, err)
	}
	return nil
}

// List 列出目录的直接子项
func (a *Adapter) List(relDir string) ([]*fs.LocalEntry, error) {
	infos, err := a.fs.ReadDir(relDir)
	if err != nil {
		return nil, fmt.Errorf("local: read dir %q: %w", relDir, err)
	}

	entries := make([]*fs.LocalEntry, 0, len(infos))
	for _, info := range infos {
		// 只同步普通文件和目录
		if !info.IsDir() && !info.Mode().IsRegular() {
			slog.Debug("跳过非普通文件", "path", filepath.Join(relDir, info.Name()), "mode", info.Mode())
			continue
		}
		entries = append(entries, toEntry(info))
	}
	return entries, nil
}

// Stat 获取单个文件状态
func (a *Adapter) Stat(relPath string) (*fs.LocalEntry, error) {
	info, err := a.fs.Stat(relPath)
	if err != nil {
		return nil, fmt.Errorf("local: stat %q: %w", relPath, err)
	}
	return toEntry(info), nil
}

// OpenStream 打开本地文件读取流
func (a *Adapter) OpenStream(relPath string) (io.ReadCloser, error) {
	f, err := a.fs.Open(relPath)
	if err != nil {
		return nil, fmt.Errorf("local: open %q: %w", relPath, err)
	}
	return f, nil
}

// WriteStream 将流写入本地文件
// The content lands in a temp file next to the target and is renamed into
// place, so a failed transfer never leaves a truncated file behind.
func (a *Adapter) WriteStream(relPath string, stream io.Reader, modifiedAt int64) (int64, error) {
	dir := filepath.Dir(relPath)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("local: mkdir %q: %w", dir, err)
	}

	tmp, err := a.fs.TempFile(dir, TempPrefix)
	if err != nil {
		return 0, fmt.Errorf("local: create temp in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, stream)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = a.fs.Remove(tmpName)
		return n, fmt.Errorf("local: write %q: %w", relPath, err)
	}

	if err := a.fs.Rename(tmpName, relPath); err != nil {
		_ = a.fs.Remove(tmpName)
		return n, fmt.Errorf("local: rename into %q: %w", relPath, err)
	}

	// 恢复修改时间 (双向同步依赖这个时间)
	if err := a.SetModifiedAt(relPath, modifiedAt); err != nil {
		slog.Warn("无法修改文件时间", "path", relPath, "err", err)
	}
	return n, nil
}

// SetModifiedAt sets both atime and mtime of relPath to epoch.
func (a *Adapter) SetModifiedAt(relPath string, epoch int64) error {
	t := meta.ToTime(epoch)
	if ch, ok := a.fs.(billy.Change); ok {
		return ch.Chtimes(relPath, t, t)
	}
	// osfs does not implement billy.Change.
	if err := os.Chtimes(filepath.Join(a.rootDir, relPath), t, t); err != nil {
		return fmt.Errorf("local: chtimes %q: %w", relPath, err)
	}
	return nil
}

func toEntry(info os.FileInfo) *fs.LocalEntry {
	return &fs.LocalEntry{
		Name:       info.Name(),
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		ModifiedAt: meta.FromTime(info.ModTime()),
	}
}
