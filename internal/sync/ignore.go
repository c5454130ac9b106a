package sync

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreFile is looked up in the local sync root.
const DefaultIgnoreFile = ".syncignore"

var defaultIgnoreLines = []string{
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	// editor swap / backup files
	"*.swp",
	"*.swo",
	"*~",
	// in-flight downloads
	".drivesync-*",
}

// IgnoreList 决定哪些名字不参与同步. Paths are slash-separated and relative
// to the sync root.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
}

// NewIgnoreList compiles the default patterns plus ignoreFile (relative to
// rootDir) when it exists.
func NewIgnoreList(rootDir, ignoreFile string) (*IgnoreList, error) {
	if ignoreFile == "" {
		return &IgnoreList{ignore: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}, nil
	}

	path := ignoreFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootDir, ignoreFile)
	}
	gi, err := gitignore.CompileIgnoreFileAndLines(path, defaultIgnoreLines...)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("ignore file not found, using defaults", "path", path)
		return &IgnoreList{ignore: gitignore.CompileIgnoreLines(defaultIgnoreLines...)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &IgnoreList{ignore: gi}, nil
}

// NewIgnoreListFromLines compiles the defaults plus extra patterns.
func NewIgnoreListFromLines(lines ...string) *IgnoreList {
	all := append(append([]string{}, defaultIgnoreLines...), lines...)
	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(all...)}
}

// ShouldIgnore reports whether relPath is excluded. Directory patterns
// ("build/") only match when isDir is set.
func (l *IgnoreList) ShouldIgnore(relPath string, isDir bool) bool {
	if l == nil || relPath == "" {
		return false
	}
	p := filepath.ToSlash(relPath)
	if isDir && l.ignore.MatchesPath(p+"/") {
		return true
	}
	return l.ignore.MatchesPath(p)
}
