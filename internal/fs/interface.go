package fs

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned by stores when an id does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrNotFolder is returned when a folder operation targets a file.
	ErrNotFolder = errors.New("object is not a folder")
)

// LocalEntry is one child of a local directory, derived from stat.
type LocalEntry struct {
	Name       string
	IsDir      bool
	Size       int64
	ModifiedAt int64 // epoch seconds
}

// RemoteItem is one child of a remote folder as returned by a listing.
// ModifiedTime stays in the store's text form; the engine normalizes it.
type RemoteItem struct {
	ID           string
	Name         string
	IsFolder     bool
	Size         int64
	ModifiedTime string
}

// LocalFS is the local side of a sync. All paths are relative to Root and
// use the host separator; "" names the root itself.
type LocalFS interface {
	// Root returns the absolute sync root (for logs).
	Root() string

	Exists(relPath string) (bool, error)
	MkdirAll(relPath string) error

	// List returns the immediate children of relDir.
	List(relDir string) ([]*LocalEntry, error)
	Stat(relPath string) (*LocalEntry, error)

	// OpenStream opens a file for reading.
	OpenStream(relPath string) (io.ReadCloser, error)

	// WriteStream replaces relPath with the content of stream and then sets
	// its modification time to modifiedAt. The content write is atomic; the
	// time update is best effort.
	WriteStream(relPath string, stream io.Reader, modifiedAt int64) (int64, error)

	SetModifiedAt(relPath string, epoch int64) error
}

// RemoteStore is the remote side of a sync: a tree of folders and files
// addressed by opaque ids.
type RemoteStore interface {
	// Name identifies the backend in logs.
	Name() string

	ListChildren(ctx context.Context, folderID string) ([]*RemoteItem, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)

	// UploadNew creates a new file under parentID and returns its id.
	// modifiedTime is in the store's text form.
	UploadNew(ctx context.Context, name, parentID string, content io.Reader, modifiedTime string) (string, error)

	// Update replaces the content of an existing file in place.
	Update(ctx context.Context, id string, content io.Reader, modifiedTime string) (string, error)

	// OpenStream opens a file's content. The caller closes it.
	OpenStream(ctx context.Context, id string) (io.ReadCloser, error)

	Delete(ctx context.Context, id string) error
}
