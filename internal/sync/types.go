package sync

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSyncAlreadyRunning is returned by Engine.Run while another run is active.
	ErrSyncAlreadyRunning = errors.New("sync already running")
	// ErrTypeMismatch marks a name that is a folder on one side and a file on the other.
	ErrTypeMismatch = errors.New("folder/file type mismatch")
)

// OpType 定义同步操作类型
type OpType int

const (
	OpUpload       OpType = iota + 1 // 上传新文件 (本地 -> 远端)
	OpUpdate                         // 原地更新远端文件
	OpDownload                       // 下载 (远端 -> 本地)
	OpCreateFolder                   // 在远端创建文件夹
	OpCompare                        // 比较两侧条目 (类型不一致时)
)

func (o OpType) String() string {
	switch o {
	case OpUpload:
		return "upload"
	case OpUpdate:
		return "update"
	case OpDownload:
		return "download"
	case OpCreateFolder:
		return "create-folder"
	case OpCompare:
		return "compare"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// RemoteEntry is the engine's view of one remote child: *RemoteFile or
// *RemoteFolder. ModifiedAt is in epoch seconds.
type RemoteEntry interface {
	EntryID() string
	EntryName() string
	ModifiedAtEpoch() int64
	isRemoteEntry()
}

type RemoteFile struct {
	ID         string
	Name       string
	ModifiedAt int64
}

type RemoteFolder struct {
	ID         string
	Name       string
	ModifiedAt int64
}

func (f *RemoteFile) EntryID() string        { return f.ID }
func (f *RemoteFile) EntryName() string      { return f.Name }
func (f *RemoteFile) ModifiedAtEpoch() int64 { return f.ModifiedAt }
func (*RemoteFile) isRemoteEntry()           {}

func (f *RemoteFolder) EntryID() string        { return f.ID }
func (f *RemoteFolder) EntryName() string      { return f.Name }
func (f *RemoteFolder) ModifiedAtEpoch() int64 { return f.ModifiedAt }
func (*RemoteFolder) isRemoteEntry()           {}

// FatalError aborts a run: a listing, the bootstrap mkdir, a local stat or a
// remote timestamp could not be processed.
type FatalError struct {
	Path     string
	FolderID string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sync %q (folder %s): %v", e.Path, e.FolderID, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TransferError records one failed upload, update, download or folder
// creation. The run continues past it.
type TransferError struct {
	Op       OpType
	Path     string
	RemoteID string
	Err      error
}

func (e *TransferError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %q (%s): %v", e.Op, e.Path, e.RemoteID, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Result 汇总一次同步的结果. Safe for concurrent use by folder jobs.
type Result struct {
	mu sync.Mutex

	Uploaded       int // new remote files
	Updated        int // remote files replaced in place
	Downloaded     int
	FoldersCreated int
	Unchanged      int
	BytesUp        int64
	BytesDown      int64
	Failures       []*TransferError
}

// Transfers is the number of content transfers and folder creations.
func (r *Result) Transfers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Uploaded + r.Updated + r.Downloaded + r.FoldersCreated
}

// Err joins all transfer failures, or returns nil.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Result) record(op OpType, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch op {
	case OpUpload:
		r.Uploaded++
		r.BytesUp += bytes
	case OpUpdate:
		r.Updated++
		r.BytesUp += bytes
	case OpDownload:
		r.Downloaded++
		r.BytesDown += bytes
	case OpCreateFolder:
		r.FoldersCreated++
	}
}

func (r *Result) unchanged() {
	r.mu.Lock()
	r.Unchanged++
	r.mu.Unlock()
}

func (r *Result) fail(err *TransferError) {
	r.mu.Lock()
	r.Failures = append(r.Failures, err)
	r.mu.Unlock()
}
