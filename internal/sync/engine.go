package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"drivesync/internal/fs"
	"drivesync/internal/meta"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorkers 默认并发处理的文件夹数
const DefaultMaxWorkers = 3

// EngineOptions 初始化选项
type EngineOptions struct {
	LocalFS  fs.LocalFS
	RemoteFS fs.RemoteStore
	Ignore   *IgnoreList

	// MaxWorkers bounds concurrent folder jobs; 1 is strictly sequential.
	MaxWorkers int

	// Run 使用的远端根目录: RootFolderID if set, otherwise the folder
	// RootFolder resolved-or-created under ParentID.
	RootFolder   string
	RootFolderID string
	ParentID     string
}

type Engine struct {
	opts     *EngineOptions
	resolver *Resolver
	running  sync.Mutex
}

func NewEngine(opts *EngineOptions) *Engine {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &Engine{opts: opts, resolver: NewResolver(opts.RemoteFS)}
}

// Run 执行一次完整的同步周期: resolve the configured root folder, then
// synchronize the whole local root with it. Returns ErrSyncAlreadyRunning
// without doing anything while another Run is active.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if !e.running.TryLock() {
		return nil, ErrSyncAlreadyRunning
	}
	defer e.running.Unlock()

	start := time.Now()

	rootID, err := e.rootFolderID(ctx)
	if err != nil {
		return &Result{}, err
	}

	res, err := e.Synchronize(ctx, "", rootID)

	attrs := []any{
		"uploaded", res.Uploaded,
		"updated", res.Updated,
		"downloaded", res.Downloaded,
		"foldersCreated", res.FoldersCreated,
		"unchanged", res.Unchanged,
		"up", humanize.Bytes(uint64(res.BytesUp)),
		"down", humanize.Bytes(uint64(res.BytesDown)),
		"failures", len(res.Failures),
		"took", time.Since(start).Round(time.Millisecond),
	}
	if err != nil {
		slog.Error("同步中止", append(attrs, "err", err)...)
		return res, err
	}
	slog.Info("同步完成", attrs...)
	return res, nil
}

func (e *Engine) rootFolderID(ctx context.Context) (string, error) {
	if e.opts.RootFolderID != "" {
		return e.opts.RootFolderID, nil
	}
	id, err := e.resolver.ResolveOrCreateFolder(ctx, e.opts.RootFolder, e.opts.ParentID)
	if err != nil {
		return "", &FatalError{Path: "", FolderID: e.opts.ParentID, Err: err}
	}
	return id, nil
}

// folderJob is one (local directory, remote folder) pair on the worklist.
type folderJob struct {
	localPath string
	folderID  string
}

type jobOutcome struct {
	children []folderJob
	err      error
}

// Synchronize reconciles localPath (relative to the local root, "" for the
// root itself) with remoteFolderID and everything below them.
//
// Folder jobs are taken from a LIFO worklist, so traversal is depth first,
// and up to MaxWorkers jobs run at once. A FatalError stops dispatching; jobs
// already running finish and the partial Result is returned with it.
func (e *Engine) Synchronize(ctx context.Context, localPath, remoteFolderID string) (*Result, error) {
	res := &Result{}
	pending := []folderJob{{localPath: localPath, folderID: remoteFolderID}}
	outcomes := make(chan jobOutcome)
	inflight := 0
	var fatal error

	for {
		for fatal == nil && ctx.Err() == nil && inflight < e.opts.MaxWorkers && len(pending) > 0 {
			job := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			inflight++
			go func() {
				children, err := e.syncFolder(ctx, job, res)
				outcomes <- jobOutcome{children: children, err: err}
			}()
		}
		if inflight == 0 {
			break
		}

		out := <-outcomes
		inflight--
		if out.err != nil {
			if fatal == nil {
				fatal = out.err
			}
			continue
		}
		// reversed so the first child is taken next
		for i := len(out.children) - 1; i >= 0; i-- {
			pending = append(pending, out.children[i])
		}
	}

	if fatal != nil {
		return res, fatal
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// syncFolder processes one folder scope and returns the subfolder jobs it
// discovered. Every mutation of job.folderID is issued from this goroutine.
func (e *Engine) syncFolder(ctx context.Context, job folderJob, res *Result) ([]folderJob, error) {
	fatal := func(err error) error {
		return &FatalError{Path: job.localPath, FolderID: job.folderID, Err: err}
	}

	// 1. bootstrap
	if err := e.ensureLocalDir(job.localPath); err != nil {
		return nil, fatal(err)
	}

	// 2. 并发获取两侧列表
	var (
		localList  []*fs.LocalEntry
		remoteList []*fs.RemoteItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		localList, err = e.opts.LocalFS.List(job.localPath)
		return err
	})
	g.Go(func() error {
		var err error
		remoteList, err = e.opts.RemoteFS.ListChildren(gctx, job.folderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fatal(err)
	}

	localList = e.filterLocal(job.localPath, localList)
	remoteList = e.filterRemote(job.localPath, remoteList)

	remote, err := toRemoteEntries(remoteList, job.localPath)
	if err != nil {
		return nil, fatal(err)
	}
	local := toLocalIndex(localList)

	// 3. 分区
	common, onlyRemote, onlyLocal := partition(local, remote)
	slog.Debug("文件夹比对",
		"path", displayPath(job.localPath),
		"folder", job.folderID,
		"common", len(common),
		"onlyRemote", len(onlyRemote),
		"onlyLocal", len(onlyLocal),
	)

	var children []folderJob

	// 4. 两侧都有
	for _, name := range common {
		if ctx.Err() != nil {
			return children, nil
		}
		l, r := local[name], remote[name]
		childPath := filepath.Join(job.localPath, name)

		switch compare(l, r) {
		case decideMismatch:
			e.failed(res, &TransferError{Op: OpCompare, Path: childPath, RemoteID: r.EntryID(), Err: ErrTypeMismatch})
		case decideSkip:
			res.unchanged()
		case decideLocal:
			if l.IsDir {
				children = append(children, folderJob{localPath: childPath, folderID: r.EntryID()})
				continue
			}
			e.updateRemote(ctx, res, childPath, r.EntryID(), l.ModifiedAt)
		case decideRemote:
			if _, ok := r.(*RemoteFolder); ok {
				children = append(children, folderJob{localPath: childPath, folderID: r.EntryID()})
				continue
			}
			e.download(ctx, res, childPath, r.EntryID(), r.ModifiedAtEpoch())
		}
	}

	// 5. 仅远端
	for _, name := range onlyRemote {
		if ctx.Err() != nil {
			return children, nil
		}
		r := remote[name]
		childPath := filepath.Join(job.localPath, name)
		if _, ok := r.(*RemoteFolder); ok {
			children = append(children, folderJob{localPath: childPath, folderID: r.EntryID()})
			continue
		}
		e.download(ctx, res, childPath, r.EntryID(), r.ModifiedAtEpoch())
	}

	// 6. 仅本地
	for _, name := range onlyLocal {
		if ctx.Err() != nil {
			return children, nil
		}
		l := local[name]
		childPath := filepath.Join(job.localPath, name)
		if !l.IsDir {
			e.uploadNew(ctx, res, childPath, name, job.folderID, l.ModifiedAt)
			continue
		}

		id, created, err := e.resolver.resolve(ctx, name, job.folderID)
		if err != nil {
			// 子树跳过
			e.failed(res, &TransferError{Op: OpCreateFolder, Path: childPath, RemoteID: job.folderID, Err: err})
			continue
		}
		if created {
			res.record(OpCreateFolder, 0)
		}
		children = append(children, folderJob{localPath: childPath, folderID: id})
	}

	return children, nil
}

// ensureLocalDir creates relPath when missing and fails when it is a file.
func (e *Engine) ensureLocalDir(relPath string) error {
	ok, err := e.opts.LocalFS.Exists(relPath)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("创建本地目录", "path", displayPath(relPath))
		return e.opts.LocalFS.MkdirAll(relPath)
	}
	st, err := e.opts.LocalFS.Stat(relPath)
	if err != nil {
		return err
	}
	if !st.IsDir {
		return fmt.Errorf("local path %q is not a directory", relPath)
	}
	return nil
}

func (e *Engine) filterLocal(dir string, entries []*fs.LocalEntry) []*fs.LocalEntry {
	if e.opts.Ignore == nil {
		return entries
	}
	kept := entries[:0]
	for _, en := range entries {
		if e.opts.Ignore.ShouldIgnore(filepath.Join(dir, en.Name), en.IsDir) {
			slog.Debug("忽略本地条目", "path", filepath.Join(dir, en.Name))
			continue
		}
		kept = append(kept, en)
	}
	return kept
}

func (e *Engine) filterRemote(dir string, items []*fs.RemoteItem) []*fs.RemoteItem {
	if e.opts.Ignore == nil {
		return items
	}
	kept := items[:0]
	for _, it := range items {
		if e.opts.Ignore.ShouldIgnore(filepath.Join(dir, it.Name), it.IsFolder) {
			slog.Debug("忽略远端条目", "path", filepath.Join(dir, it.Name), "id", it.ID)
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// uploadNew 上传仅存在于本地的文件
func (e *Engine) uploadNew(ctx context.Context, res *Result, relPath, name, folderID string, epoch int64) {
	var id string
	n, err := e.sendLocal(relPath, func(r io.Reader) error {
		var err error
		id, err = e.opts.RemoteFS.UploadNew(ctx, name, folderID, r, meta.ToRemoteFormat(epoch))
		return err
	})
	if err != nil {
		e.failed(res, &TransferError{Op: OpUpload, Path: relPath, RemoteID: folderID, Err: err})
		return
	}
	res.record(OpUpload, n)
	slog.Info("上传完成", "path", relPath, "id", id, "size", humanize.Bytes(uint64(n)))
}

// updateRemote 用本地内容原地覆盖远端文件, 远端时间设为本地时间
func (e *Engine) updateRemote(ctx context.Context, res *Result, relPath, id string, epoch int64) {
	n, err := e.sendLocal(relPath, func(r io.Reader) error {
		_, err := e.opts.RemoteFS.Update(ctx, id, r, meta.ToRemoteFormat(epoch))
		return err
	})
	if err != nil {
		e.failed(res, &TransferError{Op: OpUpdate, Path: relPath, RemoteID: id, Err: err})
		return
	}
	res.record(OpUpdate, n)
	slog.Info("更新完成", "path", relPath, "id", id, "size", humanize.Bytes(uint64(n)))
}

// sendLocal opens relPath and hands its content to send, returning the
// number of bytes send consumed.
func (e *Engine) sendLocal(relPath string, send func(io.Reader) error) (int64, error) {
	f, err := e.opts.LocalFS.OpenStream(relPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	err = send(cr)
	return cr.n, err
}

// download 下载远端文件并把本地时间设为远端时间
func (e *Engine) download(ctx context.Context, res *Result, relPath, id string, epoch int64) {
	err := func() error {
		rc, err := e.opts.RemoteFS.OpenStream(ctx, id)
		if err != nil {
			return err
		}
		defer rc.Close()

		n, err := e.opts.LocalFS.WriteStream(relPath, rc, epoch)
		if err != nil {
			return err
		}
		res.record(OpDownload, n)
		slog.Info("下载完成", "path", relPath, "id", id, "size", humanize.Bytes(uint64(n)))
		return nil
	}()
	if err != nil {
		e.failed(res, &TransferError{Op: OpDownload, Path: relPath, RemoteID: id, Err: err})
	}
}

func (e *Engine) failed(res *Result, terr *TransferError) {
	if errors.Is(terr.Err, context.Canceled) {
		slog.Warn("传输被取消", "op", terr.Op, "path", terr.Path)
	} else {
		slog.Error("传输失败", "op", terr.Op, "path", terr.Path, "id", terr.RemoteID, "err", terr.Err)
	}
	res.fail(terr)
}

func displayPath(relPath string) string {
	if relPath == "" {
		return "."
	}
	return relPath
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
