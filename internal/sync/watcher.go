package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rjeczalik/notify"
)

// DefaultDebounce 是最后一次文件事件与触发同步之间的间隔
const DefaultDebounce = 2 * time.Second

// FileWatcher 递归监听本地根目录, 在写入平静 debounce 之后触发一次同步
type FileWatcher struct {
	watchDir string
	ignore   *IgnoreList
	debounce time.Duration
	events   chan notify.EventInfo
}

func NewFileWatcher(watchDir string, ignore *IgnoreList, debounce time.Duration) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		watchDir: watchDir,
		ignore:   ignore,
		debounce: debounce,
		events:   make(chan notify.EventInfo, 64),
	}
}

func (fw *FileWatcher) Start() error {
	slog.Info("file watcher start", "dir", fw.watchDir)
	return notify.Watch(filepath.Join(fw.watchDir, "..."), fw.events, notify.All)
}

func (fw *FileWatcher) Stop() {
	notify.Stop(fw.events)
	slog.Info("file watcher stop")
}

// Run blocks until ctx is done, calling trigger after each burst of events.
func (fw *FileWatcher) Run(ctx context.Context, trigger func()) {
	fw.loop(ctx, fw.events, trigger)
}

func (fw *FileWatcher) loop(ctx context.Context, events <-chan notify.EventInfo, trigger func()) {
	// go1.23 timers: Stop and Reset never leave a stale value in C
	timer := time.NewTimer(fw.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case ev := <-events:
			if fw.ignored(ev.Path()) {
				continue
			}
			slog.Debug("file event", "event", ev.Event(), "path", ev.Path())
			timer.Reset(fw.debounce)
		case <-timer.C:
			trigger()
		}
	}
}

func (fw *FileWatcher) ignored(path string) bool {
	rel, err := filepath.Rel(fw.watchDir, path)
	if err != nil || rel == "." {
		return false
	}
	// the event may be for a removed path, so directory-only patterns are
	// checked as well
	return fw.ignore.ShouldIgnore(rel, false) || fw.ignore.ShouldIgnore(rel, true)
}
