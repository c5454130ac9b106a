package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"drivesync/internal/config"
	syncer "drivesync/internal/sync"
	"drivesync/pkg/logger"

	"github.com/spf13/cobra"
)

// globalFlags 所有子命令共享的参数, 覆盖配置文件中的对应项
type globalFlags struct {
	configPath string
	logLevel   string
	workers    int
}

func (f *globalFlags) load() (*config.Config, error) {
	// 1. 加载配置
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("配置加载失败: %w", err)
	}
	if f.logLevel != "" {
		cfg.System.LogLevel = f.logLevel
	}
	if f.workers > 0 {
		cfg.Sync.MaxConcurrent = f.workers
	}

	// 2. 初始化日志系统
	if err := logger.Setup(cfg.System.LogLevel, cfg.System.LogFile); err != nil {
		return nil, fmt.Errorf("日志初始化失败: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:          "drivesync",
		Short:        "双向同步本地目录与远端存储 (Google Drive, S3, bolt)",
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "配置文件路径")
	pf.StringVar(&flags.logLevel, "log-level", "", "日志等级, 覆盖 system.log_level")
	pf.IntVarP(&flags.workers, "workers", "w", 0, "并发文件夹数, 覆盖 sync.max_concurrent")

	root.AddCommand(
		newSyncCmd(&flags),
		newResolveCmd(&flags),
		newLsCmd(&flags),
		newRmCmd(&flags),
		newVersionCmd(),
	)
	return root
}

// runDaemon 周期性同步, 直到收到退出信号
func runDaemon(ctx context.Context, cfg *config.Config) error {
	slog.Info("drivesync 启动中",
		"version", Version,
		"log_level", cfg.System.LogLevel,
		"log_file", cfg.System.LogFile,
	)
	slog.Info("配置已加载",
		"local_dir", cfg.Sync.LocalDir,
		"root_folder", cfg.Sync.RootFolder,
		"backend", cfg.Remote.Backend,
		"interval", cfg.Sync.Interval,
		"watch", cfg.Sync.Watch,
	)

	lock, err := acquireLock(cfg.System.LockFile)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	runSync := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			slog.Info(">>> 开始同步")
			res, err := a.engine.Run(ctx)
			switch {
			case errors.Is(err, syncer.ErrSyncAlreadyRunning):
				slog.Info("上一轮同步尚未结束，跳过本次触发")
				return
			case err != nil && ctx.Err() != nil:
				// 区分是外部取消还是真正的同步错误
				slog.Warn("同步被中断")
			case err != nil:
				slog.Error("同步错误", "error", err)
			case res.Err() != nil:
				slog.Warn("部分传输失败, 下一轮重试", "failures", len(res.Failures))
			}
			slog.Info("<<< 同步结束")
		}()
	}

	if cfg.Sync.Watch {
		watcher := syncer.NewFileWatcher(a.local.Root(), a.ignore, syncer.DefaultDebounce)
		if err := a.local.MkdirAll(""); err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("启动文件监听失败: %w", err)
		}
		defer watcher.Stop()

		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Run(ctx, runSync)
		}()
	}

	// 立即运行一次
	runSync()

	// 主循环
	ticker := time.NewTicker(cfg.Sync.IntervalDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runSync()
		case <-ctx.Done():
			slog.Info("接收到退出信号，等待进行中的任务...")
			wg.Wait()
			slog.Info("所有任务已完成，程序退出")
			return nil
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
