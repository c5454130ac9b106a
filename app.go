package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"drivesync/internal/config"
	"drivesync/internal/crypto"
	"drivesync/internal/database"
	"drivesync/internal/fs"
	"drivesync/internal/fs/gdrive"
	"drivesync/internal/fs/local"
	"drivesync/internal/fs/s3fs"
	syncer "drivesync/internal/sync"

	"github.com/gofrs/flock"
)

// ErrLocked 另一个 drivesync 进程持有锁文件
var ErrLocked = errors.New("another drivesync process holds the lock")

// app 持有一次运行所需的全部组件
type app struct {
	local  *local.Adapter
	remote fs.RemoteStore
	ignore *syncer.IgnoreList
	engine *syncer.Engine

	closeRemote func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	remote, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		return nil, err
	}

	localFS := local.NewAdapter(cfg.Sync.LocalDir)
	ignore, err := syncer.NewIgnoreList(localFS.Root(), cfg.Sync.IgnoreFile)
	if err != nil {
		closeRemote()
		return nil, fmt.Errorf("加载忽略列表失败: %w", err)
	}

	engine := syncer.NewEngine(&syncer.EngineOptions{
		LocalFS:      localFS,
		RemoteFS:     remote,
		Ignore:       ignore,
		MaxWorkers:   cfg.Sync.MaxConcurrent,
		RootFolder:   cfg.Sync.RootFolder,
		RootFolderID: cfg.Sync.RootFolderID,
		ParentID:     cfg.Remote.ParentID,
	})

	return &app{
		local:       localFS,
		remote:      remote,
		ignore:      ignore,
		engine:      engine,
		closeRemote: closeRemote,
	}, nil
}

func (a *app) Close() error {
	return a.closeRemote()
}

// openRemote 按 remote.backend 创建远端存储, 启用加密时再包一层
func openRemote(ctx context.Context, cfg *config.Config) (fs.RemoteStore, func() error, error) {
	var (
		store   fs.RemoteStore
		closeFn = func() error { return nil }
	)

	switch cfg.Remote.Backend {
	case config.BackendDrive:
		client, err := gdrive.NewClient(ctx, &gdrive.Options{
			ClientID:        cfg.Drive.ClientID,
			ClientSecret:    cfg.Drive.ClientSecret,
			AccessToken:     cfg.Drive.AccessToken,
			RefreshToken:    cfg.Drive.RefreshToken,
			CredentialsFile: cfg.Drive.CredentialsFile,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 Google Drive 客户端失败: %w", err)
		}
		store = client

	case config.BackendS3:
		s, err := s3fs.New(ctx, &s3fs.Options{
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("初始化 S3 客户端失败: %w", err)
		}
		// 默认的 "root" 换成实际前缀, 与 ls 输出的 id 保持一致
		if cfg.Remote.ParentID == s3fs.RootAlias && s.RootID() != "" {
			cfg.Remote.ParentID = s.RootID()
		}
		store = s

	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Bolt.Path), 0o755); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(cfg.Bolt.Path)
		if err != nil {
			slog.Error("无法打开数据库", "err", err, "path", cfg.Bolt.Path)
			return nil, nil, err
		}
		store, closeFn = db, db.Close

	default:
		return nil, nil, fmt.Errorf("未知的远端后端: %s", cfg.Remote.Backend)
	}

	if cfg.Crypto.Enable {
		store = crypto.NewStore(store, crypto.DeriveKey(cfg.Crypto.Password), cfg.Crypto.EncryptFilenames)
		slog.Info("加密模式: 已启用 (AES-256)", "encrypt_filenames", cfg.Crypto.EncryptFilenames)
	} else {
		slog.Info("加密模式: 未启用 (文件将原样上传)")
	}

	slog.Debug("远端存储已就绪", "store", store.Name())
	return store, closeFn, nil
}

// acquireLock 防止两个进程同时同步同一目录
func acquireLock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建锁文件目录失败: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("获取锁失败: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return fl, nil
}

func releaseLock(fl *flock.Flock) {
	// 只删除自己持有的锁文件
	if !fl.Locked() {
		return
	}
	if err := fl.Unlock(); err != nil {
		slog.Warn("释放锁失败", "path", fl.Path(), "err", err)
		return
	}
	os.Remove(fl.Path())
}
