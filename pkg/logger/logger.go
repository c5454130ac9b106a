package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// ParseLevel 解析日志等级: "debug", "info", "warn", "error". Unknown
// values fall back to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup 初始化全局日志配置
// levelStr: "debug", "info", "warn", "error"
// logPath: 日志文件路径 (如果为空则只输出到控制台)
func Setup(levelStr string, logPath string) error {
	level := ParseLevel(levelStr)
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	var file io.Writer
	if logPath != "" {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return err
		}

		// 打开日志文件 (追加模式), 进程退出时由系统关闭
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		file = f
	}

	slog.SetDefault(slog.New(NewHandler(os.Stdout, file, level, color)))
	return nil
}

// NewHandler 构建控制台 (tint) 与可选文件 (TextHandler) 的组合 handler
func NewHandler(console, file io.Writer, level slog.Level, color bool) slog.Handler {
	consoleHandler := tint.NewHandler(console, &tint.Options{
		Level:      level,
		AddSource:  level == slog.LevelDebug, // 仅在 Debug 模式下显示文件名和行号
		TimeFormat: time.DateTime,
		NoColor:    !color,
	})
	if file == nil {
		return consoleHandler
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return NewMultiHandler(consoleHandler, fileHandler)
}
