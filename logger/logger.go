package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	once         sync.Once
)

type Config struct {
	Level      string   `json:"level" yaml:"level"`     // debug/info/warn/error
	Format     string   `json:"format" yaml:"format"`   // text/json
	Outputs    []string `json:"outputs" yaml:"outputs"` // stdout/stderr/file path
	MaxSizeMB  int      `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int      `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int      `json:"max_age_days" yaml:"max_age_days"`
}

// Init 初始化全局 logger，只有第一次调用生效
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *slog.Logger
		l, err = New(cfg)
		if err == nil {
			globalLogger = l
		}
	})
	return err
}

// New 按配置创建 logger，文件输出通过 lumberjack 滚动
func New(cfg Config) (*slog.Logger, error) {
	// 设置日志级别
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	// 创建多个输出writer
	var writers []io.Writer
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, fmt.Errorf("failed to create log dir: %w", err)
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
			})
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	multiWriter := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(multiWriter, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(multiWriter, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}
