package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	logMu          sync.Mutex
	savedConfig    Config
	currentDay     string
	currentLogFile string
	fileWriter     *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string         // 日志级别: debug, info, warn, error
	Dir        string         // 日志目录（为空则只输出到控制台）
	Prefix     string         // 文件名前缀，默认 stockpilot
	MaxSize    int            // 单文件最大大小（MB）
	MaxBackups int            // 保留的旧日志文件数量
	MaxAge     int            // 保留旧日志文件的天数
	Compress   bool           // 是否压缩旧日志文件
	Location   *time.Location // 交易日按哪个时区切换，nil 为本地时区
}

// FileName 交易日日志文件名：logs/stockpilot_2024-06-03.log
func FileName(dir, prefix, day string) string {
	if prefix == "" {
		prefix = "stockpilot"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", prefix, day))
}

func tradingDay(cfg Config, t time.Time) string {
	if cfg.Location != nil {
		t = t.In(cfg.Location)
	}
	return t.Format("2006-01-02")
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()
	savedConfig = config
	return applyLocked(config, tradingDay(config, time.Now()))
}

func applyLocked(config Config, day string) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
	}

	writers := []io.Writer{os.Stdout}
	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o755); err != nil {
			return err
		}
		path := FileName(config.Dir, config.Prefix, day)
		next := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = next
		currentLogFile = path
		writers = append(writers, next)
	}
	currentDay = day

	// 同时设置全局 logrus，各模块的 logrus.WithField("module", ...) 也写入文件
	multiWriter := io.MultiWriter(writers...)
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(multiWriter)
	logrus.SetOutput(multiWriter)
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)

	Logger = logger
	return nil
}

// RotateIfNeeded 交易日变化时切换到新文件
func RotateIfNeeded(now time.Time) (bool, error) {
	logMu.Lock()
	defer logMu.Unlock()
	if savedConfig.Dir == "" {
		return false, nil
	}
	day := tradingDay(savedConfig, now)
	if day == currentDay {
		return false, nil
	}
	old := currentLogFile
	if err := applyLocked(savedConfig, day); err != nil {
		return false, err
	}
	Logger.Infof("日志文件已切换: %s -> %s", old, currentLogFile)
	return true, nil
}

// StartRotationChecker 后台每分钟检查一次交易日切换，ctx 取消后退出
func StartRotationChecker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := RotateIfNeeded(now); err != nil && Logger != nil {
					Logger.Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Close 关闭文件输出
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
