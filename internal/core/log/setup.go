package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// 输出目标
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// 日志格式
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config 日志配置
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
	File   string `json:"file" yaml:"file"`
}

var currentLogFile *os.File

// Setup 按配置初始化默认 Logger
func Setup(cfg Config) error {
	defaultLoggerOnce.Do(initDefaultLogger)

	l := logrus.New()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", cfg.Level)
		}
		level = parsed
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case FormatText, "":
		l.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	var out io.Writer = os.Stdout
	switch cfg.Output {
	case OutputStderr:
		out = os.Stderr
	case OutputFile:
		if cfg.File == "" {
			return fmt.Errorf("log output is file but no file path configured")
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defaultLoggerMu.Lock()
		if currentLogFile != nil {
			_ = currentLogFile.Close()
		}
		currentLogFile = f
		defaultLoggerMu.Unlock()
		out = f
	}
	l.SetOutput(out)

	defaultLoggerMu.Lock()
	defaultLogrus = l
	defaultLogger = NewLogrusLogger(l)
	defaultLoggerMu.Unlock()
	return nil
}
