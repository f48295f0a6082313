// Package log 提供统一的日志接口和实现
// 组件通过构造参数注入 Logger，未注入时回落到 Default()
package log

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger 日志接口
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
	WithContext(ctx context.Context) Logger
}

// FieldSession 会话日志字段名
const FieldSession = "session"

// ============================================================================
// logrusLogger
// ============================================================================

type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger 创建基于 logrus 的 Logger
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithContext(ctx context.Context) Logger {
	return &logrusLogger{entry: l.entry.WithContext(ctx)}
}

// ============================================================================
// NopLogger - 静默日志（用于测试）
// ============================================================================

// NopLogger 静默日志
type NopLogger struct{}

func (NopLogger) Debug(args ...interface{})                         {}
func (NopLogger) Info(args ...interface{})                          {}
func (NopLogger) Warn(args ...interface{})                          {}
func (NopLogger) Error(args ...interface{})                         {}
func (NopLogger) Debugf(format string, args ...interface{})         {}
func (NopLogger) Infof(format string, args ...interface{})          {}
func (NopLogger) Warnf(format string, args ...interface{})          {}
func (NopLogger) Errorf(format string, args ...interface{})         {}
func (n NopLogger) WithField(key string, value interface{}) Logger  { return n }
func (n NopLogger) WithFields(fields map[string]interface{}) Logger { return n }
func (n NopLogger) WithError(err error) Logger                      { return n }
func (n NopLogger) WithContext(ctx context.Context) Logger          { return n }

// NewNopLogger 创建静默日志
func NewNopLogger() Logger {
	return NopLogger{}
}

// ============================================================================
// TestLogger - 输出到 testing.T
// ============================================================================

// TestingT 兼容 *testing.T
type TestingT interface {
	Log(args ...interface{})
	Logf(format string, args ...interface{})
}

// TestLogger 测试日志
type TestLogger struct {
	t      TestingT
	fields map[string]interface{}
}

// NewTestLogger 创建测试日志
func NewTestLogger(t TestingT) Logger {
	return &TestLogger{t: t, fields: make(map[string]interface{})}
}

func (l *TestLogger) log(level string, args []interface{}) {
	prefix := []interface{}{"[" + level + "]"}
	if len(l.fields) > 0 {
		prefix = append(prefix, l.fields)
	}
	l.t.Log(append(prefix, args...)...)
}

func (l *TestLogger) logf(level, format string, args []interface{}) {
	if len(l.fields) > 0 {
		l.t.Logf("["+level+"] %v "+format, append([]interface{}{l.fields}, args...)...)
		return
	}
	l.t.Logf("["+level+"] "+format, args...)
}

func (l *TestLogger) Debug(args ...interface{}) { l.log("DEBUG", args) }
func (l *TestLogger) Info(args ...interface{})  { l.log("INFO", args) }
func (l *TestLogger) Warn(args ...interface{})  { l.log("WARN", args) }
func (l *TestLogger) Error(args ...interface{}) { l.log("ERROR", args) }

func (l *TestLogger) Debugf(format string, args ...interface{}) { l.logf("DEBUG", format, args) }
func (l *TestLogger) Infof(format string, args ...interface{})  { l.logf("INFO", format, args) }
func (l *TestLogger) Warnf(format string, args ...interface{})  { l.logf("WARN", format, args) }
func (l *TestLogger) Errorf(format string, args ...interface{}) { l.logf("ERROR", format, args) }

func (l *TestLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *TestLogger) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &TestLogger{t: l.t, fields: merged}
}

func (l *TestLogger) WithError(err error) Logger {
	return l.WithField("error", err)
}

func (l *TestLogger) WithContext(ctx context.Context) Logger {
	return l
}

// ============================================================================
// 默认 Logger
// ============================================================================

var (
	defaultLogger     Logger
	defaultLogrus     *logrus.Logger
	defaultLoggerOnce sync.Once
	defaultLoggerMu   sync.RWMutex
)

func initDefaultLogger() {
	defaultLogrus = logrus.New()
	defaultLogrus.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	defaultLogrus.SetLevel(logrus.InfoLevel)
	defaultLogger = NewLogrusLogger(defaultLogrus)
}

// Default 获取默认 Logger
func Default() Logger {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefault 替换默认 Logger
func SetDefault(l Logger) {
	defaultLoggerOnce.Do(initDefaultLogger)
	defaultLoggerMu.Lock()
	defer defaultLoggerMu.Unlock()
	defaultLogger = l
}

// OrDefault 返回 l，为 nil 时返回默认 Logger
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}

// ForSession 返回带会话字段的 Logger
func ForSession(l Logger, sessionKey string) Logger {
	return OrDefault(l).WithField(FieldSession, sessionKey)
}

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) { Default().Infof(format, args...) }

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) { Default().Warnf(format, args...) }

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }

// WithField 创建带字段的日志
func WithField(key string, value interface{}) Logger { return Default().WithField(key, value) }

// WithError 创建带错误的日志
func WithError(err error) Logger { return Default().WithError(err) }
