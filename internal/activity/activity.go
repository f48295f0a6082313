// Package activity 会话活动记录，调用方不等待写入完成
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/safe"
	"sessionmux-core/internal/core/storage/postgres"
)

// Action 活动类型
type Action string

const (
	ActionConnected        Action = "connected"
	ActionRegistered       Action = "registered"
	ActionRestarted        Action = "restarted"
	ActionDeleted          Action = "deleted"
	ActionRestartExhausted Action = "restart_exhausted"
)

// Entry 一条活动
type Entry struct {
	ID     string
	Owner  string
	Device string
	Action Action
	Detail string
	Time   time.Time
}

// Recorder 活动记录
type Recorder interface {
	Record(e Entry)
}

// Sink 实际写入目标
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Nop 丢弃
type Nop struct{}

// Record 丢弃
func (Nop) Record(Entry) {}

// AsyncRecorder 通过 safe.Pool 异步写入 Sink，队列满时丢弃
type AsyncRecorder struct {
	sink    Sink
	pool    *safe.Pool
	timeout time.Duration
	logger  corelog.Logger
}

// NewAsyncRecorder 创建异步记录器
func NewAsyncRecorder(sink Sink, workers, queueSize int, logger corelog.Logger) *AsyncRecorder {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &AsyncRecorder{
		sink:    sink,
		pool:    safe.NewPool("activity", workers, queueSize),
		timeout: 5 * time.Second,
		logger:  corelog.OrDefault(logger),
	}
}

// Record 不阻塞
func (r *AsyncRecorder) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	ok := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.Write(ctx, e); err != nil {
			r.logger.WithError(err).Warnf("Activity: failed to record %s for %s:%s", e.Action, e.Owner, e.Device)
		}
	})
	if !ok {
		r.logger.Warnf("Activity: queue full or closed, dropped %s for %s:%s", e.Action, e.Owner, e.Device)
	}
}

// Close 等待队列写完
func (r *AsyncRecorder) Close() {
	r.pool.Close()
}

// LogSink 写入日志
type LogSink struct {
	Logger corelog.Logger
}

// Write 实现 Sink
func (s LogSink) Write(_ context.Context, e Entry) error {
	corelog.OrDefault(s.Logger).WithFields(map[string]interface{}{
		"owner":  e.Owner,
		"device": e.Device,
		"action": string(e.Action),
	}).Infof("Activity: %s %s", e.Action, e.Detail)
	return nil
}

// SessionActivitySchema session_activity 表
var SessionActivitySchema = []string{
	`CREATE TABLE IF NOT EXISTS session_activity (
		id         UUID PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		device_id  TEXT NOT NULL,
		action     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_activity_owner_idx ON session_activity (owner_id, created_at)`,
}

// PostgresSink 写入 session_activity
type PostgresSink struct {
	db *postgres.DB
}

// NewPostgresSink 创建 Sink
func NewPostgresSink(db *postgres.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Migrate 建表
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if err := s.db.Migrate(ctx, SessionActivitySchema...); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeRemoteError, "migrate session_activity")
	}
	return nil
}

// Write 实现 Sink
func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO session_activity (id, owner_id, device_id, action, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Owner, e.Device, string(e.Action), e.Detail, e.Time)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeRemoteError, "insert session_activity")
	}
	return nil
}
