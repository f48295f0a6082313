package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	coreerrors "sessionmux-core/internal/core/errors"
	"sessionmux-core/internal/core/storage/postgres"
	"sessionmux-core/internal/session/model"
)

// RemoteRecord 远端存储中的记录
// KeyMaterial 为 {category: {id: "b64:..."}} 形式的 JSON，blob 可能已加密
type RemoteRecord struct {
	InstanceID  string
	OwnerID     string
	DeviceID    string
	Credentials []byte
	KeyMaterial json.RawMessage
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RemoteFilter LoadAll 过滤条件，空字段不过滤
type RemoteFilter struct {
	InstanceID string
}

// RemoteStore 远端持久存储，所有调用均可能独立失败
type RemoteStore interface {
	Save(ctx context.Context, rec *RemoteRecord) error
	// Load 不存在时返回 NOT_FOUND
	Load(ctx context.Context, key model.Key) (*RemoteRecord, error)
	LoadAll(ctx context.Context, filter RemoteFilter) ([]*RemoteRecord, error)
	Delete(ctx context.Context, key model.Key) error
}

// SessionRecordsSchema session_records 表
var SessionRecordsSchema = []string{
	`CREATE TABLE IF NOT EXISTS session_records (
		instance_id  TEXT NOT NULL,
		owner_id     TEXT NOT NULL,
		device_id    TEXT NOT NULL,
		credentials  BYTEA,
		key_material JSONB NOT NULL DEFAULT '{}'::jsonb,
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner_id, device_id)
	)`,
	`CREATE INDEX IF NOT EXISTS session_records_instance_idx ON session_records (instance_id)`,
}

// PostgresRemote 基于 PostgreSQL 的远端存储
type PostgresRemote struct {
	db *postgres.DB
}

// NewPostgresRemote 创建远端存储
func NewPostgresRemote(db *postgres.DB) *PostgresRemote {
	return &PostgresRemote{db: db}
}

// Migrate 建表
func (r *PostgresRemote) Migrate(ctx context.Context) error {
	if err := r.db.Migrate(ctx, SessionRecordsSchema...); err != nil {
		return remoteErr(err, "migrate session_records")
	}
	return nil
}

func remoteErr(err error, format string, args ...interface{}) error {
	return coreerrors.Wrapf(err, coreerrors.CodeRemoteError, format, args...)
}

// Save upsert
func (r *PostgresRemote) Save(ctx context.Context, rec *RemoteRecord) error {
	km := rec.KeyMaterial
	if len(km) == 0 {
		km = json.RawMessage(`{}`)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO session_records
			(instance_id, owner_id, device_id, credentials, key_material, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id, device_id) DO UPDATE SET
			instance_id  = EXCLUDED.instance_id,
			credentials  = EXCLUDED.credentials,
			key_material = EXCLUDED.key_material,
			status       = EXCLUDED.status,
			updated_at   = EXCLUDED.updated_at`,
		rec.InstanceID, rec.OwnerID, rec.DeviceID, rec.Credentials, km, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return remoteErr(err, "save %s:%s", rec.OwnerID, rec.DeviceID)
	}
	return nil
}

const selectRecord = `SELECT instance_id, owner_id, device_id, credentials, key_material, status, created_at, updated_at
	FROM session_records`

func scanRecord(row pgx.Row) (*RemoteRecord, error) {
	var rec RemoteRecord
	var km []byte
	if err := row.Scan(&rec.InstanceID, &rec.OwnerID, &rec.DeviceID, &rec.Credentials, &km,
		&rec.Status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.KeyMaterial = km
	return &rec, nil
}

// Load 读取一条记录
func (r *PostgresRemote) Load(ctx context.Context, key model.Key) (*RemoteRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, selectRecord+` WHERE owner_id = $1 AND device_id = $2`,
		key.OwnerID, key.DeviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, coreerrors.Newf(coreerrors.CodeNotFound, "remote session %s not found", key)
	}
	if err != nil {
		return nil, remoteErr(err, "load %s", key)
	}
	return rec, nil
}

// LoadAll 按过滤条件读取
func (r *PostgresRemote) LoadAll(ctx context.Context, filter RemoteFilter) ([]*RemoteRecord, error) {
	query := selectRecord
	var args []any
	if filter.InstanceID != "" {
		query += ` WHERE instance_id = $1`
		args = append(args, filter.InstanceID)
	}
	query += ` ORDER BY owner_id, device_id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, remoteErr(err, "load all")
	}
	defer rows.Close()

	var out []*RemoteRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, remoteErr(err, "scan session record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr(err, "load all")
	}
	return out, nil
}

// Delete 删除一条记录
func (r *PostgresRemote) Delete(ctx context.Context, key model.Key) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM session_records WHERE owner_id = $1 AND device_id = $2`,
		key.OwnerID, key.DeviceID); err != nil {
		return remoteErr(err, "delete %s", key)
	}
	return nil
}
