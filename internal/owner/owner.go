// Package owner 会话所有者档案：判断某个 owner 身份是否第一次出现
package owner

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/storage/postgres"
)

// Directory owner 档案目录
type Directory interface {
	// Observe 记录一次 owner 身份出现；第一次出现时 firstSeen 为 true
	Observe(ctx context.Context, ownerID, identity string) (firstSeen bool, err error)
}

// Profile owner 档案
type Profile struct {
	OwnerID   string
	Identity  string
	FirstSeen time.Time
}

// Memory 单机模式的内存目录
type Memory struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

// NewMemory 创建内存目录
func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]Profile)}
}

// Observe 实现 Directory
func (m *Memory) Observe(_ context.Context, ownerID, identity string) (bool, error) {
	if ownerID == "" {
		return false, coreerrors.New(coreerrors.CodeInvalidParam, "owner id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[ownerID]; ok {
		return false, nil
	}
	m.profiles[ownerID] = Profile{OwnerID: ownerID, Identity: identity, FirstSeen: time.Now()}
	return true, nil
}

// OwnerProfilesSchema owner_profiles 表
var OwnerProfilesSchema = []string{
	`CREATE TABLE IF NOT EXISTS owner_profiles (
		owner_id   TEXT PRIMARY KEY,
		identity   TEXT NOT NULL DEFAULT '',
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Postgres 基于 owner_profiles 表，已知 owner 缓存在 LRU 中
type Postgres struct {
	db     *postgres.DB
	known  *lru.Cache[string, struct{}]
	logger corelog.Logger
}

// NewPostgres 创建目录，cacheSize 为已知 owner 缓存容量
func NewPostgres(db *postgres.DB, cacheSize int, logger corelog.Logger) (*Postgres, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	known, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "owner cache")
	}
	return &Postgres{db: db, known: known, logger: corelog.OrDefault(logger)}, nil
}

// Migrate 建表
func (p *Postgres) Migrate(ctx context.Context) error {
	if err := p.db.Migrate(ctx, OwnerProfilesSchema...); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeRemoteError, "migrate owner_profiles")
	}
	return nil
}

// Observe 实现 Directory
func (p *Postgres) Observe(ctx context.Context, ownerID, identity string) (bool, error) {
	if ownerID == "" {
		return false, coreerrors.New(coreerrors.CodeInvalidParam, "owner id is required")
	}
	if p.known.Contains(ownerID) {
		return false, nil
	}
	tag, err := p.db.Exec(ctx,
		`INSERT INTO owner_profiles (owner_id, identity) VALUES ($1, $2) ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, identity)
	if err != nil {
		return false, coreerrors.Wrapf(err, coreerrors.CodeRemoteError, "observe owner %s", ownerID)
	}
	p.known.Add(ownerID, struct{}{})
	firstSeen := tag.RowsAffected() == 1
	if firstSeen {
		p.logger.Infof("OwnerDirectory: new owner profile %s", ownerID)
	}
	return firstSeen, nil
}
