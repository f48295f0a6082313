package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/session/model"
)

// LocalCache 本地缓存层，实时运行时的数据源
type LocalCache interface {
	// Load 不存在时返回 NOT_FOUND
	Load(ctx context.Context, key model.Key) (*model.Record, error)
	// Save 凭据覆盖写（nil 保持原值），km 中给出的条目 upsert，nil 条目删除，其余条目不动
	Save(ctx context.Context, key model.Key, status model.Status, credentials []byte, km model.KeyMaterial) error
	// Put 整条写入，覆盖已有记录（恢复时使用）
	Put(ctx context.Context, rec *model.Record) error
	Delete(ctx context.Context, key model.Key) error
	// DeleteAll 删除设备下所有会话，返回被删除的键
	DeleteAll(ctx context.Context, deviceID string) ([]model.Key, error)
	ListAll(ctx context.Context) ([]*model.Record, error)
	// KeyMaterial 按 category 和 id 读取条目，缺失的 id 不出现在结果中
	KeyMaterial(ctx context.Context, key model.Key, category string, ids []string) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

// Redis 哈希字段
const (
	fieldCredentials = "creds"
	fieldStatus      = "status"
	fieldCreatedAt   = "created_at"
	fieldUpdatedAt   = "updated_at"
	fieldKMPrefix    = "km:"
)

// RedisCache 每个会话一个 hash：<prefix>session:<owner>:<device>
// <prefix>sessions 索引全部会话，<prefix>device:<device> 索引设备下的 owner
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	logger corelog.Logger
	now    func() time.Time
}

// NewRedisCache 创建 Redis 本地缓存
func NewRedisCache(client redis.UniversalClient, prefix string, logger corelog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: corelog.OrDefault(logger),
		now:    time.Now,
	}
}

func (c *RedisCache) sessionKey(key model.Key) string {
	return c.prefix + "session:" + key.String()
}

func (c *RedisCache) indexKey() string {
	return c.prefix + "sessions"
}

func (c *RedisCache) deviceKey(deviceID string) string {
	return c.prefix + "device:" + deviceID
}

func storageErr(err error, format string, args ...interface{}) error {
	return coreerrors.Wrapf(err, coreerrors.CodeStorageError, format, args...)
}

// Load 读取一条记录
func (c *RedisCache) Load(ctx context.Context, key model.Key) (*model.Record, error) {
	fields, err := c.client.HGetAll(ctx, c.sessionKey(key)).Result()
	if err != nil {
		return nil, storageErr(err, "load session %s", key)
	}
	if len(fields) == 0 {
		return nil, coreerrors.Newf(coreerrors.CodeNotFound, "session %s not found", key)
	}
	return c.decodeRecord(key, fields)
}

func (c *RedisCache) decodeRecord(key model.Key, fields map[string]string) (*model.Record, error) {
	rec := &model.Record{
		OwnerID:  key.OwnerID,
		DeviceID: key.DeviceID,
		Status:   model.Status(fields[fieldStatus]),
	}
	if v, ok := fields[fieldCredentials]; ok {
		creds, err := DecodeBlob(v)
		if err != nil {
			return nil, coreerrors.Wrapf(err, coreerrors.CodeInvalidData, "session %s: credentials", key)
		}
		rec.Credentials = creds
	}
	rec.CreatedAt = parseTime(fields[fieldCreatedAt])
	rec.UpdatedAt = parseTime(fields[fieldUpdatedAt])

	encoded := make(map[string]string)
	for field, value := range fields {
		if strings.HasPrefix(field, fieldKMPrefix) {
			encoded[field[len(fieldKMPrefix):]] = value
		}
	}
	km, failed := DecodeKeyMaterial(encoded)
	if len(failed) > 0 {
		c.logger.WithField(corelog.FieldSession, key.String()).
			Warnf("RedisCache: skipped %d undecodable key material entries: %v", len(failed), failed)
	}
	rec.KeyMaterial = km
	return rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Save upsert，单个 MULTI/EXEC 事务
func (c *RedisCache) Save(ctx context.Context, key model.Key, status model.Status, credentials []byte, km model.KeyMaterial) error {
	set := map[string]interface{}{
		fieldStatus:    string(status),
		fieldUpdatedAt: formatTime(c.now()),
	}
	if credentials != nil {
		set[fieldCredentials] = EncodeBlob(credentials)
	}
	var del []string
	for category, entries := range km {
		for id, blob := range entries {
			field, err := EntryField(category, id)
			if err != nil {
				return err
			}
			if blob == nil {
				del = append(del, fieldKMPrefix+field)
				continue
			}
			set[fieldKMPrefix+field] = EncodeBlob(blob)
		}
	}

	hkey := c.sessionKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, hkey, fieldCreatedAt, formatTime(c.now()))
		pipe.HSet(ctx, hkey, set)
		if len(del) > 0 {
			pipe.HDel(ctx, hkey, del...)
		}
		pipe.SAdd(ctx, c.indexKey(), key.String())
		pipe.SAdd(ctx, c.deviceKey(key.DeviceID), key.OwnerID)
		return nil
	})
	if err != nil {
		return storageErr(err, "save session %s", key)
	}
	return nil
}

// Put 整条替换
func (c *RedisCache) Put(ctx context.Context, rec *model.Record) error {
	key := rec.Key()
	set := map[string]interface{}{
		fieldStatus:    string(rec.Status),
		fieldCreatedAt: formatTime(rec.CreatedAt),
		fieldUpdatedAt: formatTime(rec.UpdatedAt),
	}
	if rec.Credentials != nil {
		set[fieldCredentials] = EncodeBlob(rec.Credentials)
	}
	encoded, err := EncodeKeyMaterial(rec.KeyMaterial)
	if err != nil {
		return err
	}
	for field, value := range encoded {
		set[fieldKMPrefix+field] = value
	}

	hkey := c.sessionKey(key)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hkey)
		pipe.HSet(ctx, hkey, set)
		pipe.SAdd(ctx, c.indexKey(), key.String())
		pipe.SAdd(ctx, c.deviceKey(key.DeviceID), key.OwnerID)
		return nil
	})
	if err != nil {
		return storageErr(err, "put session %s", key)
	}
	return nil
}

// Delete 删除一条记录，不存在时不报错
func (c *RedisCache) Delete(ctx context.Context, key model.Key) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		c.queueDelete(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return storageErr(err, "delete session %s", key)
	}
	return nil
}

func (c *RedisCache) queueDelete(ctx context.Context, pipe redis.Pipeliner, key model.Key) {
	pipe.Del(ctx, c.sessionKey(key))
	pipe.SRem(ctx, c.indexKey(), key.String())
	pipe.SRem(ctx, c.deviceKey(key.DeviceID), key.OwnerID)
}

// DeleteAll 删除设备下所有会话
func (c *RedisCache) DeleteAll(ctx context.Context, deviceID string) ([]model.Key, error) {
	owners, err := c.client.SMembers(ctx, c.deviceKey(deviceID)).Result()
	if err != nil {
		return nil, storageErr(err, "list device %s", deviceID)
	}
	if len(owners) == 0 {
		return nil, nil
	}

	keys := make([]model.Key, 0, len(owners))
	for _, owner := range owners {
		keys = append(keys, model.NewKey(owner, deviceID))
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			c.queueDelete(ctx, pipe, key)
		}
		pipe.Del(ctx, c.deviceKey(deviceID))
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "delete device %s", deviceID)
	}
	return keys, nil
}

// ListAll 列出所有记录，索引中失效或损坏的项被跳过
func (c *RedisCache) ListAll(ctx context.Context) ([]*model.Record, error) {
	members, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return nil, storageErr(err, "list sessions")
	}

	keys := make([]model.Key, 0, len(members))
	for _, m := range members {
		key, err := model.ParseKey(m)
		if err != nil {
			c.logger.Warnf("RedisCache: invalid index entry %q: %v", m, err)
			continue
		}
		keys = append(keys, key)
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, c.sessionKey(key))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err, "list sessions")
	}

	records := make([]*model.Record, 0, len(keys))
	for i, key := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := c.decodeRecord(key, fields)
		if err != nil {
			c.logger.WithField(corelog.FieldSession, key.String()).Warnf("RedisCache: skip record: %v", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// KeyMaterial 按 id 批量读取条目
func (c *RedisCache) KeyMaterial(ctx context.Context, key model.Key, category string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, 0, len(ids))
	for _, id := range ids {
		field, err := EntryField(category, id)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fieldKMPrefix+field)
	}

	values, err := c.client.HMGet(ctx, c.sessionKey(key), fields...).Result()
	if err != nil {
		return nil, storageErr(err, "read key material %s/%s", key, category)
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		blob, err := DecodeBlob(s)
		if err != nil {
			c.logger.WithField(corelog.FieldSession, key.String()).
				Warnf("RedisCache: undecodable entry %s: %v", fields[i], err)
			continue
		}
		out[ids[i]] = blob
	}
	return out, nil
}

// Clear 清空所有会话数据
func (c *RedisCache) Clear(ctx context.Context) error {
	var keys []string
	for _, pattern := range []string{c.prefix + "session:*", c.prefix + "device:*"} {
		iter := c.client.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return storageErr(err, "scan %s", pattern)
		}
	}
	keys = append(keys, c.indexKey())

	for start := 0; start < len(keys); start += 500 {
		end := min(start+500, len(keys))
		if err := c.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return storageErr(err, "clear local cache")
		}
	}
	return nil
}
