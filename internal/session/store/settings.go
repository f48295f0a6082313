package store

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// DeviceSettingsPurger 依赖设备的配置存储，设备会话被删除时级联清理
type DeviceSettingsPurger interface {
	Name() string
	DeleteAllForDevice(ctx context.Context, deviceID string) error
}

// PurgerFunc 函数适配器
type PurgerFunc struct {
	Label string
	Fn    func(ctx context.Context, deviceID string) error
}

func (p PurgerFunc) Name() string { return p.Label }

func (p PurgerFunc) DeleteAllForDevice(ctx context.Context, deviceID string) error {
	return p.Fn(ctx, deviceID)
}

// RedisDeviceSettings 按设备存放的一组配置：<prefix>settings:<namespace>:<device>
type RedisDeviceSettings struct {
	client    redis.UniversalClient
	prefix    string
	namespace string
}

// NewRedisDeviceSettings 创建设备配置存储
func NewRedisDeviceSettings(client redis.UniversalClient, prefix, namespace string) *RedisDeviceSettings {
	return &RedisDeviceSettings{client: client, prefix: prefix, namespace: namespace}
}

func (s *RedisDeviceSettings) key(deviceID string) string {
	return s.prefix + "settings:" + s.namespace + ":" + deviceID
}

// Name 命名空间
func (s *RedisDeviceSettings) Name() string {
	return s.namespace
}

// Set 写入一项配置
func (s *RedisDeviceSettings) Set(ctx context.Context, deviceID, field, value string) error {
	if err := s.client.HSet(ctx, s.key(deviceID), field, value).Err(); err != nil {
		return storageErr(err, "settings %s: set %s", s.namespace, deviceID)
	}
	return nil
}

// GetAll 读取设备全部配置
func (s *RedisDeviceSettings) GetAll(ctx context.Context, deviceID string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key(deviceID)).Result()
	if err != nil {
		return nil, storageErr(err, "settings %s: get %s", s.namespace, deviceID)
	}
	return values, nil
}

// DeleteAllForDevice 删除设备全部配置
func (s *RedisDeviceSettings) DeleteAllForDevice(ctx context.Context, deviceID string) error {
	if err := s.client.Del(ctx, s.key(deviceID)).Err(); err != nil {
		return storageErr(err, "settings %s: delete %s", s.namespace, deviceID)
	}
	return nil
}
