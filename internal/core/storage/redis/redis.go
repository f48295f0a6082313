// Package redis Redis 连接封装（本地缓存层）
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sessionmux-core/internal/core/dispose"
	corelog "sessionmux-core/internal/core/log"
)

// Client 是 Redis 客户端类型别名
type Client = redis.Client

// ErrNil 是 Redis nil 错误的引用
var ErrNil = redis.Nil

// Config Redis配置
type Config struct {
	Addr        string        `json:"addr" yaml:"addr"`                 // Redis地址，如 "localhost:6379"
	Password    string        `json:"password" yaml:"password"`         // Redis密码
	DB          int           `json:"db" yaml:"db"`                     // 数据库编号
	PoolSize    int           `json:"pool_size" yaml:"pool_size"`       // 连接池大小
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"` // 建连超时
}

// Conn Redis 连接
type Conn struct {
	dispose.Dispose
	client *redis.Client
	logger corelog.Logger
}

// Connect 连接 Redis 并 Ping
func Connect(parentCtx context.Context, config *Config, logger corelog.Logger) (*Conn, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if config.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(parentCtx, config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	conn := Wrap(parentCtx, client, logger)
	conn.logger.Infof("Redis: connected to %s, DB: %d", config.Addr, config.DB)
	return conn, nil
}

// Wrap 包装已有客户端，Close 时关闭该客户端
func Wrap(parentCtx context.Context, client *redis.Client, logger corelog.Logger) *Conn {
	conn := &Conn{
		client: client,
		logger: corelog.OrDefault(logger),
	}
	conn.SetCtx(parentCtx, "redis", conn.onClose)
	return conn
}

func (c *Conn) onClose() error {
	c.logger.Debugf("Redis: closing client")
	return c.client.Close()
}

// Client 返回底层客户端
func (c *Conn) Client() *redis.Client {
	return c.client
}

// Close 关闭连接
func (c *Conn) Close() error {
	return c.Dispose.Close().Err()
}
