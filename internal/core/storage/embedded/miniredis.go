// Package embedded 提供内嵌 Redis (miniredis)，用于单机模式与测试
package embedded

import (
	"context"
	"fmt"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	corelog "sessionmux-core/internal/core/log"
	redisconn "sessionmux-core/internal/core/storage/redis"
)

// Redis 内嵌 Redis 服务
type Redis struct {
	server *miniredis.Miniredis
	conn   *redisconn.Conn
}

// Start 启动内嵌 Redis 并连接
func Start(parentCtx context.Context, logger corelog.Logger) (*Redis, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("start miniredis failed: %w", err)
	}

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	conn := redisconn.Wrap(parentCtx, client, logger)
	conn.AddCleanHandler(func() error {
		server.Close()
		return nil
	})

	corelog.OrDefault(logger).Infof("Embedded redis: listening on %s", server.Addr())
	return &Redis{server: server, conn: conn}, nil
}

// Conn 返回连接
func (e *Redis) Conn() *redisconn.Conn {
	return e.conn
}

// Client 返回 Redis 客户端
func (e *Redis) Client() *redis.Client {
	return e.conn.Client()
}

// Addr 服务地址
func (e *Redis) Addr() string {
	return e.server.Addr()
}

// FastForward 快进时间（用于测试 TTL）
func (e *Redis) FastForward(d time.Duration) {
	e.server.FastForward(d)
}

// Server 返回底层 miniredis，测试中用于注入错误
func (e *Redis) Server() *miniredis.Miniredis {
	return e.server
}

// Close 关闭客户端与服务
func (e *Redis) Close() error {
	return e.conn.Close()
}
