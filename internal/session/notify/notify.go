// Package notify 状态变化的旁路推送，供远程观察者订阅
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/core/safe"
)

// Event 推送内容
type Event struct {
	Owner   string    `json:"owner"`
	Device  string    `json:"device"`
	Session string    `json:"session"`
	Status  string    `json:"status"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier 推送接口，失败只影响推送本身
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop 不推送
type Nop struct{}

// Publish 丢弃
func (Nop) Publish(context.Context, Event) error { return nil }

// Redis 通过 PUBLISH <prefix>status:<owner> 推送 JSON
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger corelog.Logger
}

// NewRedis 创建 Redis 推送
func NewRedis(client redis.UniversalClient, prefix string, logger corelog.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, logger: corelog.OrDefault(logger)}
}

// Channel owner 的频道名
func (n *Redis) Channel(owner string) string {
	return n.prefix + "status:" + owner
}

// Publish 推送一条事件
func (n *Redis) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInvalidData, "encode status event")
	}
	if err := n.client.Publish(ctx, n.Channel(ev.Owner), payload).Err(); err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeRemoteError, "publish status for %s", ev.Session)
	}
	return nil
}

// Subscribe 订阅 owner 的状态事件，ctx 结束时关闭通道
func (n *Redis) Subscribe(ctx context.Context, owner string) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, n.Channel(owner))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, coreerrors.Wrapf(err, coreerrors.CodeRemoteError, "subscribe %s", owner)
	}

	out := make(chan Event, 16)
	safe.Go("notify-subscribe-"+owner, func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					n.logger.Warnf("Notify: dropping malformed event on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	})
	return out, nil
}
