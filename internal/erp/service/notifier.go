package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 事件
const (
	EventOrderApproved     = "order.approved"
	EventOrderCompleted    = "order.completed"
	EventOrderCancelled    = "order.cancelled"
	EventProductionLogged  = "production.logged"
	EventPlanStatusChanged = "plan.status_changed"
	EventPlanCompleted     = "plan.completed"
	EventConsistencyAlert  = "alert.consistency_violation"
)

// Notifier 通知出口，只负责写出事件，不负责投递到客户端
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]interface{}) error
}

// NopNotifier 未配置Redis时使用
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	return nil
}

// RedisNotifier 通过Redis PUBLISH发布事件
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "erp:events"
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

type eventMessage struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
	At      time.Time              `json:"at"`
}

func (n *RedisNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	data, err := json.Marshal(eventMessage{Event: event, Payload: payload, At: time.Now()})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}
