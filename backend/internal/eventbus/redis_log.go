package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisLog：基于 Redis Streams 的 Log 实现（生产路径）。
// 条目的值只有一个 "event" 字段，内容是事件的 JSON 编码；
// 位置即 Redis 分配的 stream ID，同一主题内严格递增。
type RedisLog struct {
	rdb redis.UniversalClient
}

func NewRedisLog(rdb redis.UniversalClient) *RedisLog {
	return &RedisLog{rdb: rdb}
}

func (l *RedisLog) Append(ctx context.Context, topic string, evt Event) (string, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"event": b},
	}).Result()
}

func (l *RedisLog) ReadRange(ctx context.Context, topic, from string, count int64) ([]Entry, error) {
	start := "-"
	if from != "" && from != "0" && from != "-" {
		// "(" 前缀表示开区间：只读 from 之后的条目
		start = "(" + from
	}
	msgs, err := l.rdb.XRangeN(ctx, topic, start, "+", count).Result()
	if err != nil {
		return nil, err
	}
	return decodeMessages(msgs)
}

func (l *RedisLog) GroupCreate(ctx context.Context, topic, group, start string) error {
	err := l.rdb.XGroupCreateMkStream(ctx, topic, group, start).Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		// 组已存在：幂等 no-op
		return nil
	}
	return err
}

func (l *RedisLog) GroupRead(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := l.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// 阻塞超时，没有新条目
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, s := range streams {
		entries, err := decodeMessages(s.Messages)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (l *RedisLog) Ack(ctx context.Context, topic, group, position string) error {
	return l.rdb.XAck(ctx, topic, group, position).Err()
}

func (l *RedisLog) Len(ctx context.Context, topic string) (int64, error) {
	return l.rdb.XLen(ctx, topic).Result()
}

func (l *RedisLog) Pending(ctx context.Context, topic, group string) (int64, error) {
	p, err := l.rdb.XPending(ctx, topic, group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return p.Count, nil
}

func decodeMessages(msgs []redis.XMessage) ([]Entry, error) {
	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["event"].(string)
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			return nil, err
		}
		out = append(out, Entry{Position: msg.ID, Event: evt})
	}
	return out, nil
}
