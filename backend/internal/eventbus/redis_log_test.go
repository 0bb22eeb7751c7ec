package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestRedisLog_AppendGroupReadAck(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()
	topic := fmt.Sprintf("test_stream_%d", time.Now().UnixNano())
	defer rdb.Del(ctx, topic)

	l := NewRedisLog(rdb)

	pos1, err := l.Append(ctx, topic, testEvent(0))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	pos2, err := l.Append(ctx, topic, testEvent(1))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if pos2 <= pos1 {
		t.Fatalf("positions not increasing: %s then %s", pos1, pos2)
	}

	if err := l.GroupCreate(ctx, topic, "g1", StartBeginning); err != nil {
		t.Fatalf("GroupCreate() error = %v", err)
	}
	// 幂等
	if err := l.GroupCreate(ctx, topic, "g1", StartBeginning); err != nil {
		t.Fatalf("GroupCreate() second call error = %v", err)
	}

	entries, err := l.GroupRead(ctx, topic, "g1", "c1", 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("GroupRead() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("GroupRead() returned %d entries, want 2", len(entries))
	}
	if entries[0].Event.Payload["seq"] != "0" || entries[1].Event.Payload["seq"] != "1" {
		t.Fatalf("entries out of log order: %v", entries)
	}

	pending, err := l.Pending(ctx, topic, "g1")
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if pending != 2 {
		t.Fatalf("Pending() = %d, want 2", pending)
	}

	if err := l.Ack(ctx, topic, "g1", entries[0].Position); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	pending, _ = l.Pending(ctx, topic, "g1")
	if pending != 1 {
		t.Fatalf("Pending() after ack = %d, want 1", pending)
	}

	// ReadRange 开区间语义
	rest, err := l.ReadRange(ctx, topic, pos1, 10)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if len(rest) != 1 || rest[0].Position != pos2 {
		t.Fatalf("ReadRange after %s = %v, want single entry at %s", pos1, rest, pos2)
	}

	n, _ := l.Len(ctx, topic)
	if n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
}
