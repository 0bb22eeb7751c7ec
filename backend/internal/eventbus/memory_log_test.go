package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func testEvent(i int) Event {
	return Event{
		EventType: "document_changed",
		UserID:    1,
		DocID:     "doc-1",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"seq": fmt.Sprintf("%d", i)},
	}
}

func TestMemoryLog_AppendAssignsIncreasingPositions(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	var prev uint64
	for i := 0; i < 5; i++ {
		pos, err := l.Append(ctx, "topic-a", testEvent(i))
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		seq := parseSeq(pos)
		if seq <= prev {
			t.Fatalf("position %q not increasing after %d", pos, prev)
		}
		prev = seq
	}
}

func TestMemoryLog_ReadRangeExclusiveFrom(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	var positions []string
	for i := 0; i < 3; i++ {
		pos, _ := l.Append(ctx, "topic-a", testEvent(i))
		positions = append(positions, pos)
	}

	all, err := l.ReadRange(ctx, "topic-a", "0", 0)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ReadRange from 0 returned %d entries, want %d", len(all), 3)
	}

	// from 是开区间：传第一条的位置，只剩后两条
	rest, err := l.ReadRange(ctx, "topic-a", positions[0], 0)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("ReadRange after %s returned %d entries, want %d", positions[0], len(rest), 2)
	}
	if rest[0].Position != positions[1] {
		t.Fatalf("first entry = %s, want %s", rest[0].Position, positions[1])
	}
}

func TestMemoryLog_GroupCreateIdempotent(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	if err := l.GroupCreate(ctx, "topic-a", "g1", StartBeginning); err != nil {
		t.Fatalf("GroupCreate() error = %v", err)
	}
	// 重复创建同一个组必须是 no-op，不是错误
	if err := l.GroupCreate(ctx, "topic-a", "g1", StartBeginning); err != nil {
		t.Fatalf("GroupCreate() second call error = %v", err)
	}
}

func TestMemoryLog_GroupReadClaimsEntries(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	_ = l.GroupCreate(ctx, "topic-a", "g1", StartBeginning)
	pos, _ := l.Append(ctx, "topic-a", testEvent(0))

	got, err := l.GroupRead(ctx, "topic-a", "g1", "c1", 10, 0)
	if err != nil {
		t.Fatalf("GroupRead() error = %v", err)
	}
	if len(got) != 1 || got[0].Position != pos {
		t.Fatalf("GroupRead() = %v, want single entry at %s", got, pos)
	}

	// 同组第二个 consumer 不能再读到已被 c1 认领的条目
	again, err := l.GroupRead(ctx, "topic-a", "g1", "c2", 10, 0)
	if err != nil {
		t.Fatalf("GroupRead() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("claimed entry redelivered to another consumer: %v", again)
	}

	pending, _ := l.Pending(ctx, "topic-a", "g1")
	if pending != 1 {
		t.Fatalf("Pending() = %d, want %d", pending, 1)
	}

	if err := l.Ack(ctx, "topic-a", "g1", pos); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	pending, _ = l.Pending(ctx, "topic-a", "g1")
	if pending != 0 {
		t.Fatalf("Pending() after ack = %d, want %d", pending, 0)
	}
}

func TestMemoryLog_FreshGroupReadsInLogOrder(t *testing.T) {
	// 同一主题顺序发布 5 个事件，新消费组按日志顺序原样读回
	l := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "topic-a", testEvent(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	_ = l.GroupCreate(ctx, "topic-a", "fresh", StartBeginning)
	got, err := l.GroupRead(ctx, "topic-a", "fresh", "c1", 10, 0)
	if err != nil {
		t.Fatalf("GroupRead() error = %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("GroupRead() returned %d entries, want %d", len(got), 5)
	}
	for i, e := range got {
		if e.Event.Payload["seq"] != fmt.Sprintf("%d", i) {
			t.Fatalf("entry %d out of order: payload = %v", i, e.Event.Payload)
		}
	}
}

func TestMemoryLog_GroupCreateAtEndSkipsHistory(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()

	_, _ = l.Append(ctx, "topic-a", testEvent(0))
	_ = l.GroupCreate(ctx, "topic-a", "tail", StartEnd)

	got, _ := l.GroupRead(ctx, "topic-a", "tail", "c1", 10, 0)
	if len(got) != 0 {
		t.Fatalf("group created at $ read %d historical entries, want 0", len(got))
	}
}

func TestMemoryLog_BlockingReadWakesOnAppend(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.GroupCreate(ctx, "topic-a", "g1", StartBeginning)

	done := make(chan []Entry, 1)
	go func() {
		got, _ := l.GroupRead(ctx, "topic-a", "g1", "c1", 10, 2*time.Second)
		done <- got
	}()

	time.Sleep(50 * time.Millisecond)
	_, _ = l.Append(ctx, "topic-a", testEvent(0))

	select {
	case got := <-done:
		if len(got) != 1 {
			t.Fatalf("blocking GroupRead() returned %d entries, want 1", len(got))
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("blocking GroupRead() did not wake on append")
	}
}
