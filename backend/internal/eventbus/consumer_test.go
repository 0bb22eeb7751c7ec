package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestConsumer(l Log, topic string, h Handler) *Consumer {
	c := NewConsumer(l, topic, "g1", "c1", h, ConsumerOptions{
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
		ErrSleep:    time.Millisecond,
	})
	// 测试不真等退避
	c.sleep = func(ctx context.Context, d time.Duration) {}
	return c
}

func TestConsumer_SuccessAcksImmediately(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.GroupCreate(ctx, TopicDocument, "g1", StartBeginning)
	pos, _ := l.Append(ctx, TopicDocument, testEvent(0))

	calls := 0
	c := newTestConsumer(l, TopicDocument, func(ctx context.Context, evt Event) error {
		calls++
		return nil
	})

	entries, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	c.processEntry(ctx, entries[0])

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	pending, _ := l.Pending(ctx, TopicDocument, "g1")
	if pending != 0 {
		t.Fatalf("Pending() = %d, want 0 after ack of %s", pending, pos)
	}
	state, _ := c.State()
	if state != StateAcked {
		t.Fatalf("state = %s, want ACKED", state)
	}
}

func TestConsumer_ExhaustedRetriesDeadLetterOnce(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.GroupCreate(ctx, TopicDocument, "g1", StartBeginning)
	pos, _ := l.Append(ctx, TopicDocument, testEvent(0))

	calls := 0
	c := newTestConsumer(l, TopicDocument, func(ctx context.Context, evt Event) error {
		calls++
		return errors.New("boom")
	})

	entries, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	c.processEntry(ctx, entries[0])

	// handler 总共执行 maxRetries 次，不多不少
	if calls != 5 {
		t.Fatalf("handler called %d times, want 5", calls)
	}

	// 恰好一条死信，携带原位置和来源主题
	dead, err := l.ReadRange(ctx, TopicDeadLetter, "0", 0)
	if err != nil {
		t.Fatalf("ReadRange() error = %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letter topic has %d entries, want 1", len(dead))
	}
	if dead[0].Event.Payload["originalPosition"] != pos {
		t.Fatalf("originalPosition = %v, want %s", dead[0].Event.Payload["originalPosition"], pos)
	}
	if dead[0].Event.Payload["sourceTopic"] != TopicDocument {
		t.Fatalf("sourceTopic = %v, want %s", dead[0].Event.Payload["sourceTopic"], TopicDocument)
	}

	// 原条目恰好被确认一次，源主题不再投递
	if acked := l.Acked(TopicDocument, "g1"); acked != 1 {
		t.Fatalf("acked = %d, want 1", acked)
	}
	again, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	if len(again) != 0 {
		t.Fatalf("dead-lettered entry redelivered from source topic: %v", again)
	}

	state, _ := c.State()
	if state != StateDeadLettered {
		t.Fatalf("state = %s, want DEAD_LETTERED", state)
	}
}

// 死信主题本身写失败的 Log：模拟死信流不可用
type deadLetterFailLog struct {
	*MemoryLog
}

func (l *deadLetterFailLog) Append(ctx context.Context, topic string, evt Event) (string, error) {
	if topic == TopicDeadLetter {
		return "", errors.New("dead letter stream unavailable")
	}
	return l.MemoryLog.Append(ctx, topic, evt)
}

func TestConsumer_DeadLetterAppendFailureKeepsEntryPending(t *testing.T) {
	l := &deadLetterFailLog{MemoryLog: NewMemoryLog()}
	ctx := context.Background()
	_ = l.GroupCreate(ctx, TopicDocument, "g1", StartBeginning)
	_, _ = l.Append(ctx, TopicDocument, testEvent(0))

	c := newTestConsumer(l, TopicDocument, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})

	entries, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	c.processEntry(ctx, entries[0])

	// 死信写不进去就不能 ack：事件不能从两个主题同时消失
	dead, _ := l.MemoryLog.Len(ctx, TopicDeadLetter)
	if dead != 0 {
		t.Fatalf("dead letter topic has %d entries, want 0", dead)
	}
	pending, _ := l.Pending(ctx, TopicDocument, "g1")
	if pending != 1 {
		t.Fatalf("Pending() = %d, want 1 (entry must stay claimed)", pending)
	}
	if acked := l.Acked(TopicDocument, "g1"); acked != 0 {
		t.Fatalf("acked = %d, want 0", acked)
	}
	state, _ := c.State()
	if state == StateDeadLettered {
		t.Fatalf("state = %s, entry was not dead lettered", state)
	}
}

func TestConsumer_RecoversAfterTransientFailure(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.GroupCreate(ctx, TopicDocument, "g1", StartBeginning)
	_, _ = l.Append(ctx, TopicDocument, testEvent(0))

	calls := 0
	c := newTestConsumer(l, TopicDocument, func(ctx context.Context, evt Event) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	entries, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	c.processEntry(ctx, entries[0])

	if calls != 3 {
		t.Fatalf("handler called %d times, want 3", calls)
	}
	dead, _ := l.Len(ctx, TopicDeadLetter)
	if dead != 0 {
		t.Fatalf("dead letter topic has %d entries, want 0", dead)
	}
	pending, _ := l.Pending(ctx, TopicDocument, "g1")
	if pending != 0 {
		t.Fatalf("Pending() = %d, want 0", pending)
	}
}

func TestConsumer_PanicIsCaughtNotPropagated(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	_ = l.GroupCreate(ctx, TopicDocument, "g1", StartBeginning)
	_, _ = l.Append(ctx, TopicDocument, testEvent(0))

	c := newTestConsumer(l, TopicDocument, func(ctx context.Context, evt Event) error {
		panic("handler bug")
	})

	entries, _ := l.GroupRead(ctx, TopicDocument, "g1", "c1", 10, 0)
	// panic 也走重试/死信，不能炸到调用方
	c.processEntry(ctx, entries[0])

	dead, _ := l.Len(ctx, TopicDeadLetter)
	if dead != 1 {
		t.Fatalf("dead letter topic has %d entries, want 1", dead)
	}
}

func TestConsumer_RunConsumesAndStopsOnCancel(t *testing.T) {
	l := NewMemoryLog()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Event, 1)
	c := NewConsumer(l, TopicUser, "g1", "c1", func(ctx context.Context, evt Event) error {
		handled <- evt
		return nil
	}, ConsumerOptions{FetchBlock: 100 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	_, _ = l.Append(context.Background(), TopicUser, Event{EventType: "user_registered", UserID: 9, Timestamp: time.Now()})

	select {
	case evt := <-handled:
		if evt.UserID != 9 {
			t.Fatalf("handled UserID = %d, want 9", evt.UserID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("consumer did not handle appended event")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("consumer did not stop on cancel")
	}
}
