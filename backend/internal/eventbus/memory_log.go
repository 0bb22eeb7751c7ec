package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryLog：进程内的 Log 实现，用于测试和单机开发。
// 语义对齐 Redis Streams：位置形如 "<seq>-0"，组游标、pending 集合都在内存里。
type MemoryLog struct {
	mu     sync.Mutex
	topics map[string]*memoryTopic
	// append 时 close 并替换，实现阻塞读的唤醒（广播给所有等待者）
	notify chan struct{}
}

type memoryTopic struct {
	entries []Entry
	lastSeq uint64
	groups  map[string]*memoryGroup
}

type memoryGroup struct {
	// 下一条待投递条目的下标；组内已认领（pending）的条目不会再投递给别人
	nextIdx int
	pending map[string]string // position -> consumer
	acked   int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		topics: make(map[string]*memoryTopic),
		notify: make(chan struct{}),
	}
}

func (m *MemoryLog) topic(name string) *memoryTopic {
	t := m.topics[name]
	if t == nil {
		t = &memoryTopic{groups: make(map[string]*memoryGroup)}
		m.topics[name] = t
	}
	return t
}

func parseSeq(pos string) uint64 {
	if pos == "" || pos == "0" || pos == "-" {
		return 0
	}
	s, _, _ := strings.Cut(pos, "-")
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func (m *MemoryLog) Append(ctx context.Context, topic string, evt Event) (string, error) {
	m.mu.Lock()
	t := m.topic(topic)
	t.lastSeq++
	pos := fmt.Sprintf("%d-0", t.lastSeq)
	t.entries = append(t.entries, Entry{Position: pos, Event: evt})
	// 唤醒所有阻塞中的 GroupRead
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()
	return pos, nil
}

func (m *MemoryLog) ReadRange(ctx context.Context, topic, from string, count int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.topic(topic)
	after := parseSeq(from)
	var out []Entry
	for _, e := range t.entries {
		if parseSeq(e.Position) <= after {
			continue
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (m *MemoryLog) GroupCreate(ctx context.Context, topic, group, start string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.topic(topic)
	if _, ok := t.groups[group]; ok {
		// 组已存在：幂等 no-op
		return nil
	}
	g := &memoryGroup{pending: make(map[string]string)}
	if start == StartEnd {
		g.nextIdx = len(t.entries)
	}
	t.groups[group] = g
	return nil
}

func (m *MemoryLog) GroupRead(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	deadline := time.Now().Add(block)
	for {
		m.mu.Lock()
		t := m.topic(topic)
		g, ok := t.groups[group]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("consumer group %q does not exist on topic %q", group, topic)
		}
		var out []Entry
		for g.nextIdx < len(t.entries) {
			e := t.entries[g.nextIdx]
			g.nextIdx++
			g.pending[e.Position] = consumer
			out = append(out, e)
			if count > 0 && int64(len(out)) >= count {
				break
			}
		}
		notify := m.notify
		m.mu.Unlock()

		if len(out) > 0 || block <= 0 {
			return out, nil
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remain)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (m *MemoryLog) Ack(ctx context.Context, topic, group, position string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.topic(topic)
	g, ok := t.groups[group]
	if !ok {
		return fmt.Errorf("consumer group %q does not exist on topic %q", group, topic)
	}
	if _, claimed := g.pending[position]; claimed {
		delete(g.pending, position)
		g.acked++
	}
	return nil
}

func (m *MemoryLog) Len(ctx context.Context, topic string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.topic(topic).entries)), nil
}

func (m *MemoryLog) Pending(ctx context.Context, topic, group string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.topic(topic).groups[group]
	if !ok {
		return 0, nil
	}
	return int64(len(g.pending)), nil
}

// Acked 返回该组累计确认条数（监控/测试用）。
func (m *MemoryLog) Acked(topic, group string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.topic(topic).groups[group]
	if !ok {
		return 0
	}
	return g.acked
}
