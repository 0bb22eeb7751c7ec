package cache

import (
	"encoding/json"
	"sync"
)

// PresenceTracker：docID -> (userID -> 光标坐标) 的纯内存映射。
// last-write-wins，无条件覆盖，用户之间没有顺序保证。
// 不落盘，进程重启即丢：光标位置几秒内就会被下一次移动覆盖，
// 没有持久化价值。
type PresenceTracker struct {
	mu      sync.RWMutex
	cursors map[string]map[uint64]json.RawMessage
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{cursors: make(map[string]map[uint64]json.RawMessage)}
}

// Update 无条件覆盖该用户在该文档下的光标坐标（不做版本检查）。
func (p *PresenceTracker) Update(docID string, userID uint64, coords json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := p.cursors[docID]
	if doc == nil {
		doc = make(map[uint64]json.RawMessage)
		p.cursors[docID] = doc
	}
	doc[userID] = coords
}

// Get 返回该文档下所有用户光标的副本。
func (p *PresenceTracker) Get(docID string) map[uint64]json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc := p.cursors[docID]
	if doc == nil {
		return nil
	}
	out := make(map[uint64]json.RawMessage, len(doc))
	for uid, c := range doc {
		out[uid] = c
	}
	return out
}

// Remove 清理断开连接用户的光标；文档下没有光标了就把整个条目丢掉。
// 幂等：重复移除是 no-op。
func (p *PresenceTracker) Remove(docID string, userID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := p.cursors[docID]
	if doc == nil {
		return
	}
	delete(doc, userID)
	if len(doc) == 0 {
		delete(p.cursors, docID)
	}
}
