package ws

import (
	"sync"

	"collabPlatform/backend/internal/cache"
)

// Session：房间里的一个活跃连接。Enqueue 必须是非阻塞、不抛错的，
// 单个连接投递失败不能影响同房间的其他连接。
type Session interface {
	Enqueue(msg OutboundMessage)
}

type Hub struct {
	// 纯内存光标状态，跟房间同生命周期
	presence *cache.PresenceTracker
	// 读写锁保护 rooms；加入/离开/广播都要先拿锁
	mu sync.RWMutex
	// docID -> set of sessions
	rooms map[string]map[Session]struct{}
}

func NewHub(p *cache.PresenceTracker) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[Session]struct{})}
}

func (h *Hub) Presence() *cache.PresenceTracker { return h.presence }

// Join 将连接注册到指定文档的活跃集合
func (h *Hub) Join(docID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		// 房间里存的是连接而不是 userID：
		// 一个用户可开多个标签页/设备，广播要逐连接发
		h.rooms[docID] = make(map[Session]struct{})
	}
	h.rooms[docID][s] = struct{}{}
}

// Leave 将连接从指定文档房间移除。幂等：重复移除是 no-op。
// 最后一个连接离开时丢弃整个房间。
func (h *Hub) Leave(docID string, s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, s)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// Broadcast 把消息发给该文档当前注册的每一个连接。
// best-effort：对单个连接的投递失败（慢消费者、已关闭）不影响其他连接，
// 也不向调用方抛错；尝试完所有连接即返回。
func (h *Hub) Broadcast(docID string, msg OutboundMessage) {
	h.mu.RLock()
	conns := make([]Session, 0, len(h.rooms[docID]))
	for s := range h.rooms[docID] {
		conns = append(conns, s)
	}
	h.mu.RUnlock()
	for _, s := range conns {
		s.Enqueue(msg)
	}
}

// Members 返回该文档当前的活跃连接数（指标/测试用）。
func (h *Hub) Members(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}
