package ws

import (
	"sync"
	"testing"
	"time"

	"collabPlatform/backend/internal/cache"
)

// fakeSession：只记录收到的消息，Enqueue 永不阻塞
type fakeSession struct {
	mu   sync.Mutex
	msgs []OutboundMessage
}

func (f *fakeSession) Enqueue(msg OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func testMessage(typ string) ServerMessage {
	return ServerMessage{Type: typ, Timestamp: time.Now()}
}

func TestHub_BroadcastReachesAllRoomMembers(t *testing.T) {
	h := NewHub(cache.NewPresenceTracker())
	a, b, c := &fakeSession{}, &fakeSession{}, &fakeSession{}
	h.Join("doc-1", a)
	h.Join("doc-1", b)
	h.Join("doc-2", c)

	h.Broadcast("doc-1", testMessage("document_change"))

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("doc-1 members got %d/%d messages, want 1/1", a.count(), b.count())
	}
	// 别的房间不能收到
	if c.count() != 0 {
		t.Fatalf("doc-2 member got %d messages, want 0", c.count())
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub(cache.NewPresenceTracker())
	a, b, c := &fakeSession{}, &fakeSession{}, &fakeSession{}
	h.Join("doc-1", a)
	h.Join("doc-1", b)
	h.Join("doc-1", c)

	h.Leave("doc-1", b)
	h.Broadcast("doc-1", testMessage("document_change"))

	if a.count() != 1 || c.count() != 1 {
		t.Fatalf("remaining members got %d/%d messages, want 1/1", a.count(), c.count())
	}
	if b.count() != 0 {
		t.Fatalf("left member got %d messages, want 0", b.count())
	}
	if got := h.Members("doc-1"); got != 2 {
		t.Fatalf("Members() = %d, want 2", got)
	}
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h := NewHub(cache.NewPresenceTracker())
	a := &fakeSession{}
	h.Join("doc-1", a)

	h.Leave("doc-1", a)
	// 重复离开和离开未知房间都是 no-op
	h.Leave("doc-1", a)
	h.Leave("doc-x", a)

	if got := h.Members("doc-1"); got != 0 {
		t.Fatalf("Members() = %d, want 0", got)
	}
}

func TestHub_BroadcastToEmptyRoomIsNoop(t *testing.T) {
	h := NewHub(cache.NewPresenceTracker())
	// 没有成员的房间广播不 panic、不报错
	h.Broadcast("nobody", testMessage("user_joined"))
}
