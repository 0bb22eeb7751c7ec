package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabPlatform/backend/internal/collab"
	"collabPlatform/backend/internal/eventbus"
)

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	docID    string
	userID   uint64
	username string
	// send 是写循环的唯一入口；Enqueue 满了就丢，绝不阻塞广播方
	send chan OutboundMessage

	closeMu sync.RWMutex
	closed  bool
	leave   sync.Once

	svc *collab.Service
	pub *eventbus.Publisher
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, docID string, userID uint64, username string,
	svc *collab.Service, pub *eventbus.Publisher, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		docID:    docID,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		svc:      svc,
		pub:      pub,
		sem:      sem,
	}
}

// Enqueue 非阻塞入队。连接已关闭或队列满时直接丢弃，
// 单连接的投递失败不能传染给房间里的其他连接。
func (c *Conn) Enqueue(msg OutboundMessage) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// 队列满则丢弃
	}
}

// publishEvent 事件落日志失败只打日志：广播和落日志各自独立尝试，
// 两者之间没有分布式事务（审计主题部分补偿这一点）。
func (c *Conn) publishEvent(ctx context.Context, eventType string, payload map[string]any) {
	evt := eventbus.Event{
		UserID:  c.userID,
		DocID:   c.docID,
		Payload: payload,
	}
	if _, err := c.pub.Publish(ctx, eventType, evt); err != nil {
		log.Printf("publish %s failed (user=%d doc=%s): %v", eventType, c.userID, c.docID, err)
	}
}

// announceJoin：入房广播 + user_joined_session 事件
func (c *Conn) announceJoin(ctx context.Context) {
	c.hub.Broadcast(c.docID, ServerMessage{
		Type:      "user_joined",
		DocID:     c.docID,
		UserID:    c.userID,
		Username:  c.username,
		Timestamp: time.Now().UTC(),
	})
	c.publishEvent(ctx, "user_joined_session", map[string]any{"username": c.username})
}

// announceLeave 幂等：正常断开和异常断开都走这里，只执行一次。
// 用不受取消影响的 ctx：连接的 request context 此刻多半已经取消了。
func (c *Conn) announceLeave(ctx context.Context) {
	c.leave.Do(func() {
		leaveCtx := context.WithoutCancel(ctx)
		c.hub.Leave(c.docID, c)
		c.hub.Presence().Remove(c.docID, c.userID)
		c.hub.Broadcast(c.docID, ServerMessage{
			Type:      "user_left",
			DocID:     c.docID,
			UserID:    c.userID,
			Username:  c.username,
			Timestamp: time.Now().UTC(),
		})
		c.publishEvent(leaveCtx, "user_left_session", map[string]any{"username": c.username})
	})
}

func (c *Conn) handleChange(ctx context.Context, op collab.Operation) {
	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		// 提交方自己的修改在其本地已经生效，这里不回错误消息
		log.Printf("submit throttled (user=%d doc=%s): %v", c.userID, c.docID, err)
		return
	}
	defer c.sem.Release()

	applied, err := c.svc.Submit(submitCtx, c.docID, c.userID, op)
	if err != nil {
		log.Printf("submit failed (user=%d doc=%s): %v", c.userID, c.docID, err)
		return
	}

	appliedOp := applied.Op
	c.hub.Broadcast(c.docID, ServerMessage{
		Type:      "document_change",
		DocID:     c.docID,
		UserID:    c.userID,
		Operation: &appliedOp,
		Revision:  applied.Revision,
		Timestamp: applied.AppliedAt,
	})
	c.publishEvent(ctx, "document_changed", map[string]any{
		"operationId": applied.OperationID,
		"pos":         appliedOp.Position,
		"text":        appliedOp.Text,
		"op_type":     string(appliedOp.Kind),
		"revision":    applied.Revision,
	})
}

// readLoop 按到达顺序处理该连接的入站消息（阻塞至连接关闭）。
func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.announceLeave(ctx)
		c.closeMu.Lock()
		c.closed = true
		close(c.send)
		c.closeMu.Unlock()
	}()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		switch msg.Type {
		case "document_change":
			if msg.Operation == nil {
				c.Enqueue(ServerMessage{Type: "error", Content: "MISSING_OPERATION", Timestamp: time.Now().UTC()})
				continue
			}
			c.handleChange(ctx, *msg.Operation)

		case "cursor_position":
			// last-write-wins，无条件覆盖，然后广播 presence（不落日志）
			c.hub.Presence().Update(c.docID, c.userID, msg.Cursor)
			c.hub.Broadcast(c.docID, ServerMessage{
				Type:      "cursor_position",
				DocID:     c.docID,
				UserID:    c.userID,
				Cursor:    msg.Cursor,
				Timestamp: time.Now().UTC(),
			})

		case "document_saved":
			content, rev := c.svc.Content(ctx, c.docID)
			c.hub.Broadcast(c.docID, ServerMessage{
				Type:      "document_saved",
				DocID:     c.docID,
				UserID:    c.userID,
				Revision:  rev,
				Timestamp: time.Now().UTC(),
			})
			c.publishEvent(ctx, "document_updated", map[string]any{
				"revision": rev,
				"length":   len([]rune(content)),
			})

		default:
			// 忽略未知类型，回一条提示
			c.Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type", Timestamp: time.Now().UTC()})
		}
	}
}

// writeLoop 持续消费通道中的出站消息
func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
