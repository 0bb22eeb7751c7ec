package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"collabPlatform/backend/internal/collab"
	"collabPlatform/backend/internal/eventbus"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h   *Hub
	svc *collab.Service
	pub *eventbus.Publisher
	sem *collab.SemaphoreControl
}

func NewManager(h *Hub, svc *collab.Service, pub *eventbus.Publisher, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, svc: svc, pub: pub, sem: sem}
}

// WebSocketConnect：/collab/ws?docId=xxx
// userId/username 由鉴权中间件写入 context；身份校验本身在外部身份服务。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	docID := c.Query("docId")
	if docID == "" {
		c.String(http.StatusBadRequest, "missing docId")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 传输层 accept 失败是唯一向上冒泡的 connect 错误
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, docID, userID, username, m.svc, m.pub, m.sem)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()

	wsConn.Enqueue(ServerMessage{Type: "welcome", DocID: docID, Content: "joined document", Timestamp: time.Now().UTC()})

	ctx := c.Request.Context()
	m.h.Join(docID, wsConn)
	wsConn.announceJoin(ctx)

	// 进入读循环（阻塞至连接关闭；断开时 readLoop 自己负责离房广播和事件）
	wsConn.readLoop(ctx)
}
