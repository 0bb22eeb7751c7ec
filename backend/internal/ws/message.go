package ws

import (
	"encoding/json"
	"time"

	"collabPlatform/backend/internal/collab"
)

// 客户端入站消息。type 取值：
// "document_change" / "cursor_position" / "document_saved"
type ClientMessage struct {
	Type      string            `json:"type"`
	Operation *collab.Operation `json:"operation,omitempty"`
	Cursor    json.RawMessage   `json:"cursor,omitempty"`
	Content   string            `json:"content,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

// ServerMessage：广播给同文档房间内连接的出站消息。
// 所有广播都盖上服务端时间戳；user_joined / user_left 由服务端生成。
type ServerMessage struct {
	Type      string            `json:"type"`
	DocID     string            `json:"docId,omitempty"`
	UserID    uint64            `json:"userId,omitempty"`
	Username  string            `json:"username,omitempty"`
	Operation *collab.Operation `json:"operation,omitempty"`
	Cursor    json.RawMessage   `json:"cursor,omitempty"`
	Revision  uint64            `json:"revision,omitempty"`
	Content   string            `json:"content,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// 隐式实现 OutboundMessage 接口
func (m ServerMessage) MessageType() string { return m.Type }
