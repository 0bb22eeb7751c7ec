package eventbus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event：系统内流转的事实（typed + timestamped）。
// 三类 schema：用户事件只要求 userId，文档事件只要求 docId，协作事件两者都要。
type Event struct {
	EventType string         `json:"eventType"`
	UserID    uint64         `json:"userId,omitempty"`
	DocID     string         `json:"docId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type schemaFamily int

const (
	familyUser schemaFamily = iota
	familyDocument
	familyCollaboration
)

// 事件类型注册表：event_type -> schema 家族。
// 未注册的类型在 Publish 时直接拒绝，绝不静默转换。
var eventSchemas = map[string]schemaFamily{
	"user_registered":     familyUser,
	"user_updated":        familyUser,
	"user_deleted":        familyUser,
	"document_created":    familyDocument,
	"document_updated":    familyDocument,
	"document_shared":     familyDocument,
	"document_deleted":    familyDocument,
	"user_joined_session": familyCollaboration,
	"user_left_session":   familyCollaboration,
	"document_changed":    familyCollaboration,
}

var ErrUnknownEventType = errors.New("unknown event type")

// SchemaValidationError：schema 校验失败，Fields 列出所有违规字段。
type SchemaValidationError struct {
	EventType string
	Fields    []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("event %s failed schema validation: missing %s",
		e.EventType, strings.Join(e.Fields, ", "))
}

// Validate 按注册表校验事件。类型未知返回 ErrUnknownEventType（可用 errors.Is 判断）。
func Validate(eventType string, evt Event) error {
	family, ok := eventSchemas[eventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	var missing []string
	switch family {
	case familyUser:
		if evt.UserID == 0 {
			missing = append(missing, "userId")
		}
	case familyDocument:
		if evt.DocID == "" {
			missing = append(missing, "docId")
		}
	case familyCollaboration:
		// 协作事件额外携带 user_id
		if evt.DocID == "" {
			missing = append(missing, "docId")
		}
		if evt.UserID == 0 {
			missing = append(missing, "userId")
		}
	}
	if evt.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}

	if len(missing) > 0 {
		return &SchemaValidationError{EventType: eventType, Fields: missing}
	}
	return nil
}

// KnownEventTypes 返回所有已注册的事件类型（监控/调试用）。
func KnownEventTypes() []string {
	out := make([]string, 0, len(eventSchemas))
	for t := range eventSchemas {
		out = append(out, t)
	}
	return out
}
