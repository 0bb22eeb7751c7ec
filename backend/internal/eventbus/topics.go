package eventbus

import "strings"

// Topic 命名沿用事件流的既有约定，外部 worker 按这些名字订阅。
const (
	TopicUser          = "user_events"
	TopicDocument      = "document_events"
	TopicCollaboration = "collaboration_events"
	TopicDeadLetter    = "dead_letter_events"
	TopicAudit         = "event_audit_store"
)

// Topics 监控面轮询的全部主题。
var Topics = []string{
	TopicUser,
	TopicDocument,
	TopicCollaboration,
	TopicDeadLetter,
	TopicAudit,
}

// TopicFor 按前缀把事件类型映射到唯一的主题。
// 注意顺序：协作前缀必须先于通用的 user_/document_ 前缀判断，
// 否则 user_joined_session 会被 user_ 抢走。
func TopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "user_joined"),
		strings.HasPrefix(eventType, "user_left"),
		strings.HasPrefix(eventType, "document_changed"):
		return TopicCollaboration
	case strings.HasPrefix(eventType, "user_"):
		return TopicUser
	case strings.HasPrefix(eventType, "document_"):
		return TopicDocument
	default:
		// 没有任何映射命中：直接进死信主题，不重试
		return TopicDeadLetter
	}
}
