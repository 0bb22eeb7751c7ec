package eventbus

import (
	"context"
	"log"
	"time"
)

// Publisher：校验事件并路由到唯一的主主题，同时追加一份到审计主题。
type Publisher struct {
	log Log
}

func NewPublisher(l Log) *Publisher {
	return &Publisher{log: l}
}

// Publish 校验失败同步返回错误，任何主题都不会被写入；
// 校验通过后写主主题并返回分配的位置。
// 审计副本写失败只打日志，绝不影响主发布。
func (p *Publisher) Publish(ctx context.Context, eventType string, evt Event) (string, error) {
	evt.EventType = eventType
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := Validate(eventType, evt); err != nil {
		return "", err
	}

	topic := TopicFor(eventType)
	pos, err := p.log.Append(ctx, topic, evt)
	if err != nil {
		return "", err
	}

	if _, err := p.log.Append(ctx, TopicAudit, evt); err != nil {
		log.Printf("audit append failed (type=%s topic=%s pos=%s): %v", eventType, topic, pos, err)
	}

	log.Printf("published event %s to %s pos=%s", eventType, topic, pos)
	return pos, nil
}
