package eventbus

import (
	"context"
	"log"
)

// Monitor：指标面。暴露各主题条目数、各组 pending 数和死信深度，
// 供健康检查和告警阈值使用。
type Monitor struct {
	log                 Log
	DeadLetterThreshold int64
}

func NewMonitor(l Log, deadLetterThreshold int64) *Monitor {
	if deadLetterThreshold <= 0 {
		deadLetterThreshold = 1
	}
	return &Monitor{log: l, DeadLetterThreshold: deadLetterThreshold}
}

// Metrics 返回每个主题的条目数。单个主题读取失败记 -1，不影响其他主题。
func (m *Monitor) Metrics(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(Topics))
	for _, topic := range Topics {
		n, err := m.log.Len(ctx, topic)
		if err != nil {
			log.Printf("metrics: read %s length failed: %v", topic, err)
			out[topic] = -1
			continue
		}
		out[topic] = n
	}
	return out
}

// GroupPending 返回 (topic, group) 当前 in-flight 未确认的条目数。
func (m *Monitor) GroupPending(ctx context.Context, topic, group string) (int64, error) {
	return m.log.Pending(ctx, topic, group)
}

// AlertOnDeadLetter 检查死信深度，达到阈值打告警日志。返回当前深度。
func (m *Monitor) AlertOnDeadLetter(ctx context.Context) (int64, error) {
	n, err := m.log.Len(ctx, TopicDeadLetter)
	if err != nil {
		return 0, err
	}
	if n >= m.DeadLetterThreshold {
		log.Printf("ALERT: dead letter queue has %d events (threshold %d), immediate attention required",
			n, m.DeadLetterThreshold)
	}
	return n, nil
}
