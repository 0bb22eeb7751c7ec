package eventbus

import (
	"context"
	"time"
)

// Entry：事件 + 日志在 append 时分配的位置。位置在单个主题内严格递增。
type Entry struct {
	Position string `json:"position"`
	Event    Event  `json:"event"`
}

// Log：按主题有序、只追加的事件流抽象，带消费组语义。
//   - Append 分配并返回新位置；条目一旦写入不可修改
//   - ReadRange 返回 from 之后（不含 from）的条目；from 传 "0" 表示从头读
//   - GroupCreate 幂等：组已存在时是 no-op，不是错误
//   - GroupRead 只返回同组内尚未被其他 consumer 认领的条目
//   - Ack 对该组标记条目处理完成
type Log interface {
	Append(ctx context.Context, topic string, evt Event) (string, error)
	ReadRange(ctx context.Context, topic, from string, count int64) ([]Entry, error)
	GroupCreate(ctx context.Context, topic, group, start string) error
	GroupRead(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, topic, group, position string) error

	// 监控面
	Len(ctx context.Context, topic string) (int64, error)
	Pending(ctx context.Context, topic, group string) (int64, error)
}

// StartBeginning / StartEnd：GroupCreate 的起始位置。
const (
	StartBeginning = "0"
	StartEnd       = "$"
)

// Replay 从 from 位置之后开始，把 topic 里已提交的条目依次交给 handler，
// 读到末尾为止。返回最后处理的条目位置（可作为下次续读的 from）。
func Replay(ctx context.Context, l Log, topic, from string, h Handler) (string, error) {
	last := from
	for {
		entries, err := l.ReadRange(ctx, topic, last, 100)
		if err != nil {
			return last, err
		}
		if len(entries) == 0 {
			return last, nil
		}
		for _, e := range entries {
			if err := h(ctx, e.Event); err != nil {
				return last, err
			}
			last = e.Position
		}
	}
}
