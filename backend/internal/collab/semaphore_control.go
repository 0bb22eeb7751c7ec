package collab

import (
	"context"
	"errors"
)

// SemaphoreControl：限制并发度的信号量（chan 实现）。
// 实时提交路径和 Kafka 转发共用这个类型，但各自独立实例。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(limit int) *SemaphoreControl {
	if limit <= 0 {
		limit = 100
	}
	return &SemaphoreControl{ch: make(chan struct{}, limit)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("semaphore acquire timed out")
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("semaphore release without acquire")
	}
}
