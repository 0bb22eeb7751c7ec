package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Handler：消费者对单个事件的业务处理。返回非 nil 触发重试/死信流程。
type Handler func(ctx context.Context, evt Event) error

// DeliveryState：单条目处理的显式状态机。
// IDLE → FETCHING → PROCESSING → (ACKED | RETRYING | DEAD_LETTERED) → IDLE
// 重试次数和退避不是埋在控制流里，而是可观测的状态。
type DeliveryState int

const (
	StateIdle DeliveryState = iota
	StateFetching
	StateProcessing
	StateAcked
	StateRetrying
	StateDeadLettered
)

func (s DeliveryState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateProcessing:
		return "PROCESSING"
	case StateAcked:
		return "ACKED"
	case StateRetrying:
		return "RETRYING"
	case StateDeadLettered:
		return "DEAD_LETTERED"
	default:
		return "UNKNOWN"
	}
}

type ConsumerOptions struct {
	MaxRetries  int           // 同一条目的 handler 最大执行次数，默认 5
	BaseBackoff time.Duration // 首次重试前的退避，之后每次翻倍
	MaxBackoff  time.Duration // 退避上限
	FetchBlock  time.Duration // GroupRead 的阻塞时长
	ErrSleep    time.Duration // 传输层错误后的休眠
}

// Consumer：挂在 (topic, group, consumer) 上的拉取循环。
//   - handler 成功：立即 ack
//   - handler 失败：同一条目重试到上限，指数退避
//   - 重试耗尽：原事件 + 原位置写入死信主题，然后 ack 原条目（源主题不再投递）
//   - 传输层错误（连接断开等）：打日志、休眠、无限重试 fetch，绝不退出进程
type Consumer struct {
	log     Log
	topic   string
	group   string
	name    string
	handler Handler

	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	fetchBlock  time.Duration
	errSleep    time.Duration

	// 注入的休眠，便于测试不真等
	sleep func(ctx context.Context, d time.Duration)

	mu       sync.Mutex
	state    DeliveryState
	attempts int
}

func NewConsumer(l Log, topic, group, name string, h Handler, opt ConsumerOptions) *Consumer {
	if opt.MaxRetries <= 0 {
		opt.MaxRetries = 5
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 1 * time.Second
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 30 * time.Second
	}
	if opt.FetchBlock <= 0 {
		opt.FetchBlock = 5 * time.Second
	}
	if opt.ErrSleep <= 0 {
		opt.ErrSleep = 2 * time.Second
	}
	return &Consumer{
		log:         l,
		topic:       topic,
		group:       group,
		name:        name,
		handler:     h,
		maxRetries:  opt.MaxRetries,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		fetchBlock:  opt.FetchBlock,
		errSleep:    opt.ErrSleep,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// State 返回当前状态和正在处理条目的已尝试次数。
func (c *Consumer) State() (DeliveryState, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempts
}

func (c *Consumer) setState(s DeliveryState, attempts int) {
	c.mu.Lock()
	c.state = s
	c.attempts = attempts
	c.mu.Unlock()
}

// Run 阻塞运行消费循环，直到 ctx 取消。
// 取消只在 fetch 边界生效：批内条目的 ack/退避/死信流程会先走完，
// 避免重启后的瞬时重投风暴。
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.log.GroupCreate(ctx, c.topic, c.group, StartBeginning); err != nil {
		log.Printf("group create failed (topic=%s group=%s): %v", c.topic, c.group, err)
	}
	for {
		select {
		case <-ctx.Done():
			c.setState(StateIdle, 0)
			return ctx.Err()
		default:
		}

		c.setState(StateFetching, 0)
		entries, err := c.log.GroupRead(ctx, c.topic, c.group, c.name, 10, c.fetchBlock)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateIdle, 0)
				return ctx.Err()
			}
			log.Printf("consumer fetch error (topic=%s group=%s): %v", c.topic, c.group, err)
			c.sleep(ctx, c.errSleep)
			continue
		}
		for _, e := range entries {
			c.processEntry(ctx, e)
		}
		c.setState(StateIdle, 0)
	}
}

func (c *Consumer) processEntry(ctx context.Context, e Entry) {
	// 已取走的条目要走完 ack 流程，ack/死信不受上游取消影响
	ackCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.setState(StateProcessing, attempt)
		err := c.safeHandle(ctx, e.Event)
		if err == nil {
			if err := c.log.Ack(ackCtx, c.topic, c.group, e.Position); err != nil {
				log.Printf("ack failed (topic=%s pos=%s): %v", c.topic, e.Position, err)
			}
			c.setState(StateAcked, attempt)
			return
		}
		log.Printf("handler attempt %d/%d failed (topic=%s pos=%s): %v",
			attempt, c.maxRetries, c.topic, e.Position, err)
		if attempt == c.maxRetries {
			break
		}
		c.setState(StateRetrying, attempt)
		backoff := c.baseBackoff << (attempt - 1)
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
		c.sleep(ctx, backoff)
	}

	// 重试耗尽：原事件连同原位置移入死信主题，再 ack 原条目。
	// 源主题保证不再投递；该事件此后只能从死信主题人工/旁路重放。
	dead := e.Event
	payload := make(map[string]any, len(e.Event.Payload)+2)
	for k, v := range e.Event.Payload {
		payload[k] = v
	}
	payload["originalPosition"] = e.Position
	payload["sourceTopic"] = c.topic
	dead.Payload = payload

	if _, err := c.log.Append(ackCtx, TopicDeadLetter, dead); err != nil {
		// 死信写失败时绝不 ack：条目留在 pending 集合里等下次认领，
		// 事件不能同时从源主题和死信主题消失
		log.Printf("dead letter append failed, entry stays pending (topic=%s pos=%s): %v", c.topic, e.Position, err)
		c.setState(StateRetrying, c.maxRetries)
		return
	}
	if err := c.log.Ack(ackCtx, c.topic, c.group, e.Position); err != nil {
		log.Printf("ack after dead letter failed (topic=%s pos=%s): %v", c.topic, e.Position, err)
	}
	c.setState(StateDeadLettered, c.maxRetries)
	log.Printf("entry %s on %s moved to dead letter queue", e.Position, c.topic)
}

// safeHandle 把 handler 的 panic 也转成错误，绝不让单条目炸掉整个拉取循环。
func (c *Consumer) safeHandle(ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, evt)
}
