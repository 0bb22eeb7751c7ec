package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"collabPlatform/backend/config"
	"collabPlatform/backend/internal/client"
	"collabPlatform/backend/internal/collab"
	"collabPlatform/backend/internal/eventbus"
	"collabPlatform/backend/internal/relay"
)

// event_worker：独立的消费进程。挂两个消费组在事件日志上：
//   - persistence：把文档事件回放到文档持久化服务（HTTP）
//   - analytics：把协作事件转发到 Kafka 供分析侧消费
//
// handler 的失败走重试/死信，日志连接断开走无限重连，进程本身不退出。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	eventLog := eventbus.NewRedisLog(rdb)
	monitor := eventbus.NewMonitor(eventLog, cfg.Worker.DeadLetterThreshold)

	// === Kafka Producer（分析转发用；连不上则降级为只做持久化回放） ===
	var producer sarama.SyncProducer
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Printf("kafka unavailable, analytics relay degraded to no-op: %v", err)
		producer = nil
	} else {
		defer producer.Close()
	}

	kafkaSem := collab.NewSemaphoreControl(100)
	dispatcher := relay.NewKafkaDispatcher(producer, cfg.Kafka.Topic, kafkaSem, relay.KafkaDispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	// === 文档持久化回放（经带熔断的服务客户端） ===
	registry := client.NewRegistry()
	registry.Register("document_service", cfg.Document.Path)
	svcClient := client.New(registry)

	persistHandler := func(ctx context.Context, evt eventbus.Event) error {
		resp, err := svcClient.Request(ctx, "document_service", "POST", "/internal/documents/sync", map[string]any{
			"docId":     evt.DocID,
			"eventType": evt.EventType,
			"timestamp": evt.Timestamp,
			"payload":   evt.Payload,
		})
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}

	consumers := []*eventbus.Consumer{
		eventbus.NewConsumer(eventLog, eventbus.TopicDocument, "persistence", cfg.Worker.Name,
			persistHandler, eventbus.ConsumerOptions{}),
		eventbus.NewConsumer(eventLog, eventbus.TopicCollaboration, "analytics", cfg.Worker.Name,
			dispatcher.Handler(), eventbus.ConsumerOptions{}),
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func(c *eventbus.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("consumer exited: %v", err)
			}
		}(c)
	}

	// 健康探测 + 死信告警的巡检循环
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.HealthCheck(ctx, "document_service")
				if _, err := monitor.AlertOnDeadLetter(ctx); err != nil {
					log.Printf("dead letter check failed: %v", err)
				}
			}
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down, waiting for in-flight entries")
	wg.Wait()
}
