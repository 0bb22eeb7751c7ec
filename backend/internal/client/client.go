package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client：带熔断、重试和关联 ID 的服务间 HTTP 客户端。
// 本核心用它访问被排除在外的协作方（文档持久化服务等）。
type Client struct {
	registry *Registry
	httpc    *http.Client

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	retries     int
	baseBackoff time.Duration
}

func New(registry *Registry) *Client {
	return &Client{
		registry:    registry,
		httpc:       &http.Client{Timeout: 5 * time.Second},
		breakers:    make(map[string]*CircuitBreaker),
		retries:     3,
		baseBackoff: 1 * time.Second,
	}
}

func (c *Client) breaker(service string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.breakers[service]
	if b == nil {
		b = NewCircuitBreaker(5, 30*time.Second, nil)
		c.breakers[service] = b
	}
	return b
}

// Request 向指定服务发一次 JSON 请求。
// 每次尝试都会注入 X-Correlation-ID / X-Request-Timestamp；
// 失败按 2^attempt 退避重试，熔断器打开时立即失败。
func (c *Client) Request(ctx context.Context, service, method, path string, body any) (*http.Response, error) {
	base, err := c.registry.HealthyInstance(service)
	if err != nil {
		return nil, err
	}
	breaker := c.breaker(service)

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	correlationID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if !breaker.AllowRequest() {
			return nil, fmt.Errorf("circuit breaker open for %s", service)
		}

		req, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", correlationID)
		req.Header.Set("X-Request-Timestamp", time.Now().UTC().Format(time.RFC3339))

		resp, err := c.httpc.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			breaker.RecordSuccess()
			return resp, nil
		}
		if err == nil {
			err = fmt.Errorf("%s %s returned %d", service, path, resp.StatusCode)
			resp.Body.Close()
		}
		breaker.RecordFailure()
		lastErr = err
		log.Printf("request to %s failed (attempt %d, correlation=%s): %v", service, attempt+1, correlationID, err)

		backoff := c.baseBackoff * time.Duration(1<<attempt)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}
