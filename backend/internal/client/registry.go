package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

type instanceHealth struct {
	status       string // "unknown" / "healthy" / "unhealthy"
	lastCheck    time.Time
	responseTime time.Duration
}

// Registry：服务名 -> 实例地址列表，带健康状态。
type Registry struct {
	mu       sync.RWMutex
	services map[string][]string
	health   map[string]map[string]*instanceHealth
}

func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string][]string),
		health:   make(map[string]map[string]*instanceHealth),
	}
}

func (r *Registry) Register(name, url string) {
	url = strings.TrimRight(url, "/")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.services[name] {
		if u == url {
			return
		}
	}
	r.services[name] = append(r.services[name], url)
	if r.health[name] == nil {
		r.health[name] = make(map[string]*instanceHealth)
	}
	r.health[name][url] = &instanceHealth{status: "unknown"}
}

// HealthyInstance 随机返回一个健康实例；都不健康时退化为随机任意实例。
func (r *Registry) HealthyInstance(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var healthy []string
	for url, h := range r.health[name] {
		if h.status == "healthy" {
			healthy = append(healthy, url)
		}
	}
	if len(healthy) > 0 {
		return healthy[rand.Intn(len(healthy))], nil
	}
	all := r.services[name]
	if len(all) == 0 {
		return "", fmt.Errorf("no instance registered for service %s", name)
	}
	return all[rand.Intn(len(all))], nil
}

// HealthCheck 逐实例探测 GET /health，刷新健康状态。
func (r *Registry) HealthCheck(ctx context.Context, name string) {
	r.mu.RLock()
	urls := append([]string(nil), r.services[name]...)
	r.mu.RUnlock()

	httpc := &http.Client{Timeout: 2 * time.Second}
	for _, url := range urls {
		status := "unhealthy"
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
		if err == nil {
			resp, err := httpc.Do(req)
			if err == nil {
				if resp.StatusCode == http.StatusOK {
					status = "healthy"
				}
				resp.Body.Close()
			}
		}
		elapsed := time.Since(start)

		r.mu.Lock()
		if h := r.health[name][url]; h != nil {
			h.status = status
			h.lastCheck = time.Now()
			h.responseTime = elapsed
		}
		r.mu.Unlock()
	}
}
