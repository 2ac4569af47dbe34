package common

import (
	"sync"
	"time"
)

// Metrics 系统指标
type Metrics struct {
	mu sync.RWMutex

	// 系统指标
	StartTime    time.Time                `json:"start_time"`
	RequestCount map[string]int64         `json:"request_count"`
	ResponseTime map[string]time.Duration `json:"response_time"`
	ErrorCount   map[string]int64         `json:"error_count"`

	// 构建指标
	TotalBuilds     int64 `json:"total_builds"`
	SucceededBuilds int64 `json:"succeeded_builds"`
	FailedBuilds    int64 `json:"failed_builds"`
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`

	// 启动指标
	TotalLaunches  int64 `json:"total_launches"`
	ActiveLaunches int64 `json:"active_launches"`
	FailedLaunches int64 `json:"failed_launches"`
}

var globalMetrics = &Metrics{
	StartTime:    time.Now(),
	RequestCount: make(map[string]int64),
	ResponseTime: make(map[string]time.Duration),
	ErrorCount:   make(map[string]int64),
}

// GetMetrics 获取全局指标实例
func GetMetrics() *Metrics {
	return globalMetrics
}

// IncrementRequestCount 增加请求计数
func (m *Metrics) IncrementRequestCount(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount[endpoint]++
}

// RecordResponseTime 记录响应时间
func (m *Metrics) RecordResponseTime(endpoint string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseTime[endpoint] = duration
}

// IncrementErrorCount 增加错误计数
func (m *Metrics) IncrementErrorCount(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCount[endpoint]++
}

// RecordBuild 记录一次构建结果
func (m *Metrics) RecordBuild(succeeded bool, cacheHits, cacheMisses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalBuilds++
	if succeeded {
		m.SucceededBuilds++
	} else {
		m.FailedBuilds++
	}
	m.CacheHits += int64(cacheHits)
	m.CacheMisses += int64(cacheMisses)
}

// RecordLaunchStarted 记录启动开始
func (m *Metrics) RecordLaunchStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalLaunches++
	m.ActiveLaunches++
}

// RecordLaunchFinished 记录启动结束
func (m *Metrics) RecordLaunchFinished(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ActiveLaunches > 0 {
		m.ActiveLaunches--
	}
	if failed {
		m.FailedLaunches++
	}
}

// MetricsSnapshot 不含锁的指标快照
type MetricsSnapshot struct {
	StartTime    time.Time                `json:"start_time"`
	RequestCount map[string]int64         `json:"request_count"`
	ResponseTime map[string]time.Duration `json:"response_time"`
	ErrorCount   map[string]int64         `json:"error_count"`

	TotalBuilds     int64 `json:"total_builds"`
	SucceededBuilds int64 `json:"succeeded_builds"`
	FailedBuilds    int64 `json:"failed_builds"`
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`

	TotalLaunches  int64 `json:"total_launches"`
	ActiveLaunches int64 `json:"active_launches"`
	FailedLaunches int64 `json:"failed_launches"`
}

// Snapshot 获取指标快照
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		StartTime:       m.StartTime,
		RequestCount:    make(map[string]int64, len(m.RequestCount)),
		ResponseTime:    make(map[string]time.Duration, len(m.ResponseTime)),
		ErrorCount:      make(map[string]int64, len(m.ErrorCount)),
		TotalBuilds:     m.TotalBuilds,
		SucceededBuilds: m.SucceededBuilds,
		FailedBuilds:    m.FailedBuilds,
		CacheHits:       m.CacheHits,
		CacheMisses:     m.CacheMisses,
		TotalLaunches:   m.TotalLaunches,
		ActiveLaunches:  m.ActiveLaunches,
		FailedLaunches:  m.FailedLaunches,
	}
	for k, v := range m.RequestCount {
		snapshot.RequestCount[k] = v
	}
	for k, v := range m.ResponseTime {
		snapshot.ResponseTime[k] = v
	}
	for k, v := range m.ErrorCount {
		snapshot.ErrorCount[k] = v
	}
	return snapshot
}
