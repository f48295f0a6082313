// Package metrics 会话生命周期指标（进程内计数器/Gauge）
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// 指标名
const (
	SessionStarted   = "session_started"
	SessionRestarts  = "session_restarts"
	SessionDeleted   = "session_deleted"
	RestartExhausted = "restart_exhausted"
	RemoteSyncOK     = "remote_sync_ok"
	RemoteSyncFailed = "remote_sync_failed"
	SessionLive      = "session_live"
)

// Metrics 指标收集接口
type Metrics interface {
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, value int64, labels map[string]string)
	GetCounter(name string, labels map[string]string) int64
	SetGauge(name string, value float64, labels map[string]string)
	GetGauge(name string, labels map[string]string) float64
	Snapshot() map[string]float64
}

// MemoryMetrics 内存指标实现
type MemoryMetrics struct {
	counters map[string]*atomic.Int64
	gauges   map[string]float64
	mu       sync.RWMutex
}

// NewMemoryMetrics 创建内存指标收集器
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]float64),
	}
}

func (m *MemoryMetrics) counter(key string) *atomic.Int64 {
	m.mu.RLock()
	c, ok := m.counters[key]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[key]; !ok {
		c = &atomic.Int64{}
		m.counters[key] = c
	}
	return c
}

// IncrementCounter 计数器加一
func (m *MemoryMetrics) IncrementCounter(name string, labels map[string]string) {
	m.counter(buildKey(name, labels)).Add(1)
}

// AddCounter 计数器增加指定值
func (m *MemoryMetrics) AddCounter(name string, value int64, labels map[string]string) {
	m.counter(buildKey(name, labels)).Add(value)
}

// GetCounter 获取计数器值
func (m *MemoryMetrics) GetCounter(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[buildKey(name, labels)]; ok {
		return c.Load()
	}
	return 0
}

// SetGauge 设置 Gauge
func (m *MemoryMetrics) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[buildKey(name, labels)] = value
}

// GetGauge 获取 Gauge
func (m *MemoryMetrics) GetGauge(name string, labels map[string]string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[buildKey(name, labels)]
}

// Snapshot 导出全部指标
func (m *MemoryMetrics) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.counters)+len(m.gauges))
	for k, c := range m.counters {
		out[k] = float64(c.Load())
	}
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}

// buildKey 按标签键排序生成稳定的指标键
func buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

// NopMetrics 丢弃所有指标
type NopMetrics struct{}

func (NopMetrics) IncrementCounter(string, map[string]string)  {}
func (NopMetrics) AddCounter(string, int64, map[string]string) {}
func (NopMetrics) GetCounter(string, map[string]string) int64  { return 0 }
func (NopMetrics) SetGauge(string, float64, map[string]string) {}
func (NopMetrics) GetGauge(string, map[string]string) float64  { return 0 }
func (NopMetrics) Snapshot() map[string]float64                { return map[string]float64{} }

// OrNop 返回 m，为 nil 时返回 NopMetrics
func OrNop(m Metrics) Metrics {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
