package metrics

import "sync/atomic"

var global atomic.Value

func init() {
	global.Store(holder{NopMetrics{}})
}

type holder struct{ m Metrics }

// SetGlobal 设置全局指标收集器
func SetGlobal(m Metrics) {
	global.Store(holder{OrNop(m)})
}

// Global 获取全局指标收集器，未设置时为 NopMetrics
func Global() Metrics {
	return global.Load().(holder).m
}

// IncSessionStarted 会话进入 Connected
func IncSessionStarted() { Global().IncrementCounter(SessionStarted, nil) }

// IncRestart 一次重启流程，与尝试次数无关
func IncRestart() { Global().IncrementCounter(SessionRestarts, nil) }

// IncDeleted 会话被删除
func IncDeleted() { Global().IncrementCounter(SessionDeleted, nil) }

// IncRestartExhausted 重启次数耗尽
func IncRestartExhausted() { Global().IncrementCounter(RestartExhausted, nil) }

// IncRemoteSync 远端同步结果
func IncRemoteSync(ok bool) {
	if ok {
		Global().IncrementCounter(RemoteSyncOK, nil)
		return
	}
	Global().IncrementCounter(RemoteSyncFailed, nil)
}

// SetLiveSessions 当前注册表中的会话数
func SetLiveSessions(n int) { Global().SetGauge(SessionLive, float64(n), nil) }
