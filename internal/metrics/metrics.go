package metrics

import "expvar"

var (
	RequestsQueued    = expvar.NewInt("lt_requests_queued")
	RequestsExecuted  = expvar.NewInt("lt_requests_executed")
	RequestsAbandoned = expvar.NewInt("lt_requests_abandoned")
	RequestsRetried   = expvar.NewInt("lt_requests_retried")
	RequestsDropped   = expvar.NewInt("lt_requests_dropped")
	SessionsRenewed   = expvar.NewInt("lt_sessions_renewed")
	Logins            = expvar.NewInt("lt_logins")
	ReconcileRuns     = expvar.NewInt("lt_reconcile_runs")
	ReconcileErrors   = expvar.NewInt("lt_reconcile_errors")
	ObserverDrops     = expvar.NewInt("lt_observer_drops")

	// 变更监听
	MonitorFrames     = expvar.NewInt("lt_monitor_frames")
	MonitorReconnects = expvar.NewInt("lt_monitor_reconnects")

	// ErrorsByCode 按错误码统计进入中央错误处理的次数
	ErrorsByCode = expvar.NewMap("lt_errors_by_code")
)
