package main

import (
	"expvar"
	"sync/atomic"
)

var (
	metricProvisions = expvar.NewInt("sandbox_provision_total")
	metricAttaches   = expvar.NewInt("sandbox_attach_total")
	metricFailures   = expvar.NewInt("sandbox_failure_total")
	metricDeletes    = expvar.NewInt("sandbox_delete_total")
	metricReaped     = expvar.NewInt("sandbox_reaped_total")
	readyTotalMs     int64
	readyCount       int64
	readyLastMs      int64
)

func init() {
	expvar.Publish("sandbox_ready_ms_avg", expvar.Func(func() any {
		cnt := atomic.LoadInt64(&readyCount)
		if cnt == 0 {
			return 0
		}
		total := atomic.LoadInt64(&readyTotalMs)
		return total / cnt
	}))
	expvar.Publish("sandbox_ready_ms_last", expvar.Func(func() any {
		return atomic.LoadInt64(&readyLastMs)
	}))
}

func recordReady(durationMs int64) {
	atomic.AddInt64(&readyTotalMs, durationMs)
	atomic.AddInt64(&readyCount, 1)
	atomic.StoreInt64(&readyLastMs, durationMs)
}
