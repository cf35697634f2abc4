package gateway

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"chatstream/internal/domain"
)

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	TurnsStarted   atomic.Int64
	TurnsCompleted atomic.Int64
	TurnsFailed    atomic.Int64
	TurnsCancelled atomic.Int64
	ToolCalls      atomic.Int64
	WSClients      atomic.Int64
}

// Observe counts turn and tool events from bus. It returns a function that
// stops observing.
func (m *Metrics) Observe(bus domain.EventBus) func() {
	counters := map[domain.EventType]*atomic.Int64{
		domain.EventStreamStarted:   &m.TurnsStarted,
		domain.EventStreamCompleted: &m.TurnsCompleted,
		domain.EventStreamError:     &m.TurnsFailed,
		domain.EventStreamCancelled: &m.TurnsCancelled,
		domain.EventToolCallCreated: &m.ToolCalls,
	}
	unsubs := make([]func(), 0, len(counters))
	for et, c := range counters {
		unsubs = append(unsubs, bus.Subscribe(et, func(context.Context, domain.Event) { c.Add(1) }))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func metricsHandler(svc TurnService, startTime time.Time, m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		gauge := func(name, help string, v any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
		}
		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}

		gauge("chatstream_turns_active", "Turns currently streaming.", len(svc.Active()))
		counter("chatstream_turns_started_total", "Turns started.", m.TurnsStarted.Load())
		counter("chatstream_turns_completed_total", "Turns that completed.", m.TurnsCompleted.Load())
		counter("chatstream_turns_failed_total", "Turns that ended with an error.", m.TurnsFailed.Load())
		counter("chatstream_turns_cancelled_total", "Turns cancelled by a caller.", m.TurnsCancelled.Load())
		counter("chatstream_tool_calls_total", "Tool calls observed in streams.", m.ToolCalls.Load())
		gauge("chatstream_ws_clients", "Connected WebSocket clients.", m.WSClients.Load())
		gauge("chatstream_uptime_seconds", "Seconds since the gateway started.", fmt.Sprintf("%.0f", time.Since(startTime).Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge("go_goroutines", "Number of goroutines.", runtime.NumGoroutine())
		gauge("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", mem.Alloc)
		gauge("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", mem.Sys)
	}
}
