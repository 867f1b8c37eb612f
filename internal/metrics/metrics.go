// Package metrics exports marketplace activity in Prometheus format. It
// listens on the hook bus, so components never import it directly.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arko05roy/swarm/internal/hooks"
)

const (
	namespace = "swarm"
	hookName  = "metrics"
)

// Metrics owns a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	reg *prometheus.Registry

	executions  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rejected    prometheus.Counter
	settled     *prometheus.CounterVec
	distributed *prometheus.CounterVec
	invested    prometheus.Counter
	withdrawn   prometheus.Counter
	rpc         *prometheus.CounterVec
}

// New creates the collectors, including the Go runtime and process ones.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Completed agent executions by outcome.",
		}, []string{"agent", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Agent execution latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"agent"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_rejected_total",
			Help:      "Executions refused because the engine was at capacity.",
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "earnings_settled_total",
			Help:      "Amount paid by callers for agent executions.",
		}, []string{"agent"}),
		distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "earnings_distributed_total",
			Help:      "Earnings credited to investors.",
		}, []string{"agent"}),
		invested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invested_total",
			Help:      "Principal invested into agents.",
		}),
		withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_total",
			Help:      "Amount withdrawn by investors, principal plus earnings.",
		}),
		rpc: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Gateway RPC requests by method and result code.",
		}, []string{"method", "code"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.executions, m.duration, m.rejected, m.settled, m.distributed,
		m.invested, m.withdrawn, m.rpc,
	)
	return m
}

// GaugeFunc exports fn, sampled on every scrape, as swarm_<name>.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Attach subscribes to the events the collectors count.
func (m *Metrics) Attach(hm *hooks.Manager) {
	if m == nil || hm == nil {
		return
	}
	hm.On(hooks.EventExecutionCompleted, hookName, m.onExecution)
	hm.On(hooks.EventExecutionRejected, hookName, m.onRejected)
	hm.On(hooks.EventEarningsSettled, hookName, m.onSettled)
	hm.On(hooks.EventEarningsDistributed, hookName, m.onDistributed)
	hm.On(hooks.EventInvestmentMade, hookName, m.onInvestment)
	hm.On(hooks.EventWithdrawalCompleted, hookName, m.onWithdrawal)
}

// Detach removes the subscriptions made by Attach.
func (m *Metrics) Detach(hm *hooks.Manager) {
	if m == nil || hm == nil {
		return
	}
	hm.Detach(hookName)
}

// ObserveRPC counts one gateway request; code is "ok" on success.
func (m *Metrics) ObserveRPC(method, code string) {
	if m == nil {
		return
	}
	m.rpc.WithLabelValues(method, code).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) onExecution(_ context.Context, p hooks.Payload) error {
	id := str(p.Data, "agentId")
	outcome := "failure"
	if ok, _ := p.Data["success"].(bool); ok {
		outcome = "success"
	}
	m.executions.WithLabelValues(id, outcome).Inc()
	m.duration.WithLabelValues(id).Observe(num(p.Data, "durationMs") / 1000)
	return nil
}

func (m *Metrics) onRejected(context.Context, hooks.Payload) error {
	m.rejected.Inc()
	return nil
}

func (m *Metrics) onSettled(_ context.Context, p hooks.Payload) error {
	m.settled.WithLabelValues(str(p.Data, "agentId")).Add(num(p.Data, "amount"))
	return nil
}

func (m *Metrics) onDistributed(_ context.Context, p hooks.Payload) error {
	m.distributed.WithLabelValues(str(p.Data, "agentId")).Add(num(p.Data, "amount"))
	return nil
}

func (m *Metrics) onInvestment(_ context.Context, p hooks.Payload) error {
	m.invested.Add(num(p.Data, "amount"))
	return nil
}

func (m *Metrics) onWithdrawal(_ context.Context, p hooks.Payload) error {
	m.withdrawn.Add(num(p.Data, "amount"))
	return nil
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// num reads the numeric types emitters use. Negative values read as zero
// since counters only go up.
func num(data map[string]any, key string) float64 {
	var f float64
	switch v := data[key].(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	}
	if f < 0 {
		return 0
	}
	return f
}
