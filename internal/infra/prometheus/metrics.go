package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "krunklink"

// Metrics counts verification outcomes and swept challenges.
type Metrics struct {
	operations *prom.CounterVec
	swept      prom.Counter
	commands   *prom.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prom.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "operations_total",
			Help:      "Verification operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		swept: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "swept_challenges_total",
			Help:      "Expired challenges removed by the sweeper.",
		}),
		commands: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Subsystem: "commands",
			Name:      "handled_total",
			Help:      "Chat commands handled by command name and result.",
		}, []string{"command", "result"}),
	}

	for _, c := range []prom.Collector{m.operations, m.swept, m.commands} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordOperation counts one verification operation outcome.
func (m *Metrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordSwept adds removed challenges.
func (m *Metrics) RecordSwept(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(float64(count))
}

// RecordCommand counts one handled chat command.
func (m *Metrics) RecordCommand(command string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.commands.WithLabelValues(command, result).Inc()
}
