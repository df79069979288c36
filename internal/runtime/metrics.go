package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/flowrpc/internal/runtime/config"
	"github.com/drblury/flowrpc/internal/runtime/rpcerror"
)

// ProcedureMetrics exports per-procedure prometheus collectors.
type ProcedureMetrics struct {
	mu sync.Mutex

	callsTotal      *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	inFlight        *prometheus.GaugeVec
	subscriptions   *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "procedure",
		Name:      name,
		Help:      help,
	}, labels)
}

func newGaugeVec(namespace, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "procedure",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewProcedureMetrics builds the collectors. A nil registerer means the
// prometheus default.
func NewProcedureMetrics(namespace string, registerer prometheus.Registerer) *ProcedureMetrics {
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ProcedureMetrics{
		registerer: registerer,
		callsTotal: newCounterVec(namespace, "calls_total", "Procedure calls by outcome code", []string{"type", "path", "code"}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "procedure",
			Name:      "duration_seconds",
			Help:      "Time spent resolving a procedure call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "path"}),
		inFlight:      newGaugeVec(namespace, "in_flight", "Calls currently being resolved", []string{"type"}),
		subscriptions: newGaugeVec(namespace, "subscriptions_active", "Open streaming subscriptions", []string{"path"}),
	}
}

// Register registers every collector. Collectors already registered under
// the same name are reused, so calling it twice is fine.
func (m *ProcedureMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.callsTotal, err = register(m.registerer, m.callsTotal); err != nil {
		return err
	}
	if m.durationSeconds, err = register(m.registerer, m.durationSeconds); err != nil {
		return err
	}
	if m.inFlight, err = register(m.registerer, m.inFlight); err != nil {
		return err
	}
	if m.subscriptions, err = register(m.registerer, m.subscriptions); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// Observe records one finished call.
func (m *ProcedureMetrics) Observe(call *Call, duration time.Duration, err error) {
	code := "OK"
	if err != nil {
		code = string(rpcerror.Classify(err).Code)
	}
	typ := call.Type.String()
	m.callsTotal.WithLabelValues(typ, call.Path, code).Inc()
	m.durationSeconds.WithLabelValues(typ, call.Path).Observe(duration.Seconds())
}

// SubscriptionOpened counts a streaming subscription and returns the func
// that uncounts it.
func (m *ProcedureMetrics) SubscriptionOpened(path string) (closed func()) {
	gauge := m.subscriptions.WithLabelValues(path)
	gauge.Inc()
	var once sync.Once
	return func() { once.Do(gauge.Dec) }
}

func (m *ProcedureMetrics) middleware() DispatchMiddleware {
	return func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			gauge := m.inFlight.WithLabelValues(call.Type.String())
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			out, err := next(ctx, call)
			m.Observe(call, time.Since(start), err)
			return out, err
		}
	}
}
