package metrics

import (
	"errors"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	Namespace = "time_simulator"
	Subsystem = "engine"
)

// SimulationMetrics is a simple wrapper around the Prometheus metrics exported by simulation engines.
// Every metric is labeled with the ID of the engine that produced it.
type SimulationMetrics struct {
	logger *zap.Logger

	StepsTotal             *prometheus.CounterVec
	RunsCompletedTotal     *prometheus.CounterVec
	VirtualSecondsAdvanced *prometheus.CounterVec
	ComponentFailuresTotal *prometheus.CounterVec
	EventsRecordedTotal    *prometheus.CounterVec

	// StepNotificationDurationMilliseconds is the real time spent notifying every registered
	// component of a single step. It excludes the time spent pacing the simulation.
	StepNotificationDurationMilliseconds *prometheus.HistogramVec

	AccelerationFactor   *prometheus.GaugeVec
	RegisteredComponents *prometheus.GaugeVec
}

// NewSimulationMetrics creates the metrics and registers them with the given Registerer.
//
// If registerer is nil, the metrics are created but not registered anywhere. If a metric with the same
// name is already registered, the existing collector is reused, so multiple engines may share a registry.
func NewSimulationMetrics(registerer prometheus.Registerer, atom *zap.AtomicLevel) (*SimulationMetrics, []error) {
	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for simulation metrics")
	}

	m := &SimulationMetrics{
		logger: logger,

		// Counter metrics.
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "steps_total",
			Help:      "Number of simulation steps executed.",
		}, []string{"engine_id"}),
		RunsCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "runs_completed_total",
			Help:      "Number of calls to RunFor that returned, labeled by whether the run was stopped early.",
		}, []string{"engine_id", "stopped"}),
		VirtualSecondsAdvanced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "virtual_seconds_advanced_total",
			Help:      "Total amount of virtual time, in seconds, by which the engine's clock has advanced.",
		}, []string{"engine_id", "source"}),
		ComponentFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "component_failures_total",
			Help:      "Number of times a temporal component failed to process a time advancement.",
		}, []string{"engine_id", "component"}),
		EventsRecordedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "events_recorded_total",
			Help:      "Number of events recorded by the engine.",
		}, []string{"engine_id", "category"}),

		// Histogram metrics.
		StepNotificationDurationMilliseconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "step_notification_duration_milliseconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10 /* 10 ms */, 50, 100, 500, 1e3 /* 1 sec */, 5e3, 10e3},
		}, []string{"engine_id"}),

		// Gauge metrics.
		AccelerationFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "acceleration_factor",
			Help:      "Current ratio of virtual time to real time.",
		}, []string{"engine_id"}),
		RegisteredComponents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "registered_components",
			Help:      "Number of temporal components registered with the engine.",
		}, []string{"engine_id"}),
	}

	if registerer == nil {
		return m, nil
	}

	errs := make([]error, 0)
	var err error

	if m.StepsTotal, err = register(registerer, m.StepsTotal); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "StepsTotal"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.RunsCompletedTotal, err = register(registerer, m.RunsCompletedTotal); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "RunsCompletedTotal"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.VirtualSecondsAdvanced, err = register(registerer, m.VirtualSecondsAdvanced); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "VirtualSecondsAdvanced"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.ComponentFailuresTotal, err = register(registerer, m.ComponentFailuresTotal); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "ComponentFailuresTotal"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.EventsRecordedTotal, err = register(registerer, m.EventsRecordedTotal); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "EventsRecordedTotal"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.StepNotificationDurationMilliseconds, err = register(registerer, m.StepNotificationDurationMilliseconds); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "StepNotificationDurationMilliseconds"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.AccelerationFactor, err = register(registerer, m.AccelerationFactor); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "AccelerationFactor"), zap.Error(err))
		errs = append(errs, err)
	}

	if m.RegisteredComponents, err = register(registerer, m.RegisteredComponents); err != nil {
		m.logger.Error("Failed to register Prometheus metric.", zap.String("metric", "RegisteredComponents"), zap.Error(err))
		errs = append(errs, err)
	}

	return m, errs
}

// register registers the collector, returning the previously-registered collector if an identical one already exists.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) (T, error) {
	err := registerer.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(T); ok {
			return existing, nil
		}
	}

	return collector, err
}

// EngineMetrics holds the metrics of a single engine, with the engine's labels already applied.
type EngineMetrics struct {
	steps          prometheus.Counter
	virtualByStep  prometheus.Counter
	virtualByDelay prometheus.Counter
	stepLatency    prometheus.Observer
}

// ForEngine returns the metrics of the engine with the given ID.
func (m *SimulationMetrics) ForEngine(engineId string) *EngineMetrics {
	return &EngineMetrics{
		steps:          m.StepsTotal.WithLabelValues(engineId),
		virtualByStep:  m.VirtualSecondsAdvanced.WithLabelValues(engineId, "step"),
		virtualByDelay: m.VirtualSecondsAdvanced.WithLabelValues(engineId, "delay"),
		stepLatency:    m.StepNotificationDurationMilliseconds.WithLabelValues(engineId),
	}
}

// ObserveStep records a single completed step.
func (em *EngineMetrics) ObserveStep(step time.Duration, notificationLatency time.Duration) {
	em.steps.Inc()
	em.virtualByStep.Add(step.Seconds())
	em.stepLatency.Observe(float64(notificationLatency) / float64(time.Millisecond))
}

// ObserveDelay records virtual time that was skipped by an accelerated wait.
func (em *EngineMetrics) ObserveDelay(d time.Duration) {
	em.virtualByDelay.Add(d.Seconds())
}
