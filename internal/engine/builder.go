package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/event_log"
	"github.com/scusemua/time-simulator/internal/metrics"
	"github.com/scusemua/time-simulator/pkg/statistics"
)

const (
	// StepDurationWindowSize is the number of recent steps over which step statistics are computed.
	StepDurationWindowSize = 100
)

// Builder is the builder for the SimulationEngine struct.
type Builder struct {
	id                 string
	startTime          time.Time
	accelerationFactor float64
	recordEvents       bool
	stepGranularity    time.Duration
	registerer         prometheus.Registerer
	atom               *zap.AtomicLevel
}

// NewBuilder creates a new Builder instance.
func NewBuilder(atom *zap.AtomicLevel) *Builder {
	return &Builder{
		atom:               atom,
		accelerationFactor: domain.DefaultAccelerationFactor,
		recordEvents:       true,
		stepGranularity:    domain.DefaultStepGranularity,
	}
}

// NewBuilderFromConfig creates a new Builder instance populated from the given configuration.
func NewBuilderFromConfig(cfg *domain.SimulationConfig, atom *zap.AtomicLevel) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	startTime, err := cfg.GetStartTime()
	if err != nil {
		return nil, err
	}

	granularity, err := cfg.GetStepGranularity()
	if err != nil {
		return nil, err
	}

	return NewBuilder(atom).
		SetStartTime(startTime).
		SetAccelerationFactor(cfg.AccelerationFactor).
		SetStepGranularity(granularity).
		SetRecordEvents(!cfg.NoRecordEvents), nil
}

// SetID sets the ID of the engine. A random ID is generated if none is set.
func (b *Builder) SetID(id string) *Builder {
	b.id = id
	return b
}

// SetStartTime sets the virtual time at which the engine's clock starts.
// The zero time (the default) means the current wall-clock time.
func (b *Builder) SetStartTime(startTime time.Time) *Builder {
	b.startTime = startTime
	return b
}

// SetAccelerationFactor sets the ratio of virtual time to real time.
func (b *Builder) SetAccelerationFactor(factor float64) *Builder {
	b.accelerationFactor = factor
	return b
}

// SetRecordEvents enables or disables event recording.
func (b *Builder) SetRecordEvents(enabled bool) *Builder {
	b.recordEvents = enabled
	return b
}

// SetStepGranularity sets the nominal amount of virtual time covered by a single step.
func (b *Builder) SetStepGranularity(granularity time.Duration) *Builder {
	b.stepGranularity = granularity
	return b
}

// SetMetricsRegisterer sets the Prometheus registerer with which the engine's metrics are registered.
// If no registerer is set, metrics are still maintained but are not exported.
func (b *Builder) SetMetricsRegisterer(registerer prometheus.Registerer) *Builder {
	b.registerer = registerer
	return b
}

// Build creates a SimulationEngine instance with the specified values.
func (b *Builder) Build() (*SimulationEngine, error) {
	if err := domain.ValidateAccelerationFactor(b.accelerationFactor); err != nil {
		return nil, err
	}

	if b.stepGranularity <= 0 {
		return nil, fmt.Errorf("%w: step granularity must be positive, got %v", domain.ErrInvalidArgument, b.stepGranularity)
	}

	atom := b.atom
	if atom == nil {
		defaultAtom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
		atom = &defaultAtom
	}

	id := b.id
	if id == "" {
		id = uuid.NewString()
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for simulation engine")
	}
	logger = logger.With(zap.String("engine_id", id))

	simulationMetrics, errs := metrics.NewSimulationMetrics(b.registerer, atom)
	if len(errs) > 0 {
		logger.Warn("Some simulation metrics could not be registered.", zap.Int("num_errors", len(errs)))
	}

	virtualClock := clock.NewVirtualClock(b.startTime)

	ctx, cancel := context.WithCancel(context.Background())
	engine := &SimulationEngine{
		id:                        id,
		logger:                    logger,
		sugaredLogger:             logger.Sugar(),
		clock:                     virtualClock,
		trigger:                   clock.NewTrigger(),
		eventLog:                  event_log.NewEventLog(virtualClock),
		metrics:                   simulationMetrics,
		observer:                  simulationMetrics.ForEngine(id),
		stepGranularity:           b.stepGranularity,
		ctx:                       ctx,
		cancel:                    cancel,
		stepNotificationDurations: statistics.NewMovingStat(StepDurationWindowSize),
	}

	engine.storeAccelerationFactor(b.accelerationFactor)
	engine.recordEvents.Store(b.recordEvents)

	engine.logger.Debug("Created simulation engine.",
		zap.Time("start_time", virtualClock.UtcNow()),
		zap.Float64("acceleration_factor", b.accelerationFactor),
		zap.Duration("step_granularity", b.stepGranularity),
		zap.Bool("record_events", b.recordEvents))

	return engine, nil
}

// NewSimulationEngineFromConfig creates a SimulationEngine from the given configuration.
func NewSimulationEngineFromConfig(cfg *domain.SimulationConfig, atom *zap.AtomicLevel) (*SimulationEngine, error) {
	builder, err := NewBuilderFromConfig(cfg, atom)
	if err != nil {
		return nil, err
	}

	return builder.Build()
}
