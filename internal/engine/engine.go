package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mgutz/ansi"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/event_log"
	"github.com/scusemua/time-simulator/internal/metrics"
	"github.com/scusemua/time-simulator/pkg/statistics"
)

// SimulationEngine drives a VirtualClock forward in discrete steps, notifying every registered
// TemporalComponent after each step and pacing the simulation against real time according to
// its acceleration factor.
//
// A SimulationEngine is created with a Builder. All exported methods are safe for concurrent use.
type SimulationEngine struct {
	id            string
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	clock    *clock.VirtualClock
	trigger  *clock.Trigger
	eventLog *event_log.EventLog
	metrics  *metrics.SimulationMetrics
	observer *metrics.EngineMetrics

	accelerationFactor atomic.Uint64 // math.Float64bits of the factor.
	recordEvents       atomic.Bool
	stepGranularity    time.Duration

	// ctx is cancelled by Stop and Close. Every run observes it in addition to the caller's context.
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   atomic.Bool
	closeOnce sync.Once
	running   atomic.Bool

	// singleRunLock ensures that only one RunFor executes at a time.
	singleRunLock sync.Mutex

	stepNotificationDurations *statistics.MovingStat
	stepsExecuted             atomic.Int64
	runsCompleted             atomic.Int64
	componentFailures         atomic.Int64
	delaysPerformed           atomic.Int64
}

// EngineStats is a snapshot of an engine's counters.
type EngineStats struct {
	StepsExecuted                 int64         `json:"steps_executed"`
	RunsCompleted                 int64         `json:"runs_completed"`
	ComponentFailures             int64         `json:"component_failures"`
	DelaysPerformed               int64         `json:"delays_performed"`
	VirtualTimeElapsed            time.Duration `json:"virtual_time_elapsed"`
	AvgStepNotificationLatency    time.Duration `json:"avg_step_notification_latency"`
	StdDevStepNotificationLatency time.Duration `json:"std_dev_step_notification_latency"`
}

func (e *SimulationEngine) ID() string {
	return e.id
}

// Clock returns the engine's virtual clock.
func (e *SimulationEngine) Clock() *clock.VirtualClock {
	return e.clock
}

// EventLog returns the engine's event log.
func (e *SimulationEngine) EventLog() *event_log.EventLog {
	return e.eventLog
}

// Now returns the current virtual time in the local time zone.
func (e *SimulationEngine) Now() time.Time {
	return e.clock.Now()
}

// UtcNow returns the current virtual time in UTC.
func (e *SimulationEngine) UtcNow() time.Time {
	return e.clock.UtcNow()
}

func (e *SimulationEngine) AccelerationFactor() float64 {
	return math.Float64frombits(e.accelerationFactor.Load())
}

func (e *SimulationEngine) storeAccelerationFactor(factor float64) {
	e.accelerationFactor.Store(math.Float64bits(factor))
	e.metrics.AccelerationFactor.WithLabelValues(e.id).Set(factor)
}

// SetAccelerationFactor changes the ratio of virtual time to real time.
// The new factor applies to subsequent steps of an in-progress run and to subsequent delays.
func (e *SimulationEngine) SetAccelerationFactor(factor float64) error {
	if err := domain.ValidateAccelerationFactor(factor); err != nil {
		return err
	}

	e.storeAccelerationFactor(factor)
	e.sugaredLogger.Debugf("Updated acceleration factor to %vx.", factor)
	return nil
}

func (e *SimulationEngine) RecordEvents() bool {
	return e.recordEvents.Load()
}

// SetRecordEvents enables or disables event recording. When disabled, no new events are recorded
// but existing ones are retained.
func (e *SimulationEngine) SetRecordEvents(enabled bool) {
	e.recordEvents.Store(enabled)
}

func (e *SimulationEngine) StepGranularity() time.Duration {
	return e.stepGranularity
}

// ComponentCount returns the number of component registrations.
func (e *SimulationEngine) ComponentCount() int {
	return e.trigger.Len()
}

// IsRunning returns true while a call to RunFor is in progress.
func (e *SimulationEngine) IsRunning() bool {
	return e.running.Load()
}

// IsStopped returns true once Stop or Close has been called.
func (e *SimulationEngine) IsStopped() bool {
	return e.stopped.Load()
}

func (e *SimulationEngine) Stats() EngineStats {
	return EngineStats{
		StepsExecuted:                 e.stepsExecuted.Load(),
		RunsCompleted:                 e.runsCompleted.Load(),
		ComponentFailures:             e.componentFailures.Load(),
		DelaysPerformed:               e.delaysPerformed.Load(),
		VirtualTimeElapsed:            e.clock.Offset(),
		AvgStepNotificationLatency:    statistics.MillisecondsToDuration(e.stepNotificationDurations.Avg()),
		StdDevStepNotificationLatency: statistics.MillisecondsToDuration(e.stepNotificationDurations.SampleStandardDeviation()),
	}
}

// recordEvent records an event if event recording is enabled.
func (e *SimulationEngine) recordEvent(name string, category string, data interface{}) {
	if !e.recordEvents.Load() {
		return
	}

	if _, err := e.eventLog.Record(name, category, data); err != nil {
		e.logger.Error("Failed to record event.", zap.String("event_name", name), zap.String("category", category), zap.Error(err))
		return
	}

	e.metrics.EventsRecordedTotal.WithLabelValues(e.id, category).Inc()
}

// Register adds a component to the end of the notification order.
// Registering the same component more than once results in it being notified once per registration.
func (e *SimulationEngine) Register(component domain.TemporalComponent) error {
	if domain.IsNilComponent(component) {
		return fmt.Errorf("%w: cannot register a nil component", domain.ErrInvalidArgument)
	}

	registrationId := e.trigger.AddHandler(component)
	componentType := domain.ComponentTypeName(component)

	e.metrics.RegisteredComponents.WithLabelValues(e.id).Set(float64(e.trigger.Len()))
	e.logger.Debug("Registered temporal component.",
		zap.String("component_type", componentType),
		zap.String("registration_id", registrationId),
		zap.Int("num_components", e.trigger.Len()))

	e.recordEvent(fmt.Sprintf("Component registered: %s", componentType), domain.CategoryRegistration, domain.RegistrationPayload{
		ComponentType:  componentType,
		RegistrationId: registrationId,
		Component:      component,
	})

	return nil
}

// RunFor advances the clock by the given amount of virtual time in steps of (approximately) the engine's
// step granularity, notifying every registered component after each step.
//
// The final step absorbs the rounding remainder, so that an uninterrupted run advances the clock by
// exactly `duration`. Between steps, the run sleeps so that virtual time progresses at
// AccelerationFactor() times the speed of real time.
//
// RunFor returns nil when the run completes, and also when it is cut short by Stop, Close or the
// cancellation of ctx. A non-positive duration, or one that would overflow the clock, is rejected
// with an error wrapping domain.ErrInvalidArgument. Concurrent calls are serialized.
func (e *SimulationEngine) RunFor(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("%w: simulation duration must be positive, got %v", domain.ErrInvalidArgument, duration)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	if !e.clock.CanAdvance(duration) {
		return fmt.Errorf("%w: simulating %v would overflow the clock", domain.ErrInvalidArgument, duration)
	}

	e.running.Store(true)
	defer e.running.Store(false)

	numSteps := int64(duration / e.stepGranularity)
	if numSteps < 1 {
		numSteps = 1
	}
	stepSize := duration / time.Duration(numSteps)
	remainder := duration - stepSize*time.Duration(numSteps)

	e.logger.Debug("Starting simulation run.",
		zap.Duration("duration", duration),
		zap.Int64("num_steps", numSteps),
		zap.Duration("step_size", stepSize),
		zap.Duration("final_step_remainder", remainder),
		zap.Float64("acceleration_factor", e.AccelerationFactor()),
		zap.Int("num_components", e.trigger.Len()))

	e.recordEvent("Simulation started", domain.CategorySimulation, map[string]interface{}{
		"duration":  duration.String(),
		"num_steps": numSteps,
	})

	var (
		stepsThisRun   int64
		virtualElapsed time.Duration
		runErr         error
		interrupted    bool
	)

	pacer := newPacer(e.AccelerationFactor())
	defer pacer.release()

	for step := int64(0); step < numSteps; step++ {
		if e.ctx.Err() != nil || ctx.Err() != nil {
			interrupted = true
			break
		}

		stepDuration := stepSize
		if step == numSteps-1 {
			stepDuration += remainder
		}

		notifyStart := time.Now()
		newTime, err := e.clock.IncrementClockBy(stepDuration)
		if err != nil {
			// Only reachable if concurrent delays pushed the clock to its limit.
			e.logger.Error("Failed to advance virtual clock.", zap.Int64("step", step), zap.Error(err))
			runErr = err
			break
		}

		if e.logger.Core().Enabled(zapcore.DebugLevel) {
			e.logger.Debug(ansi.Color(fmt.Sprintf("Issuing step %d/%d: %v", step+1, numSteps, newTime), "blue"),
				zap.Duration("step_duration", stepDuration))
		}

		for _, failure := range e.trigger.Trigger(newTime, stepDuration) {
			e.handleComponentFailure(failure)
		}

		notificationLatency := time.Since(notifyStart)
		virtualElapsed += stepDuration
		stepsThisRun += 1
		e.stepsExecuted.Add(1)
		e.observer.ObserveStep(stepDuration, notificationLatency)

		accelerationFactor := e.AccelerationFactor()
		e.checkForLongStep(step, notificationLatency, RealDuration(stepDuration, accelerationFactor))
		e.stepNotificationDurations.AddDuration(notificationLatency)

		if pacer.pace(ctx, e.ctx.Done(), virtualElapsed, accelerationFactor) {
			interrupted = true
			break
		}
	}

	stoppedEarly := interrupted || runErr != nil
	e.runsCompleted.Add(1)
	e.metrics.RunsCompletedTotal.WithLabelValues(e.id, strconv.FormatBool(stoppedEarly)).Inc()

	e.recordEvent("Simulation completed", domain.CategorySimulation, map[string]interface{}{
		"stopped":         stoppedEarly,
		"steps_executed":  stepsThisRun,
		"virtual_elapsed": virtualElapsed.String(),
	})

	e.logger.Debug("Simulation run finished.",
		zap.Int64("steps_executed", stepsThisRun),
		zap.Int64("steps_planned", numSteps),
		zap.Duration("virtual_elapsed", virtualElapsed),
		zap.Bool("stopped_early", stoppedEarly))

	// Cancellation is not a failure; callers that need to tell the two apart can inspect their own context.
	return runErr
}

func (e *SimulationEngine) handleComponentFailure(failure *domain.ComponentNotificationError) {
	e.componentFailures.Add(1)
	e.metrics.ComponentFailuresTotal.WithLabelValues(e.id, failure.ComponentType).Inc()

	e.logger.Warn("Temporal component failed to process time advancement.",
		zap.String("component_type", failure.ComponentType),
		zap.String("registration_id", failure.RegistrationId),
		zap.Time("virtual_time", failure.Time),
		zap.Bool("panicked", errors.Is(failure, domain.ErrComponentPanicked)),
		zap.Error(failure.Err))

	e.recordEvent(fmt.Sprintf("Component error: %s", failure.ComponentType), domain.CategoryError, domain.ComponentErrorPayload{
		ComponentType:  failure.ComponentType,
		RegistrationId: failure.RegistrationId,
		Message:        failure.Err.Error(),
	})
}

// checkForLongStep checks if notifying the components of the last step took notably longer than usual.
// A step is only reported when it also exceeded its real-time budget, as otherwise the pacing absorbs it.
func (e *SimulationEngine) checkForLongStep(step int64, latency time.Duration, budget time.Duration) {
	if latency <= budget {
		return
	}

	// If there's at least minN step durations in the window, then we'll check if the last step was unusually long.
	minN := math.Min(float64(e.stepNotificationDurations.Window()), 3)
	if e.stepNotificationDurations.N() < int64(minN) {
		return // Insufficient entries for a meaningful comparison
	}

	latencyMs := statistics.DurationToMilliseconds(latency)
	avgMs := e.stepNotificationDurations.Avg()

	if latencyMs.GreaterThanOrEqual(avgMs.Mul(decimal.NewFromFloat(1.5))) {
		e.logger.Warn("Last step took longer than expected.",
			zap.Int64("step", step),
			zap.String("step_notification_ms", latencyMs.StringFixed(4)),
			zap.String("avg_step_notification_ms", avgMs.StringFixed(4)),
			zap.String("sample_std_dev_step_notification_ms", e.stepNotificationDurations.SampleStandardDeviation().StringFixed(4)),
			zap.Duration("real_time_budget", budget),
			zap.Int64("moving_avg_window_size", e.stepNotificationDurations.Window()))
	}
}

// Stop cancels the current run (if any) and every future run. Stop is idempotent.
func (e *SimulationEngine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	e.cancel()
	e.logger.Info("Simulation stopped.")
	e.recordEvent("Simulation stopped", domain.CategorySimulation, nil)
}

// Close stops the engine and releases its resources. Close is idempotent and always returns nil.
func (e *SimulationEngine) Close() error {
	e.closeOnce.Do(func() {
		e.stopped.Store(true)
		e.cancel()
		e.logger.Debug("Closed simulation engine.", zap.Int64("steps_executed", e.stepsExecuted.Load()))
	})

	return nil
}

func (e *SimulationEngine) String() string {
	return fmt.Sprintf("SimulationEngine[id=%s, now=%v, accelerationFactor=%v, components=%d, stopped=%v]",
		e.id, e.clock.UtcNow(), e.AccelerationFactor(), e.trigger.Len(), e.stopped.Load())
}

// RealDuration returns the amount of real time that corresponds to the given amount of virtual time at the
// given acceleration factor. The result saturates at math.MaxInt64 nanoseconds.
func RealDuration(virtual time.Duration, accelerationFactor float64) time.Duration {
	if virtual <= 0 {
		return 0
	}

	q := float64(virtual) / accelerationFactor
	if q >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(q)
}

// pacer keeps a run in step with real time. It tracks a real-time deadline for the virtual time
// elapsed so far, rather than sleeping a fixed amount per step, so that per-step overhead does not accumulate.
type pacer struct {
	timer              *time.Timer
	anchorReal         time.Time
	anchorVirtual      time.Duration
	accelerationFactor float64
}

func newPacer(accelerationFactor float64) *pacer {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	return &pacer{
		timer:              timer,
		anchorReal:         time.Now(),
		accelerationFactor: accelerationFactor,
	}
}

// pace blocks until real time catches up with the given amount of elapsed virtual time.
// It returns true if the wait was interrupted by ctx or stop.
func (p *pacer) pace(ctx context.Context, stop <-chan struct{}, virtualElapsed time.Duration, accelerationFactor float64) bool {
	if accelerationFactor != p.accelerationFactor {
		p.anchorReal = time.Now()
		p.anchorVirtual = virtualElapsed
		p.accelerationFactor = accelerationFactor
	}

	deadline := p.anchorReal.Add(RealDuration(virtualElapsed-p.anchorVirtual, p.accelerationFactor))
	if !time.Now().Before(deadline) {
		// Already behind schedule. Yield rather than sleep so that other goroutines can make progress.
		runtime.Gosched()
		return false
	}

	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return false
		}

		p.timer.Reset(wait)
		select {
		case <-p.timer.C:
			// The value may be stale from an earlier interrupted wait; the deadline is re-checked.
		case <-ctx.Done():
			p.timer.Stop()
			return true
		case <-stop:
			p.timer.Stop()
			return true
		}
	}
}

func (p *pacer) release() {
	p.timer.Stop()
}
