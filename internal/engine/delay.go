package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scusemua/time-simulator/internal/domain"
)

// Delay is an accelerated wait. It advances the engine's clock by d immediately, records a "Delay" event,
// and then blocks for d / AccelerationFactor() of real time.
//
// Delay may be called concurrently with RunFor; the clock advances are simply additive. It returns
// ctx.Err() if the context is cancelled during the real-time wait, in which case the virtual time has
// already been consumed. Once the engine has been stopped, Delay still advances the clock but returns
// without waiting.
func (e *SimulationEngine) Delay(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: cannot delay for negative duration %v", domain.ErrInvalidArgument, d)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	newTime, err := e.clock.IncrementClockBy(d)
	if err != nil {
		return err
	}

	e.delaysPerformed.Add(1)
	e.observer.ObserveDelay(d)
	e.recordEvent(fmt.Sprintf("Delay: %v", d), domain.CategoryDelay, map[string]interface{}{
		"duration": d.String(),
	})

	realWait := RealDuration(d, e.AccelerationFactor())
	e.logger.Debug("Accelerated delay.",
		zap.Duration("virtual_duration", d),
		zap.Duration("real_duration", realWait),
		zap.Time("virtual_time", newTime))

	if realWait <= 0 {
		return nil
	}

	timer := time.NewTimer(realWait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-e.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DelayAsync runs Delay in a new goroutine. The returned channel receives Delay's result and is then closed.
func (e *SimulationEngine) DelayAsync(ctx context.Context, d time.Duration) <-chan error {
	result := make(chan error, 1)

	go func() {
		defer close(result)
		result <- e.Delay(ctx, d)
	}()

	return result
}
