// Package timesource lets application code read the time and wait without knowing whether it is running
// against the wall clock or inside a simulation. The active Provider travels in a context.Context.
package timesource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/engine"
)

// Provider is a source of time that can also perform (possibly accelerated) waits.
// *engine.SimulationEngine is a Provider.
type Provider interface {
	domain.TimeProvider
	domain.DelayProvider
}

type providerKey struct{}

// Real is the Provider backed by the wall clock. Its Delay waits for the literal duration.
var Real Provider = realProvider{}

type realProvider struct {
	clock.RealClock
}

func (realProvider) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithProvider returns a copy of ctx that carries the given Provider.
func WithProvider(ctx context.Context, provider Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, provider)
}

// FromContext returns the Provider carried by ctx, or Real if there is none.
func FromContext(ctx context.Context) Provider {
	if ctx != nil {
		if provider, ok := ctx.Value(providerKey{}).(Provider); ok && provider != nil {
			return provider
		}
	}

	return Real
}

// Now returns the current time according to the Provider carried by ctx.
func Now(ctx context.Context) time.Time {
	return FromContext(ctx).Now()
}

// UtcNow returns the current UTC time according to the Provider carried by ctx.
func UtcNow(ctx context.Context) time.Time {
	return FromContext(ctx).UtcNow()
}

// Delay waits for d according to the Provider carried by ctx.
func Delay(ctx context.Context, d time.Duration) error {
	return FromContext(ctx).Delay(ctx, d)
}

// RunWithVirtualTime creates a simulation engine with the given acceleration factor, makes it the
// Provider of the context passed to fn, and closes the engine once fn returns.
func RunWithVirtualTime(ctx context.Context, atom *zap.AtomicLevel, accelerationFactor float64,
	fn func(ctx context.Context, simulationEngine *engine.SimulationEngine) error) error {

	simulationEngine, err := engine.NewBuilder(atom).
		SetAccelerationFactor(accelerationFactor).
		Build()
	if err != nil {
		return err
	}
	defer simulationEngine.Close()

	return fn(WithProvider(ctx, simulationEngine), simulationEngine)
}
