package timesource_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/engine"
	"github.com/scusemua/time-simulator/internal/timesource"
)

var _ = Describe("TimeSource Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.InfoLevel)

	It("Will default to the real clock", func() {
		ctx := context.Background()

		Expect(timesource.FromContext(ctx)).To(Equal(timesource.Real))
		Expect(timesource.Now(ctx)).To(BeTemporally("~", time.Now(), time.Second))
		Expect(timesource.UtcNow(ctx).Location()).To(Equal(time.UTC))
	})

	It("Will wait for the literal duration when no simulation is active", func() {
		start := time.Now()
		Expect(timesource.Delay(context.Background(), 30*time.Millisecond)).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically(">=", 30*time.Millisecond))
	})

	It("Will honor cancellation of real-time waits", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := timesource.Delay(ctx, time.Hour)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
	})

	It("Will redirect time reads and delays to a simulation carried by the context", func() {
		start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
		simulationEngine, err := engine.NewBuilder(&atom).SetStartTime(start).SetAccelerationFactor(1e6).Build()
		Expect(err).To(BeNil())
		defer simulationEngine.Close()

		ctx := timesource.WithProvider(context.Background(), simulationEngine)
		Expect(timesource.UtcNow(ctx)).To(Equal(start))

		realStart := time.Now()
		Expect(timesource.Delay(ctx, time.Hour)).To(Succeed())
		Expect(time.Since(realStart)).To(BeNumerically("<", time.Second))
		Expect(timesource.UtcNow(ctx)).To(Equal(start.Add(time.Hour)))

		// Other contexts are unaffected.
		Expect(timesource.FromContext(context.Background())).To(Equal(timesource.Real))
	})

	It("Will run a function against a temporary simulation", func() {
		var captured *engine.SimulationEngine

		err := timesource.RunWithVirtualTime(context.Background(), &atom, 1e4, func(ctx context.Context, simulationEngine *engine.SimulationEngine) error {
			captured = simulationEngine
			Expect(timesource.FromContext(ctx)).To(BeIdenticalTo(simulationEngine))

			before := timesource.UtcNow(ctx)
			Expect(timesource.Delay(ctx, time.Minute)).To(Succeed())
			Expect(timesource.UtcNow(ctx)).To(Equal(before.Add(time.Minute)))

			return simulationEngine.RunFor(ctx, 10*time.Minute)
		})
		Expect(err).To(BeNil())
		Expect(captured.IsStopped()).To(BeTrue())
	})

	It("Will reject an invalid acceleration factor", func() {
		called := false
		err := timesource.RunWithVirtualTime(context.Background(), &atom, 0, func(context.Context, *engine.SimulationEngine) error {
			called = true
			return nil
		})

		Expect(errors.Is(err, domain.ErrInvalidArgument)).To(BeTrue())
		Expect(called).To(BeFalse())
	})
})
