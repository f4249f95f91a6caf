package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/scusemua/time-simulator/internal/metrics"
)

var _ = Describe("SimulationMetrics Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.InfoLevel)

	It("Will create unregistered metrics when no registerer is given", func() {
		m, errs := metrics.NewSimulationMetrics(nil, &atom)
		Expect(errs).To(BeEmpty())
		Expect(m).ToNot(BeNil())

		m.ForEngine("engine").ObserveStep(time.Second, time.Millisecond)
		Expect(testutil.ToFloat64(m.StepsTotal.WithLabelValues("engine"))).To(Equal(1.0))
	})

	It("Will reuse collectors that are already registered", func() {
		registry := prometheus.NewRegistry()

		first, errs := metrics.NewSimulationMetrics(registry, &atom)
		Expect(errs).To(BeEmpty())
		second, errs := metrics.NewSimulationMetrics(registry, &atom)
		Expect(errs).To(BeEmpty())

		Expect(second.StepsTotal).To(BeIdenticalTo(first.StepsTotal))

		first.ForEngine("a").ObserveStep(time.Minute, time.Millisecond)
		second.ForEngine("b").ObserveStep(time.Minute, time.Millisecond)
		second.ForEngine("b").ObserveDelay(30 * time.Second)

		Expect(testutil.ToFloat64(first.StepsTotal.WithLabelValues("a"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(first.StepsTotal.WithLabelValues("b"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(first.VirtualSecondsAdvanced.WithLabelValues("b", "step"))).To(Equal(60.0))
		Expect(testutil.ToFloat64(first.VirtualSecondsAdvanced.WithLabelValues("b", "delay"))).To(Equal(30.0))

		count, err := testutil.GatherAndCount(registry, "time_simulator_engine_steps_total")
		Expect(err).To(BeNil())
		Expect(count).To(Equal(2))
	})
})
