package domain_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/scusemua/time-simulator/internal/domain"
)

var _ = Describe("SimulationConfig Tests", func() {
	It("Will default to five days at 1000x", func() {
		conf := domain.DefaultSimulationConfig()
		Expect(conf.Validate()).To(Succeed())

		d, err := conf.GetDuration()
		Expect(err).To(BeNil())
		Expect(d).To(Equal(5 * 24 * time.Hour))
		Expect(conf.AccelerationFactor).To(Equal(1000.0))

		granularity, err := conf.GetStepGranularity()
		Expect(err).To(BeNil())
		Expect(granularity).To(Equal(time.Second))

		startTime, err := conf.GetStartTime()
		Expect(err).To(BeNil())
		Expect(startTime.IsZero()).To(BeTrue())
	})

	It("Will bind one flag per option", func() {
		conf := domain.DefaultSimulationConfig()
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		conf.BindFlags(flags)

		Expect(flags.Lookup("duration").DefValue).To(Equal("120h"))
		Expect(flags.Lookup("acceleration-factor")).ToNot(BeNil())
		Expect(flags.Lookup("no-record-events")).ToNot(BeNil())

		Expect(flags.Parse([]string{
			"--duration=2h",
			"--acceleration-factor=50",
			"--no-record-events",
			"--metrics-port=9090",
			"--start-time=2024-01-01T00:00:00Z",
		})).To(Succeed())

		Expect(conf.Duration).To(Equal("2h"))
		Expect(conf.AccelerationFactor).To(Equal(50.0))
		Expect(conf.NoRecordEvents).To(BeTrue())
		Expect(conf.MetricsPort).To(Equal(9090))

		startTime, err := conf.GetStartTime()
		Expect(err).To(BeNil())
		Expect(startTime).To(Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("Will let the configuration file override other values", func() {
		dir, err := os.MkdirTemp("", "config")
		Expect(err).To(BeNil())
		DeferCleanup(func() { _ = os.RemoveAll(dir) })

		path := filepath.Join(dir, "simulation.yml")
		Expect(os.WriteFile(path, []byte("duration: 48h\nacceleration-factor: 250\nprint-timeline: true\n"), 0644)).To(Succeed())

		conf := domain.DefaultSimulationConfig()
		conf.YAML = path
		conf.EventsCSV = "events.csv"
		Expect(conf.LoadFile()).To(Succeed())

		Expect(conf.Duration).To(Equal("48h"))
		Expect(conf.AccelerationFactor).To(Equal(250.0))
		Expect(conf.PrintTimeline).To(BeTrue())
		Expect(conf.StepGranularity).To(Equal("1s"))
		Expect(conf.EventsCSV).To(Equal("events.csv"))
	})

	It("Will keep explicitly set flags when loading the configuration file", func() {
		dir, err := os.MkdirTemp("", "config")
		Expect(err).To(BeNil())
		DeferCleanup(func() { _ = os.RemoveAll(dir) })

		path := filepath.Join(dir, "simulation.yml")
		Expect(os.WriteFile(path, []byte("duration: 120h\nacceleration-factor: 1000\nstep-granularity: 1m\n"), 0644)).To(Succeed())

		conf := domain.DefaultSimulationConfig()
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		conf.BindFlags(flags)
		Expect(flags.Parse([]string{"--duration=2h", "--acceleration-factor=50", "--yaml=" + path})).To(Succeed())

		Expect(conf.LoadFileKeepingFlags(flags)).To(Succeed())

		Expect(conf.Duration).To(Equal("2h"))
		Expect(conf.AccelerationFactor).To(Equal(50.0))
		Expect(conf.StepGranularity).To(Equal("1m"))
		Expect(conf.YAML).To(Equal(path))
	})

	It("Will fail to load a missing configuration file", func() {
		conf := domain.DefaultSimulationConfig()
		conf.YAML = filepath.Join(os.TempDir(), "does-not-exist", "simulation.yml")
		Expect(conf.LoadFile()).ToNot(Succeed())
	})

	It("Will report every invalid option", func() {
		conf := domain.DefaultSimulationConfig()
		conf.Duration = "-1h"
		conf.StepGranularity = "often"
		conf.StartTime = "yesterday"
		conf.AccelerationFactor = 0
		conf.MetricsPort = 70000

		err := conf.Validate()
		Expect(errors.Is(err, domain.ErrInvalidConfiguration)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("duration must be positive"))
		Expect(err.Error()).To(ContainSubstring("step granularity"))
		Expect(err.Error()).To(ContainSubstring("start time"))
		Expect(err.Error()).To(ContainSubstring("acceleration factor"))
		Expect(err.Error()).To(ContainSubstring("metrics port"))
	})

	DescribeTable("validating acceleration factors",
		func(factor float64, valid bool) {
			err := domain.ValidateAccelerationFactor(factor)
			if valid {
				Expect(err).To(BeNil())
			} else {
				Expect(errors.Is(err, domain.ErrInvalidArgument)).To(BeTrue())
			}
		},
		Entry("one", 1.0, true),
		Entry("slower than real time", 0.5, true),
		Entry("very fast", 1e9, true),
		Entry("zero", 0.0, false),
		Entry("negative", -2.0, false),
		Entry("NaN", math.NaN(), false),
		Entry("infinity", math.Inf(1), false),
	)
})
