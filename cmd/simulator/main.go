package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/mgutz/ansi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scusemua/time-simulator/internal/clock"
	"github.com/scusemua/time-simulator/internal/demo"
	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/engine"
	"github.com/scusemua/time-simulator/internal/timeline"
)

const (
	// ConfigEnvironmentVariable names the environment variable (typically set in the .env file) that holds the
	// default path of the YAML configuration file.
	ConfigEnvironmentVariable = "SIMULATOR_CONFIG"

	// ScenarioEnvironmentVariable names the environment variable that holds the default path of the scenario file.
	ScenarioEnvironmentVariable = "SIMULATOR_SCENARIO"

	ProgressInterval = 24 * time.Hour
)

var (
	atom   = zap.NewAtomicLevelAt(zap.InfoLevel)
	logger *zap.Logger
	conf   = domain.DefaultSimulationConfig()

	categoryColors = map[string]string{
		domain.CategorySimulation:   "green+b",
		domain.CategoryRegistration: "cyan",
		domain.CategoryError:        "red+b",
		domain.CategoryDelay:        "magenta",
		demo.CategoryCache:          "yellow",
		demo.CategoryScheduler:      "blue",
	}
)

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run simulations against an accelerated virtual clock",
	Long: `Run simulations against an accelerated virtual clock. ` +
		`Components registered with the simulation are notified each time virtual time advances.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo simulation: a temporal cache and a set of recurring jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := prepareConfig(cmd); err != nil {
			return err
		}

		return run(cmd.Context())
	},
}

func init() {
	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger = zap.New(core, zap.Development()).Named("simulator")

	conf.BindFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func loadEnvironment() {
	environmentFileName := ".development.env"
	if os.Getenv("DEV_ENVIRONMENT") == "production" {
		environmentFileName = ".production.env"
	}

	if err := godotenv.Load(environmentFileName); err != nil {
		logger.Warn("Failed to load environment file.", zap.String("file", environmentFileName), zap.Error(err))
	}
}

// prepareConfig fills in the configuration from the environment and the YAML file, and validates it.
func prepareConfig(cmd *cobra.Command) error {
	loadEnvironment()

	if !cmd.Flags().Changed("yaml") {
		conf.YAML = os.Getenv(ConfigEnvironmentVariable)
	}

	if conf.Scenario == "" {
		conf.Scenario = os.Getenv(ScenarioEnvironmentVariable)
	}

	if err := conf.LoadFileKeepingFlags(cmd.Flags()); err != nil {
		return err
	}

	if conf.Debug || conf.Verbose {
		atom.SetLevel(zap.DebugLevel)
	}

	if err := conf.Validate(); err != nil {
		return err
	}

	logger.Info("Loaded configuration.", zap.String("config", conf.String()))
	return nil
}

func serveMetrics(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		logger.Info("Serving Prometheus metrics.", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed.", zap.Error(err))
		}
	}()

	return srv
}

func loadScenario() (*demo.Scenario, error) {
	if conf.Scenario == "" {
		return demo.DefaultScenario(), nil
	}

	return demo.LoadScenario(conf.Scenario)
}

// reportProgress logs the virtual time once per ProgressInterval of virtual time, until the ticker is stopped.
func reportProgress(ticker *clock.Ticker, realStart time.Time, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case virtualTime := <-ticker.TickDelivery:
			logger.Info(ansi.Color("Simulation progress.", "green"),
				zap.Time("virtual_time", virtualTime),
				zap.Duration("real_time_elapsed", time.Since(realStart)))
		}
	}
}

func run(ctx context.Context) error {
	duration, err := conf.GetDuration()
	if err != nil {
		return err
	}

	builder, err := engine.NewBuilderFromConfig(conf, &atom)
	if err != nil {
		return err
	}

	if conf.MetricsPort > 0 {
		builder.SetMetricsRegisterer(prometheus.DefaultRegisterer)
		srv := serveMetrics(conf.MetricsPort)
		defer func() { _ = srv.Close() }()
	}

	simulationEngine, err := builder.Build()
	if err != nil {
		return err
	}
	defer func() { _ = simulationEngine.Close() }()

	scenario, err := loadScenario()
	if err != nil {
		return err
	}

	simulation, err := scenario.Apply(simulationEngine, &atom)
	if err != nil {
		return err
	}

	ticker := clock.NewTicker(ProgressInterval, simulationEngine.UtcNow())
	if err = simulationEngine.Register(ticker); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// RunFor ends the run, without error, once a signal cancels ctx. The engine is not stopped otherwise.
	done := make(chan struct{})

	realStart := time.Now()
	go reportProgress(ticker, realStart, done)

	virtualStart := simulationEngine.UtcNow()
	logger.Info("Starting simulation.",
		zap.String("scenario", scenario.Name),
		zap.Time("virtual_start", virtualStart),
		zap.Duration("duration", duration),
		zap.Float64("acceleration_factor", simulationEngine.AccelerationFactor()))

	err = simulationEngine.RunFor(ctx, duration)
	ticker.Stop()
	close(done)
	if err != nil {
		return err
	}

	if ctx.Err() != nil {
		logger.Warn("Simulation interrupted by signal.", zap.Time("virtual_time", simulationEngine.UtcNow()))
	}

	printSummary(simulationEngine, simulation, virtualStart, time.Since(realStart))

	if conf.EventsCSV != "" {
		if err = simulationEngine.EventLog().ExportCSV(conf.EventsCSV); err != nil {
			return err
		}

		logger.Info("Exported events.", zap.String("path", conf.EventsCSV), zap.Int("events", simulationEngine.EventLog().Len()))
	}

	return nil
}

func printSummary(simulationEngine *engine.SimulationEngine, simulation *demo.Simulation, virtualStart time.Time, realElapsed time.Duration) {
	fmt.Println()
	fmt.Println(ansi.Color("Cache state:", "white+b"))
	for _, entry := range simulation.Scenario.Cache.Entries {
		if value, ok := simulation.Cache.TryGet(entry.Key); ok {
			fmt.Printf("  %s: %s (%v)\n", entry.Key, ansi.Color("HIT", "green"), value)
		} else {
			fmt.Printf("  %s: %s\n", entry.Key, ansi.Color("MISS (expired)", "red"))
		}
	}

	fmt.Println(ansi.Color("Jobs:", "white+b"))
	for _, job := range simulation.Scheduler.Jobs() {
		fmt.Printf("  %-16s runs=%-4d failures=%-4d next=%s\n",
			job.Name, job.RunCount, job.FailureCount, job.NextRunTime.Format(time.RFC3339))
	}

	stats := simulationEngine.Stats()
	virtualElapsed := simulationEngine.UtcNow().Sub(virtualStart)
	fmt.Println(ansi.Color("Simulation:", "white+b"))
	fmt.Printf("  Virtual time elapsed: %s\n", timeline.FormatDuration(virtualElapsed))
	fmt.Printf("  Real time elapsed:    %s\n", timeline.FormatDuration(realElapsed))
	fmt.Printf("  Steps executed:       %d\n", stats.StepsExecuted)
	fmt.Printf("  Component failures:   %d\n", stats.ComponentFailures)
	fmt.Printf("  Avg step latency:     %v\n", stats.AvgStepNotificationLatency)

	view := timeline.NewTimelineView(simulationEngine.EventLog())
	fmt.Println(ansi.Color("Events by category:", "white+b"))
	counts := view.OrderedCategoryCounts()
	for el := counts.Front(); el != nil; el = el.Next() {
		color, ok := categoryColors[el.Key]
		if !ok {
			color = "white"
		}
		fmt.Printf("  %s %d\n", ansi.Color(fmt.Sprintf("%-14s", el.Key+":"), color), el.Value)
	}

	if conf.PrintTimeline {
		fmt.Println()
		fmt.Println(strings.TrimRight(view.Render(), "\n"))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
