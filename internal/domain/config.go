package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	configKit "github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"
	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
)

const (
	OptionName = "name"
	OptionDesc = "description"

	DefaultAccelerationFactor = 1.0
	DefaultStepGranularity    = 10 * time.Millisecond
)

// SimulationConfig holds every option of the simulator CLI.
//
// The `name` tag is used both as the command-line flag name and as the key within the YAML configuration file.
// Durations are stored as strings and parsed with time.ParseDuration so that they can be written naturally
// in either place (e.g., "120h" or "10ms").
type SimulationConfig struct {
	YAML               string  `name:"yaml" description:"Path to config file in the yml format."`
	Scenario           string  `name:"scenario" description:"Path to a scenario file (yml) describing the cache entries and recurring jobs of the demo simulation."`
	Duration           string  `name:"duration" description:"Total amount of virtual time to simulate, e.g. '120h'."`
	AccelerationFactor float64 `name:"acceleration-factor" description:"Ratio of virtual time to real time. Must be strictly positive."`
	StepGranularity    string  `name:"step-granularity" description:"Nominal amount of virtual time covered by each simulation step, e.g. '10ms'."`
	StartTime          string  `name:"start-time" description:"Virtual start time in RFC3339 format. Defaults to the current wall-clock time."`
	NoRecordEvents     bool    `name:"no-record-events" description:"Disable recording of simulation events."`
	PrintTimeline      bool    `name:"print-timeline" description:"Print the full event timeline once the simulation completes."`
	EventsCSV          string  `name:"events-csv" description:"Path of a CSV file to which all recorded events are exported."`
	MetricsPort        int     `name:"metrics-port" description:"Port on which Prometheus metrics are served. Set to 0 to disable."`
	Debug              bool    `name:"debug" description:"Display debug logs."`
	Verbose            bool    `name:"v" description:"Display verbose logs."`
}

// DefaultSimulationConfig returns the configuration of the demo: five virtual days at 1000x, in one-second steps.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Duration:           "120h",
		AccelerationFactor: 1000,
		StepGranularity:    "1s",
	}
}

// BindFlags registers one flag per tagged field of the configuration on the given flag set.
// The current value of each field becomes the default value of the corresponding flag.
func (opts *SimulationConfig) BindFlags(flags *pflag.FlagSet) {
	oType := reflect.TypeOf(opts).Elem()
	oVal := reflect.ValueOf(opts).Elem()
	numField := oType.NumField()
	for i := 0; i < numField; i++ {
		field := oType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name := field.Tag.Get(OptionName)
		if name == "" {
			continue
		}
		desc := field.Tag.Get(OptionDesc)
		opt := oVal.Field(i)
		switch field.Type.Kind() {
		case reflect.Bool:
			flags.BoolVar(opt.Addr().Interface().(*bool), name, opt.Bool(), desc)
		case reflect.Int:
			flags.IntVar(opt.Addr().Interface().(*int), name, int(opt.Int()), desc)
		case reflect.Int64:
			flags.Int64Var(opt.Addr().Interface().(*int64), name, opt.Int(), desc)
		case reflect.Float64:
			flags.Float64Var(opt.Addr().Interface().(*float64), name, opt.Float(), desc)
		case reflect.String:
			flags.StringVar(opt.Addr().Interface().(*string), name, opt.String(), desc)
		default:
			panic(fmt.Errorf("unsupported config type: %v", field.Type.Kind()))
		}
	}
}

// LoadFile merges the YAML file named by the `yaml` option into the configuration.
// Non-zero values found in the file take precedence over the values already present.
func (opts *SimulationConfig) LoadFile() error {
	if opts.YAML == "" {
		return nil
	}

	kit := configKit.NewWithOptions("simulation", func(opt *configKit.Options) {
		opt.TagName = OptionName
		// No TagName will be applied by configKit if DecoderConfig is nil.
		opt.DecoderConfig = &mapstructure.DecoderConfig{}
	})
	kit.AddDriver(yaml.Driver)

	if err := kit.LoadFiles(opts.YAML); err != nil {
		return fmt.Errorf("failed to load configuration file %q: %w", opts.YAML, err)
	}

	fileOpts := &SimulationConfig{}
	if err := kit.BindStruct("", fileOpts); err != nil {
		return fmt.Errorf("failed to decode configuration file %q: %w", opts.YAML, err)
	}

	return mergo.Merge(opts, fileOpts, mergo.WithOverride)
}

// LoadFileKeepingFlags is like LoadFile, except that options explicitly set on the given flag set
// keep their command-line values instead of being overridden by the file.
func (opts *SimulationConfig) LoadFileKeepingFlags(flags *pflag.FlagSet) error {
	explicit := *opts

	if err := opts.LoadFile(); err != nil {
		return err
	}

	oType := reflect.TypeOf(opts).Elem()
	oVal := reflect.ValueOf(opts).Elem()
	explicitVal := reflect.ValueOf(&explicit).Elem()
	for i := 0; i < oType.NumField(); i++ {
		name := oType.Field(i).Tag.Get(OptionName)
		if name == "" || !flags.Changed(name) {
			continue
		}

		oVal.Field(i).Set(explicitVal.Field(i))
	}

	return nil
}

// GetDuration returns the total amount of virtual time to simulate.
func (opts *SimulationConfig) GetDuration() (time.Duration, error) {
	d, err := time.ParseDuration(opts.Duration)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q: %v", ErrInvalidConfiguration, opts.Duration, err)
	}

	return d, nil
}

// GetStepGranularity returns the nominal step size, falling back to DefaultStepGranularity when unset.
func (opts *SimulationConfig) GetStepGranularity() (time.Duration, error) {
	if opts.StepGranularity == "" {
		return DefaultStepGranularity, nil
	}

	d, err := time.ParseDuration(opts.StepGranularity)
	if err != nil {
		return 0, fmt.Errorf("%w: step granularity %q: %v", ErrInvalidConfiguration, opts.StepGranularity, err)
	}

	return d, nil
}

// GetStartTime returns the configured virtual start time, or the zero time if none was configured.
func (opts *SimulationConfig) GetStartTime() (time.Time, error) {
	if opts.StartTime == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, opts.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start time %q: %v", ErrInvalidConfiguration, opts.StartTime, err)
	}

	return t, nil
}

// Validate checks every option and returns all problems found, joined into a single error.
func (opts *SimulationConfig) Validate() error {
	var errs []error

	if d, err := opts.GetDuration(); err != nil {
		errs = append(errs, err)
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("%w: duration must be positive, got %v", ErrInvalidConfiguration, d))
	}

	if d, err := opts.GetStepGranularity(); err != nil {
		errs = append(errs, err)
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("%w: step granularity must be positive, got %v", ErrInvalidConfiguration, d))
	}

	if _, err := opts.GetStartTime(); err != nil {
		errs = append(errs, err)
	}

	if err := ValidateAccelerationFactor(opts.AccelerationFactor); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err))
	}

	if opts.MetricsPort < 0 || opts.MetricsPort > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("%w: invalid metrics port %d", ErrInvalidConfiguration, opts.MetricsPort))
	}

	return errors.Join(errs...)
}

func (opts *SimulationConfig) String() string {
	out, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(out)
}

// ValidateAccelerationFactor returns an error wrapping ErrInvalidArgument if the factor is not a finite, strictly positive number.
func ValidateAccelerationFactor(factor float64) error {
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor <= 0 {
		return fmt.Errorf("%w: acceleration factor must be a finite positive number, got %v", ErrInvalidArgument, factor)
	}

	return nil
}
