package demo

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/scusemua/time-simulator/internal/domain"
	"github.com/scusemua/time-simulator/internal/engine"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// CacheEntrySpec describes a value placed in the cache when the scenario is applied.
type CacheEntrySpec struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`

	// Expiration is optional. The cache's default expiration is used if it is empty.
	Expiration string `yaml:"expiration"`
}

// JobSpec describes a recurring job.
type JobSpec struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval"`

	// RefreshKey, if non-empty, is (re)written to the cache each time the job runs.
	RefreshKey string `yaml:"refresh-key"`

	// FailEvery makes every n-th run of the job fail. Zero means the job never fails.
	FailEvery int `yaml:"fail-every"`
}

type CacheSpec struct {
	DefaultExpiration string           `yaml:"default-expiration"`
	Entries           []CacheEntrySpec `yaml:"entries"`
}

// Scenario is the YAML description of the demo simulation: a cache with some entries and a set of recurring jobs.
type Scenario struct {
	Name  string    `yaml:"name"`
	Cache CacheSpec `yaml:"cache"`
	Jobs  []JobSpec `yaml:"jobs"`
}

// DefaultScenario returns the built-in demo: a cache with a two-hour default expiration holding a user entry
// and a settings entry, a daily report job, and an hourly cache cleanup job.
func DefaultScenario() *Scenario {
	return &Scenario{
		Name: "default",
		Cache: CacheSpec{
			DefaultExpiration: "2h",
			Entries: []CacheEntrySpec{
				{Key: "user:123", Value: "John Doe"},
				{Key: "settings", Value: "dark-mode", Expiration: "24h"},
			},
		},
		Jobs: []JobSpec{
			{Name: "DailyReport", Interval: "24h"},
			{Name: "CacheCleanup", Interval: "1h"},
		},
	}
}

// LoadScenario reads a scenario from the YAML file at the given path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	scenario := &Scenario{}
	if err = yaml.Unmarshal(data, scenario); err != nil {
		return nil, fmt.Errorf("%w: failed to parse \"%s\": %v", ErrInvalidScenario, path, err)
	}

	if err = scenario.Validate(); err != nil {
		return nil, err
	}

	return scenario, nil
}

func parsePositiveDuration(field string, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", ErrInvalidScenario, field, value, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidScenario, field, d)
	}

	return d, nil
}

// Validate checks every duration and job of the scenario.
func (s *Scenario) Validate() error {
	var errs []error

	if _, err := parsePositiveDuration("cache default expiration", s.Cache.DefaultExpiration); err != nil {
		errs = append(errs, err)
	}

	for _, entry := range s.Cache.Entries {
		if entry.Key == "" {
			errs = append(errs, fmt.Errorf("%w: cache entry with empty key", ErrInvalidScenario))
		}

		if entry.Expiration == "" {
			continue
		}

		if _, err := parsePositiveDuration(fmt.Sprintf("expiration of cache entry \"%s\"", entry.Key), entry.Expiration); err != nil {
			errs = append(errs, err)
		}
	}

	names := make(map[string]struct{}, len(s.Jobs))
	for _, job := range s.Jobs {
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("%w: job with empty name", ErrInvalidScenario))
		} else if _, loaded := names[job.Name]; loaded {
			errs = append(errs, fmt.Errorf("%w: duplicate job \"%s\"", ErrInvalidScenario, job.Name))
		}
		names[job.Name] = struct{}{}

		if _, err := parsePositiveDuration(fmt.Sprintf("interval of job \"%s\"", job.Name), job.Interval); err != nil {
			errs = append(errs, err)
		}

		if job.FailEvery < 0 {
			errs = append(errs, fmt.Errorf("%w: fail-every of job \"%s\" must be non-negative", ErrInvalidScenario, job.Name))
		}
	}

	return errors.Join(errs...)
}

// Simulation holds the components created from a Scenario.
type Simulation struct {
	Scenario  *Scenario
	Cache     *TemporalCache
	Scheduler *ScheduledJobSystem
}

// Apply creates the scenario's components, populates them, and registers them with the engine.
// The cache is registered before the scheduler, so it is notified first on each step.
func (s *Scenario) Apply(simulationEngine *engine.SimulationEngine, atom *zap.AtomicLevel) (*Simulation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	defaultExpiration, _ := time.ParseDuration(s.Cache.DefaultExpiration)

	cache := NewTemporalCache(simulationEngine, defaultExpiration, atom)
	cache.SetEventRecorder(simulationEngine.EventLog())

	for _, entry := range s.Cache.Entries {
		if entry.Expiration == "" {
			cache.Set(entry.Key, entry.Value)
			continue
		}

		expiration, _ := time.ParseDuration(entry.Expiration)
		cache.Set(entry.Key, entry.Value, expiration)
	}

	scheduler := NewScheduledJobSystem(simulationEngine, atom)
	scheduler.SetEventRecorder(simulationEngine.EventLog())

	for _, job := range s.Jobs {
		interval, _ := time.ParseDuration(job.Interval)
		if err := scheduler.ScheduleRecurringJob(job.Name, interval, newJobAction(job, cache)); err != nil {
			return nil, err
		}
	}

	if err := simulationEngine.Register(cache); err != nil {
		return nil, err
	}

	if err := simulationEngine.Register(scheduler); err != nil {
		return nil, err
	}

	return &Simulation{
		Scenario:  s,
		Cache:     cache,
		Scheduler: scheduler,
	}, nil
}

func newJobAction(spec JobSpec, cache *TemporalCache) JobAction {
	runs := 0
	return func(now time.Time) error {
		runs += 1

		if spec.FailEvery > 0 && runs%spec.FailEvery == 0 {
			return fmt.Errorf("job \"%s\" failed on run #%d", spec.Name, runs)
		}

		if spec.RefreshKey != "" {
			cache.Set(spec.RefreshKey, now.Format(time.RFC3339))
		}

		return nil
	}
}

var _ domain.TemporalComponent = (*TemporalCache)(nil)
var _ domain.TemporalComponent = (*ScheduledJobSystem)(nil)
