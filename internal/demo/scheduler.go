package demo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/scusemua/time-simulator/internal/domain"
)

const CategoryScheduler = "Scheduler"

var (
	ErrDuplicateJob = errors.New("a job with the same name is already scheduled")
	ErrJobPanicked  = errors.New("scheduled job panicked")
)

// JobAction is the work performed by a scheduled job. It is passed the virtual time at which it runs.
type JobAction func(now time.Time) error

// ScheduledJob describes a recurring job and its history.
type ScheduledJob struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	NextRunTime  time.Time     `json:"next_run_time"`
	LastRunTime  time.Time     `json:"last_run_time"`
	RunCount     int           `json:"run_count"`
	FailureCount int           `json:"failure_count"`
	LastError    string        `json:"last_error,omitempty"`

	action JobAction
}

// ScheduledJobSystem runs recurring jobs as (virtual) time advances.
//
// A job is due once its next run time is at or before the current time. After running, successfully or not,
// it is rescheduled one interval after the time at which it ran. Jobs run in the order they were scheduled,
// and a job that fails or panics does not affect the other jobs.
type ScheduledJobSystem struct {
	mu     sync.Mutex
	logger *zap.Logger

	jobs         *orderedmap.OrderedMap[string, *ScheduledJob]
	timeProvider domain.TimeProvider
	recorder     EventRecorder
}

func NewScheduledJobSystem(timeProvider domain.TimeProvider, atom *zap.AtomicLevel) *ScheduledJobSystem {
	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	logger := zap.New(core, zap.Development())
	if logger == nil {
		panic("failed to create logger for scheduled job system")
	}

	return &ScheduledJobSystem{
		logger:       logger.Named("scheduler"),
		jobs:         orderedmap.NewOrderedMap[string, *ScheduledJob](),
		timeProvider: timeProvider,
	}
}

// SetEventRecorder makes the scheduler record an event each time a job runs.
func (s *ScheduledJobSystem) SetEventRecorder(recorder EventRecorder) {
	s.recorder = recorder
}

// ScheduleRecurringJob schedules a job to first run one interval from now, and every interval thereafter.
func (s *ScheduledJobSystem) ScheduleRecurringJob(name string, interval time.Duration, action JobAction) error {
	if name == "" {
		return fmt.Errorf("%w: job name must be non-empty", domain.ErrInvalidArgument)
	}

	if interval <= 0 {
		return fmt.Errorf("%w: job interval must be positive, got %v", domain.ErrInvalidArgument, interval)
	}

	if action == nil {
		return fmt.Errorf("%w: job action must be non-nil", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := s.jobs.Get(name); loaded {
		return fmt.Errorf("%w: \"%s\"", ErrDuplicateJob, name)
	}

	job := &ScheduledJob{
		Name:        name,
		Interval:    interval,
		NextRunTime: s.timeProvider.UtcNow().Add(interval),
		action:      action,
	}
	s.jobs.Set(name, job)

	s.logger.Debug("Scheduled recurring job.",
		zap.String("job", name),
		zap.Duration("interval", interval),
		zap.Time("next_run_time", job.NextRunTime))

	return nil
}

// Jobs returns a copy of every scheduled job, in the order in which they were scheduled.
func (s *ScheduledJobSystem) Jobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]ScheduledJob, 0, s.jobs.Len())
	for el := s.jobs.Front(); el != nil; el = el.Next() {
		jobs = append(jobs, *el.Value)
	}

	return jobs
}

// Job returns a copy of the job with the given name.
func (s *ScheduledJobSystem) Job(name string) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs.Get(name)
	if !ok {
		return ScheduledJob{}, false
	}

	return *job, true
}

// OnTimeAdvanced runs every job that is due at newTime.
func (s *ScheduledJobSystem) OnTimeAdvanced(newTime time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.jobs.Front(); el != nil; el = el.Next() {
		job := el.Value
		if job.NextRunTime.After(newTime) {
			continue
		}

		err := runJob(job, newTime)
		job.LastRunTime = newTime
		job.RunCount += 1
		job.NextRunTime = newTime.Add(job.Interval)

		if err != nil {
			job.FailureCount += 1
			job.LastError = err.Error()

			s.logger.Warn("Scheduled job failed.",
				zap.String("job", job.Name),
				zap.Time("virtual_time", newTime),
				zap.Time("next_run_time", job.NextRunTime),
				zap.Error(err))
			s.record(fmt.Sprintf("Job failed: %s", job.Name), map[string]interface{}{"error": err.Error()})
			continue
		}

		s.logger.Debug("Scheduled job completed.",
			zap.String("job", job.Name),
			zap.Time("virtual_time", newTime),
			zap.Time("next_run_time", job.NextRunTime))
		s.record(fmt.Sprintf("Job completed: %s", job.Name), nil)
	}

	return nil
}

func (s *ScheduledJobSystem) record(name string, data interface{}) {
	if s.recorder == nil {
		return
	}

	if _, err := s.recorder.Record(name, CategoryScheduler, data); err != nil {
		s.logger.Error("Failed to record scheduler event.", zap.String("event_name", name), zap.Error(err))
	}
}

func runJob(job *ScheduledJob, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	return job.action(now)
}
