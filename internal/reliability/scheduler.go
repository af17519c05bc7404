package reliability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// scheduleParser accepts six-field schedules (leading seconds) and descriptors
// such as "@daily". Validation and registration share it.
var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a unit of journal upkeep the scheduler runs.
type Job interface {
	Run() error
	Name() string
}

// JobRun is the outcome of the most recent execution of a job.
type JobRun struct {
	Job      string        `json:"job"`
	Schedule string        `json:"schedule"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Next     time.Time     `json:"next"`
}

// Scheduler runs journal maintenance on cron schedules. A run that is still
// going when its next slot arrives makes that slot a no-op.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	last    map[string]JobRun
}

// NewScheduler creates a new scheduler.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
		last:    make(map[string]JobRun),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers job under schedule. A job name may be registered once.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.entries[job.Name()]; dup {
		return fmt.Errorf("job %s is already scheduled", job.Name())
	}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(schedule, job) })
	if err != nil {
		return fmt.Errorf("schedule %q for %s: %w", schedule, job.Name(), err)
	}
	s.entries[job.Name()] = id

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Time("next", s.cron.Entry(id).Next).
		Msg("Job registered")
	return nil
}

func (s *Scheduler) execute(schedule string, job Job) {
	started := time.Now()
	s.log.Debug().Str("job", job.Name()).Msg("Running job")

	err := job.Run()
	run := JobRun{
		Job:      job.Name(),
		Schedule: schedule,
		Started:  started,
		Duration: time.Since(started),
	}
	if err != nil {
		run.Error = err.Error()
		s.log.Error().Err(err).Str("job", job.Name()).Dur("duration", run.Duration).Msg("Job failed")
	} else {
		s.log.Debug().Str("job", job.Name()).Dur("duration", run.Duration).Msg("Job completed")
	}

	s.mu.Lock()
	s.last[job.Name()] = run
	s.mu.Unlock()
}

// LastRuns reports the latest outcome of every job that has run, with the
// time of its next slot, ordered by job name.
func (s *Scheduler) LastRuns() []JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobRun, 0, len(s.last))
	for name, run := range s.last {
		if id, ok := s.entries[name]; ok {
			run.Next = s.cron.Entry(id).Next
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// ValidateSchedule reports whether schedule parses with the scheduler's parser.
func ValidateSchedule(schedule string) error {
	_, err := scheduleParser.Parse(schedule)
	return err
}
