// Package scheduler runs the swarm's background maintenance jobs on cron
// schedules: pruning expired signals and checkpointing the journal WAL.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/swarmlab/apiary/pkg/logger"
)

// Job is a unit of background maintenance work.
type Job interface {
	Run() error
	Name() string
}

// JobStats tracks how a registered job has behaved so far.
type JobStats struct {
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	LastRun  time.Time `json:"last_run"`
}

// Scheduler wraps a seconds-resolution cron runner and keeps per-job
// run counters.
type Scheduler struct {
	cron  *cron.Cron
	log   zerolog.Logger
	mu    sync.Mutex
	stats map[string]*JobStats
}

func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		log:   logger.Component(log, "scheduler"),
		stats: make(map[string]*JobStats),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job on a cron schedule. Schedules use the
// seconds-first cron syntax, plus descriptors like "@every 1m" and
// "@hourly".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.execute(job) })
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stats[job.Name()] = &JobStats{}
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.execute(job)
}

// Stats returns a snapshot of per-job run counters.
func (s *Scheduler) Stats() map[string]JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) execute(job Job) error {
	start := time.Now()
	err := job.Run()

	s.mu.Lock()
	st, ok := s.stats[job.Name()]
	if !ok {
		st = &JobStats{}
		s.stats[job.Name()] = st
	}
	st.Runs++
	st.LastRun = start
	if err != nil {
		st.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Dur("took", time.Since(start)).
			Msg("Job failed")
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Dur("took", time.Since(start)).
		Msg("Job completed")
	return nil
}
