// Package scheduler ejecuta los jobs periódicos (snapshots, prune, sondas SLO)
// sobre robfig/cron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job es una tarea programable.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) Name() string                  { return j.name }

// Func adapta una función a Job.
func Func(name string, fn func(ctx context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

// Scheduler gestiona los jobs en segundo plano. Cada ejecución recibe un
// contexto con timeout derivado del contexto base.
type Scheduler struct {
	cron    *cron.Cron
	base    context.Context
	timeout time.Duration
	log     zerolog.Logger
}

// New crea un scheduler. Acepta expresiones con segundos y descriptores
// (@every 30s, @daily). Un timeout <= 0 usa 30s.
func New(base context.Context, timeout time.Duration, log zerolog.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		base:    base,
		timeout: timeout,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start arranca el scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop detiene el scheduler y espera a los jobs en curso.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registra un job con su expresión cron.
//   - "0 */5 * * * *" cada 5 minutos
//   - "@every 30s"
//   - "@daily"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduler.AddJob %s %q: %w", job.Name(), schedule, err)
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow ejecuta un job inmediatamente, fuera de su programación.
func (s *Scheduler) RunNow(job Job) error {
	return s.run(job)
}

func (s *Scheduler) run(job Job) error {
	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return err
	}
	s.log.Debug().Str("job", job.Name()).Dur("duration", time.Since(start)).Msg("job completed")
	return nil
}
