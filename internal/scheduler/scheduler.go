// Package scheduler triggers the bulk automation run on a cron schedule
// through an asynq queue backed by Redis.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"gwi.com/review-autoreply/internal/core"
)

const (
	TypeRunAll = "automation:run_all"
	queueName  = "automation"
)

// BulkRunner is satisfied by core.AutomationService.
type BulkRunner interface {
	RunForAllEnabledUsers(ctx context.Context) (*core.BulkSummary, error)
}

// NewRunAllTask builds the bulk run task. Only one instance may be queued at
// a time; a tick that finds the previous run still pending is dropped.
func NewRunAllTask(timeout time.Duration) *asynq.Task {
	return asynq.NewTask(TypeRunAll, nil,
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Unique(timeout),
	)
}

// Handler processes run-all tasks.
type Handler struct {
	runner BulkRunner
}

func NewHandler(runner BulkRunner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	switch task.Type() {
	case TypeRunAll:
		summary, err := h.runner.RunForAllEnabledUsers(ctx)
		if err != nil {
			return fmt.Errorf("bulk run: %w", err)
		}
		log.Info().
			Int("processed", summary.UsersProcessed).
			Int("failed", summary.UsersFailed).
			Int("actions", summary.Actions).
			Msg("Scheduled automation run complete")
		return nil
	default:
		return fmt.Errorf("unknown task type %q: %w", task.Type(), asynq.SkipRetry)
	}
}

type Options struct {
	Cron    string
	Timeout time.Duration
}

// Scheduler owns the asynq scheduler that enqueues ticks and the worker that
// consumes them.
type Scheduler struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	handler   *Handler
	opts      Options
}

func New(redisOpt asynq.RedisClientOpt, runner BulkRunner, opts Options) *Scheduler {
	return &Scheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: time.UTC,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("Skipped scheduled automation tick")
					return
				}
				log.Debug().Str("task_id", info.ID).Msg("Enqueued scheduled automation run")
			},
		}),
		server: asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{queueName: 1},
		}),
		handler: NewHandler(runner),
		opts:    opts,
	}
}

// Start registers the cron entry and starts both the scheduler and the worker.
func (s *Scheduler) Start() error {
	entryID, err := s.scheduler.Register(s.opts.Cron, NewRunAllTask(s.opts.Timeout))
	if err != nil {
		return fmt.Errorf("failed to register %q on %q: %w", TypeRunAll, s.opts.Cron, err)
	}

	mux := asynq.NewServeMux()
	mux.Handle(TypeRunAll, s.handler)
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	log.Info().Str("cron", s.opts.Cron).Str("entry_id", entryID).Msg("Automation scheduler started")
	return nil
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
