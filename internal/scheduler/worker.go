package scheduler

import (
	"context"
	"fmt"
	"time"

	"pipeline_backend/internal/pipeline/followups"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// FollowupRunner executes one follow-up run.
type FollowupRunner interface {
	Run(ctx context.Context, userID uuid.UUID, now time.Time) (followups.Result, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner FollowupRunner
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, runner FollowupRunner, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		runner: runner,
		log:    log,
	}

	mux.HandleFunc(TaskRunFollowups, w.handleRunFollowups)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

// handleRunFollowups retries only when the candidate listing failed. Per
// conversation failures are already logged by the runner and are picked up by
// the next sweep.
func (w *Worker) handleRunFollowups(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRunFollowupsPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", payload.UserID, asynq.SkipRetry)
	}

	now := payload.Now
	if now.IsZero() {
		now = time.Now()
	}

	_, err = w.runner.Run(ctx, userID, now)
	return err
}

// InlineDispatcher runs follow-ups in-process. Used when no Redis is
// configured.
type InlineDispatcher struct {
	runner FollowupRunner
}

func NewInlineDispatcher(runner FollowupRunner) *InlineDispatcher {
	return &InlineDispatcher{runner: runner}
}

func (d *InlineDispatcher) DispatchFollowupRun(ctx context.Context, userID uuid.UUID, now time.Time) error {
	_, err := d.runner.Run(ctx, userID, now)
	return err
}
