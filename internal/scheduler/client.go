package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const followupMaxRetry = 3

type Client struct {
	client *asynq.Client
	queue  string
}

// FollowupDispatcher hands a follow-up run for one user to whatever executes it.
type FollowupDispatcher interface {
	DispatchFollowupRun(ctx context.Context, userID uuid.UUID, now time.Time) error
}

var _ FollowupDispatcher = (*Client)(nil)

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queueName(cfg),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// DispatchFollowupRun enqueues a run for (userID, now). The task ID is derived
// from both, so a second enqueue of the same run is a no-op.
func (c *Client) DispatchFollowupRun(ctx context.Context, userID uuid.UUID, now time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewRunFollowupsTask(RunFollowupsPayload{
		UserID: userID.String(),
		Now:    now.UTC(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(followupTaskID(userID, now)),
		asynq.MaxRetry(followupMaxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func followupTaskID(userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", TaskRunFollowups, userID, now.Unix())
}

func queueName(cfg config.SchedulerConfig) string {
	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}
	return queue
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
