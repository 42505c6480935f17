package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/paying/internal/worker/tasks"
	"github.com/fatflowers/paying/pkg/config"
)

// runWorker starts the asynq server and the cron scheduler, both backed by
// the shared Redis client.
func runWorker(lc fx.Lifecycle, client *redis.Client, handlers *tasks.TaskHandlers, cfg *config.Config, log *zap.SugaredLogger) {
	server := asynq.NewServerFromRedisClient(client, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(1<<uint(n)) * time.Second
		},
	})

	mux := asynq.NewServeMux()
	tasks.RegisterHandlers(mux, handlers)

	scheduler := asynq.NewSchedulerFromRedisClient(client, nil)
	tasks.RegisterScheduledTasks(scheduler, cfg, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return err
			}
			if err := scheduler.Start(); err != nil {
				return err
			}
			log.Infow("worker started", "concurrency", cfg.Worker.Concurrency)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping worker")
			scheduler.Shutdown()
			server.Shutdown()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(tasks.NewTaskHandlers),
	fx.Invoke(runWorker),
)
