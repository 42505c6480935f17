package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/internal/app/service/statistics"
	"github.com/fatflowers/paying/pkg/config"
)

// Task names
const (
	TypeCheckTransactions  = "paying:check_transactions"
	TypeCheckSubscriptions = "paying:check_uncompleted_subscriptions"
	TypeCheckRenewals      = "paying:check_subscription_renewals"
	TypeDailySnapshot      = "paying:daily_snapshot"
)

// TaskHandlers holds dependencies for all task handlers.
type TaskHandlers struct {
	engine *paying.Engine
	stats  *statistics.Service
	log    *zap.SugaredLogger
}

func NewTaskHandlers(engine *paying.Engine, stats *statistics.Service, log *zap.SugaredLogger) *TaskHandlers {
	return &TaskHandlers{engine: engine, stats: stats, log: log}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandlers) {
	mux.HandleFunc(TypeCheckTransactions, h.HandleCheckTransactions)
	mux.HandleFunc(TypeCheckSubscriptions, h.HandleCheckSubscriptions)
	mux.HandleFunc(TypeCheckRenewals, h.HandleCheckRenewals)
	mux.HandleFunc(TypeDailySnapshot, h.HandleDailySnapshot)
}

// RegisterScheduledTasks registers the periodic reconciliation tasks.
func RegisterScheduledTasks(scheduler *asynq.Scheduler, cfg *config.Config, log *zap.SugaredLogger) {
	schedule := func(spec, taskType string) {
		if _, err := scheduler.Register(spec, asynq.NewTask(taskType, nil)); err != nil {
			log.Errorw("failed to schedule task", "task", taskType, "spec", spec, "error", err)
		}
	}
	schedule(cfg.Worker.CheckTransactionsCron, TypeCheckTransactions)
	schedule(cfg.Worker.CheckSubscriptionsCron, TypeCheckSubscriptions)
	schedule(cfg.Worker.CheckRenewalsCron, TypeCheckRenewals)
	schedule(cfg.Worker.DailySnapshotCron, TypeDailySnapshot)
}

// HandleCheckTransactions settles or times out transactions still pending.
func (h *TaskHandlers) HandleCheckTransactions(ctx context.Context, t *asynq.Task) error {
	h.log.Infow("sweep started", "task", TypeCheckTransactions)
	return h.engine.CheckTransactions(ctx, nil)
}

// HandleCheckSubscriptions confirms lineages the provider has settled but we
// have not heard about.
func (h *TaskHandlers) HandleCheckSubscriptions(ctx context.Context, t *asynq.Task) error {
	h.log.Infow("sweep started", "task", TypeCheckSubscriptions)
	return h.engine.CheckUncompletedSubscriptions(ctx, nil)
}

// HandleCheckRenewals charges the next cycle for lineages about to expire.
func (h *TaskHandlers) HandleCheckRenewals(ctx context.Context, t *asynq.Task) error {
	h.log.Infow("sweep started", "task", TypeCheckRenewals)
	return h.engine.CheckSubscriptionRenewals(ctx, nil)
}

// HandleDailySnapshot copies every lineage's derived state for one day.
// Payload may carry {"date": "YYYY-MM-DD"}; defaults to today.
func (h *TaskHandlers) HandleDailySnapshot(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		Date string `json:"date"`
	}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
	}
	date := time.Now()
	if payload.Date != "" {
		parsed, err := time.Parse(time.DateOnly, payload.Date)
		if err != nil {
			return err
		}
		date = parsed
	}

	count, err := h.stats.SaveDailySnapshots(ctx, date)
	if err != nil {
		return err
	}
	h.log.Infow("daily snapshot saved", "date", date.Format(time.DateOnly), "count", count)
	return nil
}
