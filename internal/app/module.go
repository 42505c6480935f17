package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/paying/internal/app/api/server"
	notificationlog "github.com/fatflowers/paying/internal/app/service/notification_log"
	"github.com/fatflowers/paying/internal/app/service/paying"
	"github.com/fatflowers/paying/internal/app/service/statistics"
	"github.com/fatflowers/paying/internal/platform/agreement"
	"github.com/fatflowers/paying/internal/platform/apple"
	"github.com/fatflowers/paying/internal/platform/db"
	"github.com/fatflowers/paying/internal/platform/redis"
	"github.com/fatflowers/paying/internal/repository"
	"github.com/fatflowers/paying/internal/worker"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/logger"
	"github.com/fatflowers/paying/pkg/metrics"
	"github.com/fatflowers/paying/pkg/types"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

func newAdapters(ap *apple.Adapter, ag *agreement.Adapter) map[types.PaymentProvider]paying.Adapter {
	return map[types.PaymentProvider]paying.Adapter{
		ap.Provider(): ap,
		ag.Provider(): ag,
	}
}

func newAuditLogger(s *notificationlog.Service) paying.AuditLogger { return s }

// core is everything both binaries need: config, logging, storage, the
// provider adapters and the engine itself.
var core = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	repository.Module,
	notificationlog.Module,
	statistics.Module,
	paying.Module,
	fx.Provide(
		apple.NewAdapter,
		agreement.NewAdapter,
		newAdapters,
		newAuditLogger,
		metrics.NewBusiness,
	),
)

// Module wires the HTTP API binary.
var Module = fx.Options(
	core,
	server.Module,
)

// WorkerModule wires the reconciliation worker binary.
var WorkerModule = fx.Options(
	core,
	redis.Module,
	worker.Module,
)
