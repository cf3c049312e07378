package deps

import (
	"context"

	"github.com/bwise1/quickpoll_api/config"
	"github.com/bwise1/quickpoll_api/internal/admission"
	"github.com/bwise1/quickpoll_api/internal/db"
	"github.com/bwise1/quickpoll_api/internal/metrics"
	"github.com/bwise1/quickpoll_api/internal/results"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/bwise1/quickpoll_api/internal/storage/memory"
	"github.com/bwise1/quickpoll_api/internal/storage/postgres"
	"github.com/bwise1/quickpoll_api/internal/verify"
	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/websockets"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

type Dependencies struct {
	Logger    *zap.Logger
	DB        *db.DB // nil with the memory driver
	Store     storage.Store
	Verifier  *verify.Client
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Admission *admission.Pipeline
	Results   *results.Aggregator
	WebSocket *websockets.WebSocketManager
	Proxies   util.TrustedProxies
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	d := &Dependencies{Logger: logger}

	proxies, err := util.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	d.Proxies = proxies

	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; votes are lost on restart")
		d.Store = memory.New()
	default:
		database, err := db.New(cfg.Dsn, db.Options{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns}, logger)
		if err != nil {
			return nil, errors.Wrap(err, "connect to database")
		}
		if err := database.CreateSchema(ctx); err != nil {
			database.Close()
			return nil, err
		}
		d.DB = database
		d.Store = postgres.New(database)
	}

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(d.Registry)

	d.Verifier = verify.New(cfg.VerificationSecret,
		verify.WithURL(cfg.VerificationURL),
		verify.WithTimeout(cfg.VerificationTimeout),
	)
	if !d.Verifier.Configured() {
		logger.Warn("VERIFICATION_SECRET is not set; human verification is disabled for every poll")
	}

	d.Admission = admission.New(d.Store, d.Verifier,
		admission.WithLogger(logger.Named("admission")),
		admission.WithMetrics(d.Metrics),
		admission.WithRetry(cfg.AdmissionMaxAttempts, cfg.AdmissionRetryInitialInterval),
		admission.WithVerificationFailOpen(cfg.VerificationFailOpen),
	)
	d.Results = results.New(d.Store)
	d.WebSocket = websockets.NewWebSocketManager(d.Results.Results, logger.Named("live"))

	return d, nil
}

func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
