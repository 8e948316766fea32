package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dsrengine/internal/collaborator"
	"dsrengine/internal/collaborator/filestore"
	"dsrengine/internal/collaborator/pii"
	"dsrengine/internal/deletion/certificate"
	deletionMetrics "dsrengine/internal/deletion/metrics"
	deletionService "dsrengine/internal/deletion/service"
	deletionStore "dsrengine/internal/deletion/store"
	discoveryMetrics "dsrengine/internal/discovery/metrics"
	discoveryService "dsrengine/internal/discovery/service"
	"dsrengine/internal/dsr/handler"
	"dsrengine/internal/dsr/lock"
	dsrMetrics "dsrengine/internal/dsr/metrics"
	"dsrengine/internal/dsr/service"
	dsrStore "dsrengine/internal/dsr/store"
	"dsrengine/internal/export/blob"
	exportMetrics "dsrengine/internal/export/metrics"
	exportService "dsrengine/internal/export/service"
	exportStore "dsrengine/internal/export/store"
	jwttoken "dsrengine/internal/jwt_token"
	"dsrengine/internal/platform/config"
	"dsrengine/internal/platform/kafka"
	"dsrengine/internal/platform/kafka/consumer"
	"dsrengine/internal/platform/kafka/producer"
	"dsrengine/internal/platform/metrics"
	"dsrengine/internal/platform/postgres"
	redisclient "dsrengine/internal/platform/redis"
	timelineMetrics "dsrengine/internal/timeline/metrics"
	"dsrengine/internal/timeline/notify"
	timelineService "dsrengine/internal/timeline/service"
	timelineStore "dsrengine/internal/timeline/store"
	verificationMetrics "dsrengine/internal/verification/metrics"
	verificationService "dsrengine/internal/verification/service"
	verificationStore "dsrengine/internal/verification/store"
	"dsrengine/internal/workqueue"
	"dsrengine/pkg/email"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/audit/publisher"
	auditMemory "dsrengine/pkg/platform/audit/store/memory"
	auditPostgres "dsrengine/pkg/platform/audit/store/postgres"
	"dsrengine/pkg/platform/httputil"
	"dsrengine/pkg/platform/middleware/admin"
	authmw "dsrengine/pkg/platform/middleware/auth"
	"dsrengine/pkg/platform/middleware/metadata"
	request "dsrengine/pkg/platform/middleware/request"
	"dsrengine/pkg/platform/middleware/requesttime"
)

const requestTimeout = time.Minute

// app is the assembled engine: the HTTP handler plus its background loops.
type app struct {
	handler   http.Handler
	scheduler *service.Scheduler
	worker    func(ctx context.Context) error
	closers   []func() error
}

func (a *app) close(log *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error("shutdown step failed", "error", err)
		}
	}
}

// infra holds the optional shared backends. Nil members fall back to
// in-process implementations.
type infra struct {
	db    *sql.DB
	redis *redisclient.Client
	kafka *kgo.Client
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	in, err := connect(ctx, cfg, log, a)
	if err != nil {
		a.close(log)
		return nil, err
	}
	reg := metrics.NewRegistry()

	var auditStore audit.Store = auditMemory.NewInMemoryStore()
	if in.db != nil {
		auditStore = auditPostgres.New(in.db)
	}
	pub := publisher.NewPublisher(auditStore,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithRedactor(audit.NewRedactor(cfg.Audit.RedactKeys)),
		publisher.WithBatchSize(cfg.Audit.BatchSize),
	)
	a.closers = append(a.closers, pub.Close)

	registry, err := storageModules(cfg.Storage, log)
	if err != nil {
		a.close(log)
		return nil, err
	}

	router := workqueue.NewRouter(log)
	var queue workqueue.Queue
	if in.kafka != nil {
		queue = workqueue.NewKafka(producer.New(in.kafka, cfg.Kafka.Topic))
		a.worker = func(ctx context.Context) error {
			c, err := consumer.New(in.kafka, consumer.WithLogger(log))
			if err != nil {
				return err
			}
			return c.Run(ctx, workqueue.MessageHandler(router))
		}
	} else {
		mem := workqueue.NewMemory(log)
		queue = mem
		a.worker = func(ctx context.Context) error {
			return mem.Run(ctx, router)
		}
	}

	manager, err := components(cfg, log, reg, in, pub, registry, queue)
	if err != nil {
		a.close(log)
		return nil, err
	}
	manager.Routes(router)

	a.scheduler, err = service.NewScheduler(manager,
		service.WithTick(cfg.DSR.SchedulerTick),
		service.WithSchedulerLogger(log),
	)
	if err != nil {
		a.close(log)
		return nil, err
	}
	a.handler = routes(cfg, log, reg, in, manager)
	return a, nil
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger, a *app) (*infra, error) {
	in := &infra{}
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		in.db = db
	} else {
		log.Warn("no database configured, requests are kept in memory")
	}

	rdb, err := redisclient.New(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		a.closers = append(a.closers, rdb.Close)
		in.redis = rdb
	}

	client, err := kafka.NewClient(ctx, cfg.Kafka, consumer.ClientOpts(cfg.Kafka.ConsumerGroup, cfg.Kafka.Topic)...)
	if err != nil {
		return nil, err
	}
	if client != nil {
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			return nil, err
		}
		in.kafka = client
	}
	return in, nil
}

// storageModules opens one file-backed module per configured name.
func storageModules(cfg config.StorageConfig, log *slog.Logger) (*collaborator.Registry, error) {
	registry := collaborator.NewRegistry()
	for _, name := range cfg.Modules {
		m, err := filestore.New(name, filepath.Join(cfg.Root, name))
		if err != nil {
			return nil, fmt.Errorf("storage module %s: %w", name, err)
		}
		registry.Register(m)
	}
	if len(cfg.Modules) == 0 {
		log.Warn("no storage modules configured, discovery finds nothing")
	}
	return registry, nil
}

func components(
	cfg config.Config,
	log *slog.Logger,
	reg prometheus.Registerer,
	in *infra,
	pub *publisher.Publisher,
	registry *collaborator.Registry,
	queue workqueue.Queue,
) (*service.Service, error) {
	smtp := email.NewSMTPNotifier(cfg.Email.SMTPAddr, cfg.Email.From, cfg.Email.Username, cfg.Email.Password)
	var tokens verificationService.TokenNotifier = smtp
	if cfg.Email.SMTPAddr == "" {
		log.Warn("no SMTP relay configured, verification tokens stay in the local outbox")
		tokens = email.NewOutbox()
	}

	var verifier *verificationService.Service
	var err error
	verificationOpts := []verificationService.Option{
		verificationService.WithLogger(log),
		verificationService.WithMetrics(verificationMetrics.New(reg)),
		verificationService.WithConfig(cfg.Verification),
	}
	if in.redis != nil {
		shared := verificationStore.NewRedisStore(in.redis.Client)
		verifier, err = verificationService.New(shared, shared, shared, shared, tokens, pub, verificationOpts...)
	} else {
		history := verificationStore.NewInMemoryHistoryStore()
		verifier, err = verificationService.New(verificationStore.NewInMemorySessionStore(),
			verificationStore.NewInMemoryAttemptLimiter(), history, history, tokens, pub, verificationOpts...)
	}
	if err != nil {
		return nil, err
	}

	discoverer, err := discoveryService.New(registry, pii.New(), pub,
		discoveryService.WithLogger(log),
		discoveryService.WithMetrics(discoveryMetrics.New(reg)),
		discoveryService.WithConcurrency(cfg.DSR.DiscoveryConcurrency),
		discoveryService.WithPriorityConfidence(cfg.DSR.PriorityPIIConfidence),
	)
	if err != nil {
		return nil, err
	}

	var exports exportService.Store = exportStore.NewInMemory()
	if in.db != nil {
		exports = exportStore.NewPostgres(in.db)
	}
	var blobs exportService.BlobStore = blob.NewMemoryStore()
	if cfg.Export.BlobDir != "" {
		fs, err := blob.NewFileStore(cfg.Export.BlobDir)
		if err != nil {
			return nil, err
		}
		blobs = fs
	}
	exporter, err := exportService.New(exports, blobs, registry, pub,
		exportService.WithLogger(log),
		exportService.WithMetrics(exportMetrics.New(reg)),
		exportService.WithConfig(cfg.Export),
	)
	if err != nil {
		return nil, err
	}

	signer, err := loadSigner(cfg.Deletion, log)
	if err != nil {
		return nil, err
	}
	var jobs deletionService.JobStore
	var certs deletionService.CertificateStore
	if in.db != nil {
		pg := deletionStore.NewPostgres(in.db)
		jobs, certs = pg, pg
	} else {
		mem := deletionStore.NewInMemory()
		jobs, certs = mem, mem
	}
	eraser, err := deletionService.New(jobs, certs, registry, signer, pub,
		deletionService.WithLogger(log),
		deletionService.WithMetrics(deletionMetrics.New(reg)),
		deletionService.WithConfig(cfg.Deletion),
	)
	if err != nil {
		return nil, err
	}

	var timelines timelineService.Store = timelineStore.NewInMemory()
	if in.db != nil {
		timelines = timelineStore.NewPostgres(in.db)
	}
	var pager timelineService.Notifier = notify.NewLogger(log)
	if cfg.Email.EscalationTo != "" && cfg.Email.SMTPAddr != "" {
		if pager, err = notify.NewMailer(smtp, cfg.Email.EscalationTo); err != nil {
			return nil, err
		}
	}
	timeline, err := timelineService.New(timelines, pub,
		timelineService.WithLogger(log),
		timelineService.WithMetrics(timelineMetrics.New(reg)),
		timelineService.WithNotifier(pager),
		timelineService.WithWarningDays(cfg.Timeline.WarningDays),
		timelineService.WithAutoEscalation(cfg.Timeline.AutoEscalation),
	)
	if err != nil {
		return nil, err
	}

	var requests interface {
		service.Store
		service.FlagStore
	} = dsrStore.NewInMemory()
	if in.db != nil {
		requests = dsrStore.NewPostgres(in.db)
	}
	var locks service.SubjectLock = lock.NewInMemory()
	if in.redis != nil {
		locks = lock.NewRedis(in.redis.Client)
	}
	return service.New(requests, requests, locks, verifier, discoverer, exporter, eraser, timeline, queue, pub,
		service.WithLogger(log),
		service.WithMetrics(dsrMetrics.New(reg)),
		service.WithConfig(service.ConfigFrom(cfg)),
	)
}

func loadSigner(cfg config.DeletionConfig, log *slog.Logger) (*certificate.Signer, error) {
	if cfg.SigningKeyPath != "" {
		return certificate.LoadSigner(cfg.SigningKeyID, cfg.SigningKeyPath)
	}
	log.Warn("no signing key configured, certificates are signed with an ephemeral key")
	return certificate.GenerateSigner(cfg.SigningKeyID)
}

func routes(cfg config.Config, log *slog.Logger, reg *prometheus.Registry, in *infra, manager *service.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(request.Latency(metrics.HTTPLatency(reg)))
	r.Use(request.Timeout(requestTimeout))

	h := handler.New(manager, log)
	r.Group(h.Register)
	r.Group(func(r chi.Router) {
		tokens := jwttoken.NewJWTService(cfg.Server.OperatorJWTKey, cfg.Server.OperatorJWTIssuer)
		r.Use(authmw.RequireOperator(jwttoken.NewOperatorValidator(tokens), log))
		h.RegisterOperator(r)
	})

	r.With(admin.RequireAdminToken(cfg.Server.AdminToken, log)).Handle("/metrics", metrics.Handler(reg))
	r.Get("/healthz", health(in))

	return otelhttp.NewHandler(r, "dsrengine")
}

func health(in *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{"status": "ok"}
		if in.db != nil {
			if err := in.db.PingContext(ctx); err != nil {
				status["status"], status["postgres"] = "degraded", "unreachable"
			}
		}
		if in.redis != nil {
			if err := in.redis.Health(ctx); err != nil {
				status["status"], status["redis"] = "degraded", "unreachable"
			}
		}
		code := http.StatusOK
		if status["status"] != "ok" {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, status)
	}
}
