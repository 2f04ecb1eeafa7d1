// Package app собирает зависимости кассы и управляет жизненным циклом серверов и воркеров.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/identity"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/orders"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Run запускает REST, gRPC и сервер метрик, а также фоновые воркеры, и
// блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	return run(ctx, cfg, nil)
}

// listeners сообщает фактические адреса серверов; нужен тестам с портом 0.
type listeners struct {
	http, grpc, metrics net.Addr
}

func run(ctx context.Context, cfg Config, ready func(listeners)) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}
	defer closeKafkaProducer(producer, logger)

	feed := httpapi.NewFeed(logger.WithField("layer", "feed"))
	defer feed.Close()

	svc := orders.NewService(deps.repo,
		orders.WithLogger(logger.WithField("layer", "orders")),
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithOutbox(deps.outboxRepo),
		orders.WithNotifier(feed),
		orders.WithLocation(loc),
		orders.WithViewTTL(cfg.ViewTTL),
	)
	resolver, err := identity.NewJWTResolver(cfg.JWTSecret)
	if err != nil {
		return err
	}
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, nil)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	startWorkers(workerCtx, &workers, cfg, deps, producer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	errCh := make(chan error, 3)

	metricsSrv, metricsLis, err := startHTTPServer("метрики", cfg.MetricsAddr, metricsHandler(healthHandler), logger, errCh)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	defer shutdownHTTP(metricsSrv, logger)

	api := httpapi.NewServer(svc, resolver,
		httpapi.WithIdempotency(guard),
		httpapi.WithFeed(feed),
		httpapi.WithMetrics(metrics.NewHTTPMetrics(nil)),
		httpapi.WithCORSOrigins(cfg.Origins()),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	)
	apiSrv, apiLis, err := startHTTPServer("REST API", cfg.HTTPAddr, api.Handler(), logger, errCh)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}

	grpcServer, healthServer := newGRPCServer(svc, resolver, guard, logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(apiSrv, logger)
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	if ready != nil {
		ready(listeners{http: apiLis.Addr(), grpc: grpcLis.Addr(), metrics: metricsLis.Addr()})
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		runErr = err
	}

	stopGRPC(grpcServer, healthServer, logger)
	shutdownHTTP(apiSrv, logger)
	return runErr
}

// startWorkers запускает relay outbox (только при наличии Kafka) и очистку ключей идемпотентности.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, producer *kafka.Producer, logger *log.Entry) {
	if producer != nil {
		worker := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)),
			outbox.WithCircuitBreaker(outbox.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger.WithField("layer", "outbox-breaker"))),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}
