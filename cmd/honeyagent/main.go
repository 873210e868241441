package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/honeyagent/internal/agent"
	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/credential"
	"github.com/xela07ax/honeyagent/internal/engine"
	"github.com/xela07ax/honeyagent/internal/fingerprint"
	"github.com/xela07ax/honeyagent/internal/identity"
	"github.com/xela07ax/honeyagent/internal/infra"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/pattern"
	"github.com/xela07ax/honeyagent/internal/risk"
	"github.com/xela07ax/honeyagent/internal/routing"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGTERM cancel() остановит слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(appCtx, cfg, logger); err != nil {
		logger.Fatal("honeyagent failed", zap.Error(err))
	}
	logger.Info("honeyagent exited properly")
}

func run(ctx context.Context, cfg *infra.Config, logger *zap.Logger) error {
	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 3. Инфраструктура: Redis нужен не всегда
	var rdb *redis.Client
	if needRedis(cfg) {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
		}
	}

	// 4. Аудит: Log() не блокирует, пачки уходят в выбранный sink
	sink, closeSink, err := buildAuditSink(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	auditor := newAuditor(sink, cfg.Audit, m, logger)
	auditor.Start()
	defer auditor.Stop()

	// 5. Identity Evaluator
	keys, err := buildKeyCache(ctx, cfg.Identity, logger)
	if err != nil {
		return err
	}
	keys.Start(ctx, cfg.Identity.RefreshInterval)
	if rdb != nil && cfg.Identity.JWKSURL != "" && cfg.Identity.RotationChannel != "" {
		go identity.ListenRotation(ctx, rdb, cfg.Identity.RotationChannel, keys, logger)
	}
	authz, err := buildAuthorizer(ctx, cfg.Policy, rdb, logger)
	if err != nil {
		return err
	}
	validator := identity.NewValidator(keys, cfg.Identity.Issuer, cfg.Identity.Audience, cfg.Identity.ClaimNamespace)
	evaluator := identity.NewEvaluator(validator, authz, cfg.Policy.Timeout, m, logger)

	// 6. Модель, эмбеддинги, векторы
	gen, embedder, err := buildModels(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	vectors := buildVectorStore(cfg.Vector, rdb)

	// 7. Fingerprint Recorder и Pattern Query
	store, err := fingerprint.NewFileStore(cfg.Store.FingerprintPath)
	if err != nil {
		return fmt.Errorf("fingerprint store: %w", err)
	}
	defer store.Close()
	recorder := fingerprint.NewRecorder(store, risk.NewAnalyzer(), embedder, vectors, auditor,
		fingerprint.RecorderConfig{WriteTimeout: cfg.Store.WriteTimeout, VectorTimeout: cfg.Vector.Timeout}, m, logger)
	querier := pattern.NewQuerier(vectors, embedder, cfg.Vector.Timeout, m, logger)

	// 8. Агенты и ядро. Ошибки конфигурации ловим здесь, а не на запросе
	catalog, err := agent.LoadCatalog(cfg.Agents, cfg.BaseDir)
	if err != nil {
		return err
	}
	tools := agent.NewToolbox(catalog, querier, credential.NewSynthesizer(auditor, logger), auditor, m, logger)
	dispatcher := agent.NewDispatcher(catalog, gen, tools, recorder, agent.DispatcherConfig{
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		Timeout:       cfg.LLM.ExchangeTimeout,
		MaxTokens:     cfg.LLM.MaxTokens,
		DefaultModel:  cfg.LLM.Model,
	}, m, logger)
	core, err := engine.NewCore(evaluator, routing.NewRouter(cfg.Routing.Table()), catalog, dispatcher, tools, recorder, auditor, m, logger)
	if err != nil {
		return err
	}

	// 9. Серверы. Журнал аудита читается только из Postgres
	gateway := engine.NewGateway(core, logger)
	if reader, ok := sink.(audit.Reader); ok {
		gateway.WithAuditReader(reader)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gateway.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(logger)))
	engine.RegisterGatewayServer(grpcSrv, engine.NewGRPCGatewayServer(core))

	errCh := make(chan error, 3)
	go func() {
		logger.Info("http gateway started", zap.String("addr", srv.Addr), zap.Strings("agents", catalog.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("grpc gateway started", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// 10. Graceful Shutdown
	select {
	case <-ctx.Done():
		logger.Info("honeyagent stopping...")
	case err := <-errCh:
		return err
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	return nil
}
