package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/honeyagent/internal/audit"
	"github.com/xela07ax/honeyagent/internal/identity"
	"github.com/xela07ax/honeyagent/internal/infra"
	"github.com/xela07ax/honeyagent/internal/llm"
	"github.com/xela07ax/honeyagent/internal/metrics"
	"github.com/xela07ax/honeyagent/internal/policy"
	"github.com/xela07ax/honeyagent/internal/repository/kafka"
	"github.com/xela07ax/honeyagent/internal/repository/postgres"
	"github.com/xela07ax/honeyagent/internal/resilience"
	"github.com/xela07ax/honeyagent/internal/vector"
)

func needRedis(cfg *infra.Config) bool {
	return cfg.Vector.Provider == "redis" ||
		cfg.Policy.Blocklist ||
		(cfg.Identity.JWKSURL != "" && cfg.Identity.RotationChannel != "")
}

func buildAuditSink(ctx context.Context, cfg infra.AuditConfig, logger *zap.Logger) (audit.StorageInterface, func(), error) {
	switch cfg.Sink {
	case "", "none":
		return audit.NewLogStorage(logger), func() {}, nil
	case "postgres":
		repo, err := postgres.NewAuditRepo(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		// Проверяем соединение с таймаутом
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := repo.Ping(pingCtx); err != nil {
			_ = repo.Close()
			return nil, nil, fmt.Errorf("audit database unreachable: %w", err)
		}
		if err := repo.Migrate(pingCtx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, nil, fmt.Errorf("audit.kafka_brokers is empty")
		}
		w := kafka.NewAuditWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		return w, func() { _ = w.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
}

func newAuditor(sink audit.StorageInterface, cfg infra.AuditConfig, m *metrics.Metrics, logger *zap.Logger) *audit.AgentFS {
	return audit.NewAgentFS(sink, cfg.BufferSize, cfg.FlushInterval, m, logger)
}

func buildKeyCache(ctx context.Context, cfg infra.IdentityConfig, logger *zap.Logger) (*identity.KeyCache, error) {
	var source identity.KeySource
	switch {
	case cfg.JWKSURL != "":
		source = &identity.JWKSSource{URL: cfg.JWKSURL, Client: &http.Client{Timeout: cfg.FetchTimeout}}
	case len(cfg.PublicKey) > 0:
		s, err := identity.NewStaticSource(cfg.KeyID, cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		source = s
	default:
		return nil, fmt.Errorf("identity: neither jwks_url nor public key configured")
	}

	cache := identity.NewKeyCache(source, cfg.FetchTimeout, cfg.RefreshOnMissRate, logger)
	// IdP может быть недоступен на старте: токены будут невалидны до первого обновления,
	// запросы уйдут на ханипот, но сервис поднимется
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn("starting without signing keys", zap.Error(err))
	}
	return cache, nil
}

func buildAuthorizer(ctx context.Context, cfg infra.PolicyConfig, rdb *redis.Client, logger *zap.Logger) (policy.Authorizer, error) {
	var authz policy.Authorizer
	switch cfg.Provider {
	case "", "mock":
		authz = policy.NewMemoAuthorizer(cfg.Denied, logger)
	case "fga":
		authz = policy.NewFGAClient(policy.FGAConfig{
			APIURL:       cfg.APIURL,
			StoreID:      cfg.StoreID,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Audience:     cfg.Audience,
			Relation:     cfg.Relation,
			Object:       cfg.Object,
			Timeout:      cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown policy provider %q", cfg.Provider)
	}

	if !cfg.Blocklist {
		return authz, nil
	}
	bl := policy.NewBlocklist(authz, rdb, infra.RedisKeyBlockedSubjects, infra.RedisChanSubjectBlocked, logger)
	if err := bl.Init(ctx); err != nil {
		return nil, fmt.Errorf("blocklist init: %w", err)
	}
	go bl.Listen(ctx)
	return bl, nil
}

func buildModels(ctx context.Context, cfg *infra.Config, m *metrics.Metrics, logger *zap.Logger) (llm.Generator, vector.Embedder, error) {
	clients := map[string]llm.ModelInvoker{}
	bedrockFor := func(region string) (llm.ModelInvoker, error) {
		if c, ok := clients[region]; ok {
			return c, nil
		}
		c, err := llm.NewBedrockClient(ctx, region)
		if err != nil {
			return nil, err
		}
		clients[region] = c
		return c, nil
	}

	var gen llm.Generator
	switch cfg.LLM.Provider {
	case "", "mock":
		gen = &llm.Mock{}
	case "bedrock":
		client, err := bedrockFor(cfg.LLM.Region)
		if err != nil {
			return nil, nil, err
		}
		guard := resilience.NewGuard(resilience.GuardConfig{
			Name:          "bedrock-llm",
			RatePerSecond: cfg.LLM.RatePerSecond,
			Burst:         cfg.LLM.Burst,
			CallTimeout:   cfg.LLM.Timeout,
			CBMaxRequests: uint32(cfg.LLM.CBMaxRequests),
			CBInterval:    cfg.LLM.CBInterval,
			CBTimeout:     cfg.LLM.CBTimeout,
		}, m, logger)
		gen = llm.NewBedrock(client, guard, cfg.LLM.Model, cfg.LLM.MaxTokens, logger)
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	var emb vector.Embedder
	switch cfg.Embedding.Provider {
	case "", "mock":
		emb = vector.NewHashEmbedder(cfg.Embedding.Dimensions)
	case "bedrock":
		client, err := bedrockFor(cfg.Embedding.Region)
		if err != nil {
			return nil, nil, err
		}
		// Эмбеддинг best-effort: одна попытка, короткий таймаут
		guard := resilience.NewGuard(resilience.GuardConfig{
			Name:        "bedrock-embed",
			Attempts:    1,
			CallTimeout: cfg.Embedding.Timeout,
		}, m, logger)
		emb = vector.NewBedrockEmbedder(client, guard, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	return gen, emb, nil
}

func buildVectorStore(cfg infra.VectorConfig, rdb *redis.Client) vector.Store {
	if cfg.Provider == "redis" {
		return vector.NewRedisStore(rdb, cfg.MaxTopK, 0)
	}
	return vector.NewMemoryStore(cfg.MaxTopK)
}
