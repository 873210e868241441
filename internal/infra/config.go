package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/routing"
)

// Config корневая структура конфигурации шлюза.
type Config struct {
	Server    ServerConfig                      `mapstructure:"server"`
	GRPC      GRPCConfig                        `mapstructure:"grpc"`
	Metrics   MetricsConfig                     `mapstructure:"metrics"`
	Identity  IdentityConfig                    `mapstructure:"identity"`
	Policy    PolicyConfig                      `mapstructure:"policy"`
	LLM       LLMConfig                         `mapstructure:"llm"`
	Embedding EmbeddingConfig                   `mapstructure:"embedding"`
	Vector    VectorConfig                      `mapstructure:"vector"`
	Redis     RedisConfig                       `mapstructure:"redis"`
	Store     StoreConfig                       `mapstructure:"store"`
	Audit     AuditConfig                       `mapstructure:"audit"`
	Routing   RoutingConfig                     `mapstructure:"routing"`
	Agents    map[string]domain.AgentDefinition `mapstructure:"agents"`
	Logger    LoggerConfig                      `mapstructure:"logger"`

	// BaseDir каталог конфига, от него считаются относительные persona_file
	BaseDir string `mapstructure:"-"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"` // пусто — gRPC не поднимаем
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// IdentityConfig откуда брать ключи подписи и что проверять в токене.
type IdentityConfig struct {
	JWKSURL         string        `mapstructure:"jwks_url"`
	KeyID           string        `mapstructure:"key_id"` // kid для статического ключа
	PublicKeyPath   string        `mapstructure:"public_key_path"`
	PrivateKeyPath  string        `mapstructure:"private_key_path"` // только для honeyctl mint
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	ClaimNamespace  string        `mapstructure:"claim_namespace"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	// Сколько внеплановых обновлений в секунду разрешено при неизвестном kid
	RefreshOnMissRate float64 `mapstructure:"refresh_on_miss_rate"`
	RotationChannel   string  `mapstructure:"rotation_channel"`

	PublicKey  []byte
	PrivateKey []byte
}

// PolicyConfig FGA-проверка "может ли агент общаться со swarm".
type PolicyConfig struct {
	Provider     string        `mapstructure:"provider"` // mock | fga
	APIURL       string        `mapstructure:"api_url"`
	StoreID      string        `mapstructure:"store_id"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	TokenURL     string        `mapstructure:"token_url"`
	Audience     string        `mapstructure:"audience"`
	Relation     string        `mapstructure:"relation"`
	Object       string        `mapstructure:"object"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Denied       []string      `mapstructure:"denied"` // только для mock
	// Blocklist поверх провайдера проверять "сожженных" субъектов из Redis
	Blocklist bool `mapstructure:"blocklist"`
}

// LLMConfig описывает вызов модели и защиту вокруг него.
type LLMConfig struct {
	Provider      string        `mapstructure:"provider"` // mock | bedrock
	Region        string        `mapstructure:"region"`
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	MaxToolRounds int           `mapstructure:"max_tool_rounds"`
	Timeout       time.Duration `mapstructure:"timeout"` // одна попытка вызова модели
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`

	// Весь обмен с агентом: все раунды инструментов и повторы
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`

	// Настройки Circuit Breaker
	CBMaxRequests int           `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"` // mock | bedrock
	Region     string        `mapstructure:"region"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type VectorConfig struct {
	Provider string        `mapstructure:"provider"` // memory | redis
	MaxTopK  int           `mapstructure:"max_top_k"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig описывает подключение к Redis (векторы и сигнал ротации ключей).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StoreConfig struct {
	FingerprintPath string        `mapstructure:"fingerprint_path"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

type AuditConfig struct {
	Sink          string        `mapstructure:"sink"` // none | postgres | kafka
	DatabaseURL   string        `mapstructure:"database_url"`
	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaTopic    string        `mapstructure:"kafka_topic"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RoutingConfig — цели маршрутизации. Сами правила фиксированы в коде.
type RoutingConfig struct {
	DefaultHoneypot string            `mapstructure:"default_honeypot"`
	DeniedHoneypot  string            `mapstructure:"denied_honeypot"`
	RealPool        []string          `mapstructure:"real_pool"`
	SelfProfiles    map[string]string `mapstructure:"self_profiles"`
	DefaultSelf     string            `mapstructure:"default_self"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig объединяет значения из файла, ENV и дефолтов.
// path может быть пустым — тогда ищем config.yaml в . и ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV: HONEYAGENT_LLM_PROVIDER=bedrock перекроет llm.provider
	v.SetEnvPrefix("HONEYAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.BaseDir = "."
	if used := v.ConfigFileUsed(); used != "" {
		cfg.BaseDir = filepath.Dir(used)
	}
	for name, def := range cfg.Agents {
		def.Name = name
		cfg.Agents[name] = def
	}

	// 6. Ключи: PEM прямо в ENV (Docker/K8s) или файл по пути из конфига
	cfg.Identity.PublicKey = loadKeyResource(cfg.Identity.PublicKeyPath, "HONEYAGENT_PUBLIC_KEY_DATA")
	cfg.Identity.PrivateKey = loadKeyResource(cfg.Identity.PrivateKeyPath, "HONEYAGENT_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("identity.key_id", "honeyagent-dev")
	v.SetDefault("identity.claim_namespace", domain.DefaultClaimNamespace)
	v.SetDefault("identity.refresh_interval", 10*time.Minute)
	v.SetDefault("identity.fetch_timeout", 5*time.Second)
	v.SetDefault("identity.refresh_on_miss_rate", 0.2)
	v.SetDefault("identity.rotation_channel", RedisChanKeysRotated)

	v.SetDefault("policy.provider", "mock")
	v.SetDefault("policy.api_url", "https://api.us1.fga.dev")
	v.SetDefault("policy.token_url", "https://fga.us.auth0.com/oauth/token")
	v.SetDefault("policy.audience", "https://api.us1.fga.dev/")
	v.SetDefault("policy.relation", "can_communicate")
	v.SetDefault("policy.object", "swarm:swarm-alpha")
	v.SetDefault("policy.timeout", 5*time.Second)

	v.SetDefault("llm.provider", "mock")
	v.SetDefault("llm.region", "us-east-1")
	v.SetDefault("llm.model", "us.anthropic.claude-sonnet-4-20250514-v1:0")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_tool_rounds", 4)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.exchange_timeout", 120*time.Second)
	v.SetDefault("llm.rate_per_second", 20)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("llm.cb_max_requests", 3)
	v.SetDefault("llm.cb_interval", 5*time.Second)
	v.SetDefault("llm.cb_timeout", 30*time.Second)

	v.SetDefault("embedding.provider", "mock")
	v.SetDefault("embedding.region", "us-east-1")
	v.SetDefault("embedding.model", "amazon.titan-embed-text-v1")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.timeout", 5*time.Second)

	v.SetDefault("vector.provider", "memory")
	v.SetDefault("vector.max_top_k", 30)
	v.SetDefault("vector.timeout", 3*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("store.fingerprint_path", "logs/fingerprints.jsonl")
	v.SetDefault("store.write_timeout", 5*time.Second)

	v.SetDefault("audit.sink", "none")
	v.SetDefault("audit.kafka_topic", "honeyagent.audit")
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	v.SetDefault("routing.default_honeypot", "honeypot_db_admin")
	v.SetDefault("routing.denied_honeypot", "honeypot_privileged")
	v.SetDefault("routing.real_pool", []string{"real"})
	v.SetDefault("routing.default_self", "honeypot_db_admin")
	v.SetDefault("routing.self_profiles", map[string]string{
		"db-admin":   "honeypot_db_admin",
		"privileged": "honeypot_privileged",
	})

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Table цели маршрутизации для routing.NewRouter.
func (c RoutingConfig) Table() routing.Table {
	return routing.Table{
		DefaultHoneypot: c.DefaultHoneypot,
		DeniedHoneypot:  c.DeniedHoneypot,
		RealPool:        c.RealPool,
		SelfProfiles:    c.SelfProfiles,
		DefaultSelf:     c.DefaultSelf,
	}
}

// loadKeyResource ключ из ENV имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
