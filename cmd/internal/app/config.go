package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Read model backends.
const (
	ReadModelMemory   = "memory"
	ReadModelPostgres = "postgres"
	ReadModelRedis    = "redis"
)

// Config contains all runtime configuration. Values come from the optional YAML file first and are
// then overridden by CHATSYNC_* environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"http_read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"http_read_timeout"`
	WriteTimeout      time.Duration `yaml:"http_write_timeout"`
	IdleTimeout       time.Duration `yaml:"http_idle_timeout"`
	MaxHeaderBytes    int           `yaml:"http_max_header_bytes"`

	// Remote chat server.
	ServerURL   string `yaml:"server_url"`
	Subprotocol string `yaml:"subprotocol"`
	ClientID    string `yaml:"client_id"`
	// SelfID is used until the server announces the account in its handshake.
	SelfID int64 `yaml:"self_id"`

	RPCRate        float64       `yaml:"rpc_rate"`
	RPCBurst       int           `yaml:"rpc_burst"`
	RPCMaxAttempts int           `yaml:"rpc_max_attempts"`
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`

	// StateDir holds the Pebble state; empty keeps state in memory.
	StateDir string `yaml:"state_dir"`

	ReadModel   string `yaml:"read_model"`
	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`
	DBSchema    string `yaml:"db_schema"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix"`
	MirrorQueue int    `yaml:"mirror_queue"`

	ReconcileCron string `yaml:"reconcile_cron"`
	HistoryPage   int    `yaml:"history_page"`

	// If true, /readyz returns 503 while the server session is down.
	ReadinessRequireTransport bool `yaml:"readiness_require_transport"`
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:  "127.0.0.1:8090",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		RPCRate:        5,
		RPCBurst:       5,
		RPCMaxAttempts: 4,
		RPCTimeout:     30 * time.Second,

		ReadModel:   ReadModelMemory,
		DBMaxConns:  10,
		DBSchema:    "chatsync",
		RedisPrefix: "chatsync:",
		MirrorQueue: 1024,

		ReconcileCron: "*/5 * * * *",
		HistoryPage:   50,
	}
}

// LoadConfig builds the Config. A .env file in the working directory is loaded first when present;
// path names an optional YAML file and falls back to CHATSYNC_CONFIG.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaultConfig()
	if path == "" {
		path = EnvString("CONFIG", "")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = EnvString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.ServerURL = EnvString("SERVER_URL", cfg.ServerURL)
	cfg.Subprotocol = EnvString("SUBPROTOCOL", cfg.Subprotocol)
	cfg.ClientID = EnvString("CLIENT_ID", cfg.ClientID)
	cfg.SelfID = EnvInt64("SELF_ID", cfg.SelfID)

	cfg.RPCRate = EnvFloat("RPC_RATE", cfg.RPCRate)
	cfg.RPCBurst = EnvInt("RPC_BURST", cfg.RPCBurst)
	cfg.RPCMaxAttempts = EnvInt("RPC_MAX_ATTEMPTS", cfg.RPCMaxAttempts)
	cfg.RPCTimeout = EnvDuration("RPC_TIMEOUT", cfg.RPCTimeout)

	cfg.StateDir = EnvString("STATE_DIR", cfg.StateDir)

	cfg.ReadModel = strings.ToLower(EnvString("READ_MODEL", cfg.ReadModel))
	cfg.DatabaseURL = EnvString("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("DB_MIN_CONNS", cfg.DBMinConns)
	cfg.DBSchema = EnvString("DB_SCHEMA", cfg.DBSchema)
	cfg.RedisAddr = EnvString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisDB = EnvInt("REDIS_DB", cfg.RedisDB)
	cfg.RedisPrefix = EnvString("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.MirrorQueue = EnvInt("MIRROR_QUEUE", cfg.MirrorQueue)

	cfg.ReconcileCron = EnvString("RECONCILE_CRON", cfg.ReconcileCron)
	cfg.HistoryPage = EnvInt("HISTORY_PAGE", cfg.HistoryPage)

	cfg.ReadinessRequireTransport = EnvBool("READINESS_REQUIRE_TRANSPORT", cfg.ReadinessRequireTransport)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.ReadModel {
	case ReadModelMemory:
	case ReadModelPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("config: read_model=postgres requires CHATSYNC_DATABASE_URL"))
		}
	case ReadModelRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("config: read_model=redis requires CHATSYNC_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown read_model %q", c.ReadModel))
	}
	if c.ReconcileCron != "" && !gronx.IsValid(c.ReconcileCron) {
		errs = append(errs, fmt.Errorf("config: invalid reconcile_cron %q", c.ReconcileCron))
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		errs = append(errs, fmt.Errorf("config: db_min_conns %d exceeds db_max_conns %d", c.DBMinConns, c.DBMaxConns))
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
