package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

const (
	defaultAddr        = ":8080"
	defaultStorage     = "json"
	defaultDataPath    = "fila-live.json"
	defaultMaxConns    = 8
	defaultAcquireWait = 5 * time.Second
)

type config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	IdentitySecret string
	Heartbeat      time.Duration

	TLSCert string
	TLSKey  string

	StorageDriver string
	DataPath      string

	RedisAddr      string
	RedisAddrs     []string
	RedisUsername  string
	RedisPassword  string
	RedisKeyPrefix string
	RedisTLSCA     string
	RedisTLSCert   string
	RedisTLSKey    string

	PostgresDSN            string
	PostgresMaxConns       int
	PostgresMinConns       int
	PostgresAcquireTimeout time.Duration

	GlobalRPS     float64
	GlobalBurst   int
	ConnectLimit  int
	ConnectWindow time.Duration

	RateRedisAddr     string
	RateRedisPassword string
	RateRedisTimeout  time.Duration

	AllowedOrigins []string
}

func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("fila-live", flag.ContinueOnError)

	addr := fs.String("addr", "", "HTTP listen address")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log output format (json or text)")
	identitySecret := fs.String("identity-secret", "", "HMAC secret for identity tokens")
	heartbeat := fs.Duration("heartbeat", 0, "websocket heartbeat interval")
	tlsCert := fs.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := fs.String("tls-key", "", "path to TLS private key file")
	storageDriver := fs.String("storage-driver", "", "room store driver (memory, json, redis or postgres)")
	dataPath := fs.String("data", "", "path to the JSON room store")
	redisAddr := fs.String("redis-addr", "", "Redis address for the room store")
	redisAddrs := fs.String("redis-addrs", "", "comma separated Redis addresses for the room store")
	redisUsername := fs.String("redis-username", "", "Redis username for the room store")
	redisPassword := fs.String("redis-password", "", "Redis password for the room store")
	redisKeyPrefix := fs.String("redis-key-prefix", "", "key prefix for room store entries in Redis")
	redisTLSCA := fs.String("redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := fs.String("redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := fs.String("redis-tls-key", "", "path to Redis TLS client key")
	postgresDSN := fs.String("postgres-dsn", "", "Postgres connection string for the room store")
	postgresMaxConns := fs.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := fs.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresAcquireTimeout := fs.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection")
	globalRPS := fs.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := fs.Int("rate-global-burst", 0, "global rate limit burst allowance")
	connectLimit := fs.Int("rate-connect-limit", 0, "maximum websocket connects per window for a single IP")
	connectWindow := fs.Duration("rate-connect-window", 0, "window for counting websocket connects")
	rateRedisAddr := fs.String("rate-redis-addr", "", "Redis address for distributed connect throttling")
	rateRedisPassword := fs.String("rate-redis-password", "", "Redis password for distributed connect throttling")
	rateRedisTimeout := fs.Duration("rate-redis-timeout", 0, "timeout for connect throttling Redis operations")
	allowedOrigins := fs.String("allowed-origins", "", "comma separated list of origins permitted to connect")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := config{
		Addr:           firstNonEmpty(*addr, os.Getenv("FILA_LIVE_ADDR"), defaultAddr),
		LogLevel:       firstNonEmpty(*logLevel, os.Getenv("FILA_LIVE_LOG_LEVEL"), "info"),
		LogFormat:      firstNonEmpty(*logFormat, os.Getenv("FILA_LIVE_LOG_FORMAT")),
		IdentitySecret: firstNonEmpty(*identitySecret, os.Getenv("FILA_LIVE_IDENTITY_SECRET")),
		Heartbeat:      resolveDuration(*heartbeat, "FILA_LIVE_HEARTBEAT", 0),
		TLSCert:        firstNonEmpty(*tlsCert, os.Getenv("FILA_LIVE_TLS_CERT")),
		TLSKey:         firstNonEmpty(*tlsKey, os.Getenv("FILA_LIVE_TLS_KEY")),
		StorageDriver:  firstNonEmpty(*storageDriver, os.Getenv("FILA_LIVE_STORAGE_DRIVER"), defaultStorage),
		DataPath:       firstNonEmpty(*dataPath, os.Getenv("FILA_LIVE_DATA_PATH"), defaultDataPath),

		RedisAddr:      firstNonEmpty(*redisAddr, os.Getenv("FILA_LIVE_REDIS_ADDR")),
		RedisAddrs:     splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("FILA_LIVE_REDIS_ADDRS"))),
		RedisUsername:  firstNonEmpty(*redisUsername, os.Getenv("FILA_LIVE_REDIS_USERNAME")),
		RedisPassword:  firstNonEmpty(*redisPassword, os.Getenv("FILA_LIVE_REDIS_PASSWORD")),
		RedisKeyPrefix: firstNonEmpty(*redisKeyPrefix, os.Getenv("FILA_LIVE_REDIS_KEY_PREFIX")),
		RedisTLSCA:     firstNonEmpty(*redisTLSCA, os.Getenv("FILA_LIVE_REDIS_TLS_CA")),
		RedisTLSCert:   firstNonEmpty(*redisTLSCert, os.Getenv("FILA_LIVE_REDIS_TLS_CERT")),
		RedisTLSKey:    firstNonEmpty(*redisTLSKey, os.Getenv("FILA_LIVE_REDIS_TLS_KEY")),

		PostgresDSN:            firstNonEmpty(*postgresDSN, os.Getenv("FILA_LIVE_POSTGRES_DSN")),
		PostgresMaxConns:       resolveInt(*postgresMaxConns, "FILA_LIVE_POSTGRES_MAX_CONNS"),
		PostgresMinConns:       resolveInt(*postgresMinConns, "FILA_LIVE_POSTGRES_MIN_CONNS"),
		PostgresAcquireTimeout: resolveDuration(*postgresAcquireTimeout, "FILA_LIVE_POSTGRES_ACQUIRE_TIMEOUT", defaultAcquireWait),

		GlobalRPS:     resolveFloat(*globalRPS, "FILA_LIVE_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "FILA_LIVE_RATE_GLOBAL_BURST"),
		ConnectLimit:  resolveInt(*connectLimit, "FILA_LIVE_RATE_CONNECT_LIMIT"),
		ConnectWindow: resolveDuration(*connectWindow, "FILA_LIVE_RATE_CONNECT_WINDOW", 0),

		RateRedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("FILA_LIVE_RATE_REDIS_ADDR")),
		RateRedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("FILA_LIVE_RATE_REDIS_PASSWORD")),
		RateRedisTimeout:  resolveDuration(*rateRedisTimeout, "FILA_LIVE_RATE_REDIS_TIMEOUT", 0),

		AllowedOrigins: splitAndTrim(firstNonEmpty(*allowedOrigins, os.Getenv("FILA_LIVE_ALLOWED_ORIGINS"))),
	}

	if cfg.PostgresMaxConns == 0 {
		cfg.PostgresMaxConns = defaultMaxConns
	}

	if err := validateConfig(cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg config) error {
	switch cfg.StorageDriver {
	case "memory":
	case "json":
		if cfg.DataPath == "" {
			return fmt.Errorf("json storage requires --data or FILA_LIVE_DATA_PATH")
		}
	case "redis":
		if cfg.RedisAddr == "" && len(cfg.RedisAddrs) == 0 {
			return fmt.Errorf("redis storage requires --redis-addr or FILA_LIVE_REDIS_ADDR")
		}
	case "postgres":
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres storage requires --postgres-dsn or FILA_LIVE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return fmt.Errorf("TLS requires both a certificate and a key")
	}
	if cfg.PostgresMinConns > cfg.PostgresMaxConns {
		return fmt.Errorf("postgres min connections %d exceed max connections %d", cfg.PostgresMinConns, cfg.PostgresMaxConns)
	}
	return nil
}
