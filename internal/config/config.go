package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/quickoh/relay/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

var Config = struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"` // text or json
	Port        int    `env:"PORT" envDefault:"8081"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9103"`

	// Ephemeral state backend: memory or valkey
	Storage      string        `env:"STORAGE" envDefault:"memory"`
	EphemeralTTL time.Duration `env:"EPHEMERAL_TTL" envDefault:"24h"`

	// Valkey/Redis related settings
	ValkeyURI            string `env:"VALKEY_URI"`
	ValkeyReadTimeout    string `env:"VALKEY_READ_TIMEOUT" envDefault:"3s"`
	ValkeyWriteTimeout   string `env:"VALKEY_WRITE_TIMEOUT" envDefault:"3s"`
	ValkeyDialTimeout    string `env:"VALKEY_DIAL_TIMEOUT" envDefault:"5s"`
	ValkeyPoolTimeout    string `env:"VALKEY_POOL_TIMEOUT" envDefault:"4s"`
	ValkeyReadOnly       bool   `env:"VALKEY_READ_ONLY" envDefault:"false"`
	ValkeyRouteByLatency bool   `env:"VALKEY_ROUTE_BY_LATENCY" envDefault:"false"`
	ValkeyRouteRandomly  bool   `env:"VALKEY_ROUTE_RANDOMLY" envDefault:"false"`
	ValkeyMaxRedirects   int    `env:"VALKEY_MAX_REDIRECTS" envDefault:"3"`
	ValkeyConnectRetries uint64 `env:"VALKEY_CONNECT_RETRIES" envDefault:"3"`

	// Durable records: memory or postgres
	DurableStorage                string `env:"DURABLE_STORAGE" envDefault:"memory"`
	PostgresURI                   string `env:"POSTGRES_URI"`
	PostgresMaxConns              int32  `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	PostgresMinConns              int32  `env:"POSTGRES_MIN_CONNS" envDefault:"0"`
	PostgresMaxConnLifetime       string `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	PostgresMaxConnLifetimeJitter string `env:"POSTGRES_MAX_CONN_LIFETIME_JITTER" envDefault:"10m"`
	PostgresMaxConnIdleTime       string `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	PostgresHealthCheckPeriod     string `env:"POSTGRES_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	PostgresLazyConnect           bool   `env:"POSTGRES_LAZY_CONNECT" envDefault:"false"`
	DurableSeedFile               string `env:"DURABLE_SEED_FILE"`

	// HTTP surface
	CorsOrigins        []string `env:"CORS_ORIGINS" envDefault:"http://localhost:5173,https://quick-oh.onrender.com"`
	BodyLimit          string   `env:"BODY_LIMIT" envDefault:"16K"`
	TrustedProxyRanges []string `env:"TRUSTED_PROXY_RANGES" envDefault:"0.0.0.0/0"`
	SelfSignedTLS      bool     `env:"SELF_SIGNED_TLS" envDefault:"false"`
	PprofEnabled       bool     `env:"PPROF_ENABLED" envDefault:"true"`

	// Relay
	HeartbeatInterval int   `env:"HEARTBEAT_INTERVAL" envDefault:"25"`
	ConnectionsLimit  int   `env:"CONNECTIONS_LIMIT" envDefault:"50"`
	FrameRPS          int   `env:"RELAY_FRAME_RPS" envDefault:"20"`
	FrameBurst        int   `env:"RELAY_FRAME_BURST" envDefault:"40"`
	EnforceRoomAccess bool  `env:"RELAY_ENFORCE_ROOM_ACCESS" envDefault:"true"`
	RejectionAck      bool  `env:"RELAY_REJECTION_ACK" envDefault:"true"`
	SendBufferSize    int   `env:"RELAY_SEND_BUFFER" envDefault:"64"`
	MaxFrameSize      int64 `env:"RELAY_MAX_FRAME_SIZE" envDefault:"8192"`

	// Fixed-window limits, written as <limit>/<window>
	RateLimitCartAdd     ratelimit.Rule `env:"RATE_LIMIT_CART_ADD" envDefault:"30/60s"`
	RateLimitOrderCreate ratelimit.Rule `env:"RATE_LIMIT_ORDER_CREATE" envDefault:"3/300s"`
	RateLimitChat        ratelimit.Rule `env:"RATE_LIMIT_CHAT" envDefault:"20/60s"`
	RateLimitLocation    ratelimit.Rule `env:"RATE_LIMIT_LOCATION" envDefault:"30/60s"`

	// Time source
	NTPEnabled      bool     `env:"NTP_ENABLED" envDefault:"false"`
	NTPServers      []string `env:"NTP_SERVERS" envDefault:"time.google.com,time.cloudflare.com,pool.ntp.org"`
	NTPSyncInterval int      `env:"NTP_SYNC_INTERVAL" envDefault:"300"`
	NTPQueryTimeout int      `env:"NTP_QUERY_TIMEOUT" envDefault:"5"`
}{}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(ratelimit.Rule{}): func(v string) (interface{}, error) {
		return ratelimit.ParseRule(v)
	},
}

func LoadConfig() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load %s: %v", envFile, err)
	}

	if err := env.ParseWithFuncs(&Config, parsers); err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}

	level, err := logrus.ParseLevel(strings.ToLower(Config.LogLevel))
	if err != nil {
		log.Printf("Invalid LOG_LEVEL '%s', using default 'info'. Valid levels: panic, fatal, error, warn, info, debug, trace", Config.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if strings.EqualFold(Config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
