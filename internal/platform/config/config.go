package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by SCANMAP_DOCSTORE.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config captures process level configuration for the gateway.
type Config struct {
	Server    Server
	Identity  Identity
	DocStore  DocStore
	Redis     RedisConfig
	Postgres  PostgresConfig
	MQTT      MQTTConfig
	Telemetry TelemetryConfig
	Scan      ScanConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr      string
	LogLevel  string
	LogFormat string
}

// Identity selects where the installation identifier comes from.
// A non-empty InstallationID wins over the file.
type Identity struct {
	InstallationID string
	File           string
}

// DocStore selects the remote document store backend.
type DocStore struct {
	Backend string
}

// RedisConfig holds connection settings for the Redis document store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig holds connection settings for the Postgres document store.
type PostgresConfig struct {
	DSN string
}

// MQTTConfig points at the broker the companion device publishes to.
// An empty Broker disables the platform bridge.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// TelemetryConfig configures Sentry. An empty DSN disables reporting.
type TelemetryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// ScanConfig carries the scan timing constants and the bluetooth placement circle.
type ScanConfig struct {
	BLEWindow       time.Duration
	BarcodeDebounce time.Duration
	GeoTimeout      time.Duration
	GeoMaxAge       time.Duration
	RandomGeoLat    float64
	RandomGeoLon    float64
	RandomGeoRadius float64
}

const (
	defaultAddr            = ":8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultIdentityFile    = "data/installation-id"
	defaultMQTTClientID    = "scanmap-gateway"
	defaultMQTTTopicPrefix = "scanmap"
	defaultEnvironment     = "development"
	defaultBLEWindow       = 5 * time.Second
	defaultBarcodeDebounce = 3 * time.Second
	defaultGeoTimeout      = 15 * time.Second
	defaultGeoMaxAge       = 10 * time.Second
	defaultRandomGeoLat    = 50.43697235800866
	defaultRandomGeoLon    = 30.53963517451611
	defaultRandomGeoRadius = 15000
)

// Defaults returns the configuration used when no environment is set.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:      defaultAddr,
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Identity: Identity{File: defaultIdentityFile},
		DocStore: DocStore{Backend: BackendMemory},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    defaultMQTTClientID,
			TopicPrefix: defaultMQTTTopicPrefix,
		},
		Telemetry: TelemetryConfig{Environment: defaultEnvironment},
		Scan: ScanConfig{
			BLEWindow:       defaultBLEWindow,
			BarcodeDebounce: defaultBarcodeDebounce,
			GeoTimeout:      defaultGeoTimeout,
			GeoMaxAge:       defaultGeoMaxAge,
			RandomGeoLat:    defaultRandomGeoLat,
			RandomGeoLon:    defaultRandomGeoLon,
			RandomGeoRadius: defaultRandomGeoRadius,
		},
	}
}

// FromEnv builds a Config from SCANMAP_* environment variables so main stays lean.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Defaults()
	p := parser{lookup: lookup}

	p.str("SCANMAP_ADDR", &cfg.Server.Addr)
	p.str("SCANMAP_LOG_LEVEL", &cfg.Server.LogLevel)
	p.str("SCANMAP_LOG_FORMAT", &cfg.Server.LogFormat)

	p.str("SCANMAP_INSTALLATION_ID", &cfg.Identity.InstallationID)
	p.str("SCANMAP_IDENTITY_FILE", &cfg.Identity.File)

	p.str("SCANMAP_DOCSTORE", &cfg.DocStore.Backend)

	p.str("SCANMAP_REDIS_URL", &cfg.Redis.URL)
	p.integer("SCANMAP_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	p.integer("SCANMAP_REDIS_MIN_IDLE", &cfg.Redis.MinIdleConns)
	p.duration("SCANMAP_REDIS_DIAL_TIMEOUT", &cfg.Redis.DialTimeout)
	p.duration("SCANMAP_REDIS_READ_TIMEOUT", &cfg.Redis.ReadTimeout)
	p.duration("SCANMAP_REDIS_WRITE_TIMEOUT", &cfg.Redis.WriteTimeout)

	p.str("SCANMAP_POSTGRES_DSN", &cfg.Postgres.DSN)

	p.str("SCANMAP_MQTT_BROKER", &cfg.MQTT.Broker)
	p.str("SCANMAP_MQTT_CLIENT_ID", &cfg.MQTT.ClientID)
	p.str("SCANMAP_MQTT_TOPIC_PREFIX", &cfg.MQTT.TopicPrefix)

	p.str("SCANMAP_SENTRY_DSN", &cfg.Telemetry.DSN)
	p.str("SCANMAP_ENVIRONMENT", &cfg.Telemetry.Environment)
	p.str("SCANMAP_RELEASE", &cfg.Telemetry.Release)

	p.duration("SCANMAP_BLE_SCAN_WINDOW", &cfg.Scan.BLEWindow)
	p.duration("SCANMAP_BARCODE_DEBOUNCE", &cfg.Scan.BarcodeDebounce)
	p.duration("SCANMAP_GEO_TIMEOUT", &cfg.Scan.GeoTimeout)
	p.duration("SCANMAP_GEO_MAX_AGE", &cfg.Scan.GeoMaxAge)
	p.coordinates("SCANMAP_RANDOM_GEO_CENTER", &cfg.Scan.RandomGeoLat, &cfg.Scan.RandomGeoLon)
	p.float("SCANMAP_RANDOM_GEO_RADIUS", &cfg.Scan.RandomGeoRadius)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that single keys cannot express.
func (c Config) Validate() error {
	switch c.DocStore.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("SCANMAP_REDIS_URL is required for the redis docstore")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("SCANMAP_POSTGRES_DSN is required for the postgres docstore")
		}
	default:
		return fmt.Errorf("invalid SCANMAP_DOCSTORE %q: want memory, redis or postgres", c.DocStore.Backend)
	}
	if c.Scan.BLEWindow <= 0 {
		return fmt.Errorf("invalid SCANMAP_BLE_SCAN_WINDOW: must be positive")
	}
	if c.Scan.RandomGeoRadius < 0 {
		return fmt.Errorf("invalid SCANMAP_RANDOM_GEO_RADIUS: must not be negative")
	}
	return nil
}

// parser keeps the first error so FromEnv reads as a flat list of keys.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) value(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.value(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = n
}

func (p *parser) float(key string, dst *float64) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = f
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return
	}
	*dst = d
}

// coordinates parses "lat,lon".
func (p *parser) coordinates(key string, lat, lon *float64) {
	v, ok := p.value(key)
	if !ok {
		return
	}
	latStr, lonStr, found := strings.Cut(v, ",")
	if !found {
		p.err = fmt.Errorf("invalid %s: want \"lat,lon\"", key)
		return
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s latitude: %w", key, err)
		return
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		p.err = fmt.Errorf("invalid %s longitude: %w", key, err)
		return
	}
	*lat, *lon = la, lo
}
