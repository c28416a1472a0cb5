package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Detection Detection       `mapstructure:"detection"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`       // debug, release, test
	RateLimit int    `mapstructure:"rate_limit"` // trace/export requests per minute per investigator
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type SolanaConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	WSURL             string        `mapstructure:"ws_url"`
	Commitment        string        `mapstructure:"commitment"`
	WatchedAddresses  []string      `mapstructure:"watched_addresses"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SignatureLimit    int           `mapstructure:"signature_limit"`
}

type AuthConfig struct {
	JWT                JWTConfig      `mapstructure:"jwt"`
	Investigators      []Investigator `mapstructure:"investigators"`
	BusinessHoursStart int            `mapstructure:"business_hours_start"` // UTC hour, inclusive
	BusinessHoursEnd   int            `mapstructure:"business_hours_end"`   // UTC hour, exclusive
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// Investigator is an operator allowed to use the API. KeyHash is an
// encoded Argon2id hash of the investigator's API key.
type Investigator struct {
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	KeyHash string `mapstructure:"key_hash"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type NotifyConfig struct {
	Channels       []string      `mapstructure:"channels"` // priority order, primary first
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookSecret  string        `mapstructure:"webhook_secret"` // HMAC-SHA256 key for X-Signature
	RedisChannel   string        `mapstructure:"redis_channel"`
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
}

type AuditConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

// Retention returns the retention window as a duration.
func (a AuditConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// Detection carries every threshold the detection and tracing engines read.
// Amounts are in lamports. A Detection value is never mutated once
// published through a DetectionStore; reloads publish a fresh value.
type Detection struct {
	LargeTransfer           int64          `mapstructure:"large_transfer" json:"largeTransfer"`
	MinTransfer             int64          `mapstructure:"min_transfer" json:"minTransfer"`
	HighValue               int64          `mapstructure:"high_value" json:"highValue"`
	MediumValue             int64          `mapstructure:"medium_value" json:"mediumValue"`
	FanOutMinRecipients     int            `mapstructure:"fan_out_min_recipients" json:"fanOutMinRecipients"`
	FanOutWindow            time.Duration  `mapstructure:"fan_out_window" json:"fanOutWindow"`
	ClusterMinInteractions  int            `mapstructure:"cluster_min_interactions" json:"clusterMinInteractions"`
	ClusterWindow           time.Duration  `mapstructure:"cluster_window" json:"clusterWindow"`
	VelocityMaxTransactions int            `mapstructure:"velocity_max_transactions" json:"velocityMaxTransactions"`
	RapidMovementWindow     time.Duration  `mapstructure:"rapid_movement_window" json:"rapidMovementWindow"`
	RecentCacheSize         int            `mapstructure:"recent_cache_size" json:"recentCacheSize"`
	PollInterval            time.Duration  `mapstructure:"poll_interval" json:"pollInterval"`
	TraceMaxDepth           int            `mapstructure:"trace_max_depth" json:"traceMaxDepth"`
	MixerPattern            string         `mapstructure:"mixer_pattern" json:"mixerPattern"`
	KnownAddresses          []KnownAddress `mapstructure:"known_addresses" json:"knownAddresses"`
}

// KnownAddress labels an address in flow graphs. Kind is one of
// exchange, mixer, program or any free-form tag.
type KnownAddress struct {
	Address string `mapstructure:"address" json:"address"`
	Label   string `mapstructure:"label" json:"label"`
	Kind    string `mapstructure:"kind" json:"kind"`
}

// Validate rejects thresholds that would make detection meaningless.
func (d Detection) Validate() error {
	var errs []error
	if d.LargeTransfer <= 0 {
		errs = append(errs, errors.New("large_transfer must be positive"))
	}
	if d.MinTransfer < 0 {
		errs = append(errs, errors.New("min_transfer must not be negative"))
	}
	if d.MediumValue > d.HighValue {
		errs = append(errs, errors.New("medium_value must not exceed high_value"))
	}
	if d.FanOutMinRecipients < 1 {
		errs = append(errs, errors.New("fan_out_min_recipients must be at least 1"))
	}
	if d.RecentCacheSize < 1 {
		errs = append(errs, errors.New("recent_cache_size must be at least 1"))
	}
	if d.TraceMaxDepth < 1 {
		errs = append(errs, errors.New("trace_max_depth must be at least 1"))
	}
	if d.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if _, err := regexp.Compile(d.MixerPattern); err != nil {
		errs = append(errs, fmt.Errorf("mixer_pattern: %w", err))
	}
	return errors.Join(errs...)
}

// Known returns the label entry for addr, if any.
func (d Detection) Known(addr string) (KnownAddress, bool) {
	for _, k := range d.KnownAddresses {
		if k.Address == addr {
			return k, true
		}
	}
	return KnownAddress{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.rate_limit", 30)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "solana_forensics")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "forensic-alerts")
	v.SetDefault("kafka.client_id", "solana-forensics")
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.ws_url", "wss://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.watched_addresses", []string{})
	v.SetDefault("solana.requests_per_second", 8.0)
	v.SetDefault("solana.max_retries", 3)
	v.SetDefault("solana.timeout", "15s")
	v.SetDefault("solana.signature_limit", 25)
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.expiry", "8h")
	v.SetDefault("auth.jwt.issuer", "solana-forensics")
	v.SetDefault("auth.business_hours_start", 0)
	v.SetDefault("auth.business_hours_end", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("notify.channels", []string{"log"})
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_secret", "")
	v.SetDefault("notify.redis_channel", "forensics:alerts")
	v.SetDefault("notify.channel_timeout", "10s")
	v.SetDefault("audit.retention_days", 2555)
	v.SetDefault("audit.prune_interval", "24h")
	v.SetDefault("detection.large_transfer", 100_000_000_000)
	v.SetDefault("detection.min_transfer", 1_000_000)
	v.SetDefault("detection.high_value", 1_000_000_000_000)
	v.SetDefault("detection.medium_value", 100_000_000_000)
	v.SetDefault("detection.fan_out_min_recipients", 3)
	v.SetDefault("detection.fan_out_window", "60s")
	v.SetDefault("detection.cluster_min_interactions", 3)
	v.SetDefault("detection.cluster_window", "5m")
	v.SetDefault("detection.velocity_max_transactions", 10)
	v.SetDefault("detection.rapid_movement_window", "60s")
	v.SetDefault("detection.recent_cache_size", 20)
	v.SetDefault("detection.poll_interval", "10s")
	v.SetDefault("detection.trace_max_depth", 3)
	v.SetDefault("detection.mixer_pattern", `(?i)(mixer|tornado|tumbler|coinjoin)`)
}

// Loader owns the viper instance so the detection section can be re-read
// after the file changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SFE_ (Solana Forensics Engine).
// Nested keys use underscore: SFE_DATABASE_HOST, SFE_AUTH_JWT_SECRET, etc.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Not required; env vars can suffice.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return &Loader{v: v}, nil
}

// Config unmarshals and validates the full configuration.
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Detection.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detection config: %w", err)
	}
	return &cfg, nil
}

// Load is a shorthand for NewLoader followed by Config.
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}
