package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Accounts  []AccountConfig `yaml:"accounts"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string           `yaml:"level"`
	Format     string           `yaml:"format"`
	Output     string           `yaml:"output"`
	MaxAge     int              `yaml:"max_age"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ReaderConfig struct {
	UserAgent        string          `yaml:"user_agent"`
	Lang             string          `yaml:"lang"`
	Timeout          time.Duration   `yaml:"timeout"`
	PageDelayMin     time.Duration   `yaml:"page_delay_min"`
	PageDelayMax     time.Duration   `yaml:"page_delay_max"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	EndpointOverride string          `yaml:"endpoint_override"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type ProcessorConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Workers   int           `yaml:"workers"`
	Interval  time.Duration `yaml:"interval"`
}

// Storage backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	DataDir string      `yaml:"data_dir"`
	Redis   RedisConfig `yaml:"redis"`
	S3      S3Config    `yaml:"s3"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Compression     string `yaml:"compression"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AccountConfig seeds an account. Either token (directly or via token_env) or
// gacha_url must be present.
type AccountConfig struct {
	UID      string `yaml:"uid"`
	RoleID   string `yaml:"role_id"`
	Provider string `yaml:"provider"`
	ServerID string `yaml:"server_id"`
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"token_env"`
	GachaURL string `yaml:"gacha_url"`
}

// Default returns the configuration used for every key the file leaves unset.
func Default() Config {
	return Config{
		App: AppConfig{Name: "gachasync"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Reader: ReaderConfig{
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Lang:         "zh-cn",
			Timeout:      15 * time.Second,
			PageDelayMin: 500 * time.Millisecond,
			PageDelayMax: 1000 * time.Millisecond,
			RateLimit:    RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1},
		},
		Processor: ProcessorConfig{
			QueueSize: 16,
			Workers:   2,
			Interval:  time.Hour,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			DataDir: "userData",
			Redis:   RedisConfig{Addr: "localhost:6379"},
			S3:      S3Config{Prefix: "gacha", Compression: "snappy"},
		},
		Kafka: KafkaConfig{Topic: "gachasync.records"},
		Dashboard: DashboardConfig{
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
		},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("GACHASYNC_DATA_DIR"); v != "" {
		config.Storage.DataDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Storage.Redis.Addr = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	for i := range config.Accounts {
		acc := &config.Accounts[i]
		if acc.TokenEnv == "" {
			continue
		}
		if v := os.Getenv(acc.TokenEnv); v != "" {
			acc.Token = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Reader.PageDelayMin < 0 || cfg.Reader.PageDelayMax < cfg.Reader.PageDelayMin {
		return fmt.Errorf("reader.page_delay_max must not be less than reader.page_delay_min")
	}
	if cfg.Reader.EndpointOverride != "" {
		if u, err := url.Parse(cfg.Reader.EndpointOverride); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("reader.endpoint_override '%s' is not an absolute URL", cfg.Reader.EndpointOverride)
		}
	}

	if cfg.Processor.QueueSize <= 0 {
		return fmt.Errorf("processor.queue_size must be greater than 0")
	}
	if cfg.Processor.Workers <= 0 {
		return fmt.Errorf("processor.workers must be greater than 0")
	}
	if cfg.Processor.Interval < 0 {
		return fmt.Errorf("processor.interval must not be negative")
	}

	switch cfg.Storage.Backend {
	case BackendFile:
		if cfg.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the file backend")
		}
	case BackendRedis:
		if cfg.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend '%s' is invalid", cfg.Storage.Backend)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	for i, acc := range cfg.Accounts {
		if acc.Token == "" && acc.GachaURL == "" {
			return fmt.Errorf("accounts[%d] needs a token, token_env or gacha_url", i)
		}
		if acc.GachaURL == "" && acc.UID == "" {
			return fmt.Errorf("accounts[%d].uid is required for token accounts", i)
		}
		switch strings.ToLower(acc.Provider) {
		case "", "hypergryph", "gryphline":
		default:
			return fmt.Errorf("accounts[%d].provider '%s' is invalid", i, acc.Provider)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
