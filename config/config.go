package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/document-converter/pkg/logger"
)

// Config 服务配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     logger.Config `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
	Sources SourcesConfig `yaml:"sources"`
	Engine  EngineConfig  `yaml:"engine"`
}

type ServerConfig struct {
	Addr             string        `yaml:"addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodyMB int64         `yaml:"max_request_body_mb"`
	AllowOrigins     []string      `yaml:"allow_origins"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Name           string         `yaml:"name"`
	Concurrency    int            `yaml:"concurrency"`
	MaxRetry       int            `yaml:"max_retry"`
	RetryDelay     time.Duration  `yaml:"retry_delay"`
	ProcessTimeout time.Duration  `yaml:"process_timeout"`
	StatusTTL      time.Duration  `yaml:"status_ttl"`
	Queues         map[string]int `yaml:"queues"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
	GCS   GCSConfig   `yaml:"gcs"`
	// ResultsURI is where async results and remote outputs without a target go, e.g. s3://bucket/results.
	ResultsURI string `yaml:"results_uri"`
}

type S3Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type MinioConfig struct {
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"use_ssl"`
	Region   string `yaml:"region"`
}

type GCSConfig struct {
	ProjectID string `yaml:"project_id"`
	Endpoint  string `yaml:"endpoint"`
}

type SourcesConfig struct {
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

type EngineConfig struct {
	Textract TextractConfig `yaml:"textract"`
}

type TextractConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Region        string  `yaml:"region"`
	MinConfidence float32 `yaml:"min_confidence"`
	EnableTables  bool    `yaml:"enable_tables"`
	EnableForms   bool    `yaml:"enable_forms"`
}

// Default returns the configuration used when neither file nor environment set a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     5 * time.Minute,
			ShutdownTimeout:  5 * time.Second,
			MaxRequestBodyMB: 100,
			AllowOrigins:     []string{"*"},
		},
		Log: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Queue: QueueConfig{
			Name:           "default",
			Concurrency:    5,
			MaxRetry:       0,
			RetryDelay:     time.Minute,
			ProcessTimeout: 30 * time.Minute,
			StatusTTL:      24 * time.Hour,
			Queues: map[string]int{
				"default": 1,
			},
		},
		Storage: StorageConfig{
			S3: S3Config{Region: "us-east-1"},
		},
		Sources: SourcesConfig{
			HTTPTimeout:   60 * time.Second,
			MaxConcurrent: 4,
		},
		Engine: EngineConfig{
			Textract: TextractConfig{
				MinConfidence: 80,
				EnableTables:  true,
				EnableForms:   true,
			},
		},
	}
}

// Load reads path (optional, YAML), then .env, then environment overrides.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "DOCCONV_ADDR")
	setString(&c.Log.Level, "DOCCONV_LOG_LEVEL")
	setString(&c.Log.Encoding, "DOCCONV_LOG_ENCODING")
	setString(&c.Redis.Addr, "DOCCONV_REDIS_ADDR")
	setString(&c.Redis.Password, "DOCCONV_REDIS_PASSWORD")
	setString(&c.Storage.ResultsURI, "DOCCONV_RESULTS_URI")
	setString(&c.Storage.S3.Region, "AWS_REGION")
	setString(&c.Storage.S3.Endpoint, "AWS_ENDPOINT")
	setString(&c.Storage.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Storage.Minio.Region, "MINIO_REGION")
	setString(&c.Storage.GCS.ProjectID, "GOOGLE_CLOUD_PROJECT")
	setString(&c.Engine.Textract.Region, "AWS_REGION")

	if err := setInt(&c.Redis.DB, "DOCCONV_REDIS_DB"); err != nil {
		return err
	}
	if err := setInt(&c.Queue.Concurrency, "DOCCONV_WORKER_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.Sources.MaxConcurrent, "DOCCONV_MAX_CONCURRENT_SOURCES"); err != nil {
		return err
	}
	if err := setBool(&c.Storage.Minio.UseSSL, "MINIO_USE_SSL"); err != nil {
		return err
	}
	if err := setBool(&c.Engine.Textract.Enabled, "DOCCONV_TEXTRACT_ENABLED"); err != nil {
		return err
	}
	return setDuration(&c.Sources.HTTPTimeout, "DOCCONV_HTTP_TIMEOUT")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must be set")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Sources.MaxConcurrent <= 0 {
		return fmt.Errorf("sources.max_concurrent must be positive, got %d", c.Sources.MaxConcurrent)
	}
	if c.Storage.ResultsURI != "" && !strings.Contains(c.Storage.ResultsURI, "://") {
		return fmt.Errorf("storage.results_uri must be a bucket URI, got %q", c.Storage.ResultsURI)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
