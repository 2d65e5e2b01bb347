package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	MySQL       MySQLConfig       `yaml:"mysql"`
	Redis       RedisConfig       `yaml:"redis"`
	JWT         JWTConfig         `yaml:"jwt"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Generation  GenerationConfig  `yaml:"generation"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Log         LogConfig         `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

type MySQLConfig struct {
	Host         string        `yaml:"host" default:"localhost" validate:"required"`
	Port         int           `yaml:"port" default:"3306" validate:"gt=0,lte=65535"`
	DBName       string        `yaml:"db" default:"project_forge" validate:"required"`
	User         string        `yaml:"user" default:"root"`
	Password     string        `yaml:"pass" default:"root"`
	MaxOpenConns int           `yaml:"max_open" default:"10"`
	MaxIdleConns int           `yaml:"max_idle" default:"5"`
	MaxLifetime  time.Duration `yaml:"max_lifetime" default:"1h"`
}

// RedisConfig leaves Redis off when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"pass" default:""`
	DB       int    `yaml:"db" default:"0"`
}

type JWTConfig struct {
	AccessTTL  time.Duration `yaml:"access_ttl" default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" default:"720h"`
	Secret     string        `yaml:"secret" default:"change-me-please-change-me-please-32" validate:"min=32"`
	Issuer     string        `yaml:"issuer" default:"project-forge"`
	ClockSkew  time.Duration `yaml:"clock_skew" default:"60s"`
}

type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost" default:"12" validate:"gte=10,lte=14"`
}

// Policy is a fixed-window allowance: Limit calls per WindowSeconds.
type Policy struct {
	Limit         int `yaml:"limit" json:"limit" validate:"gt=0"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds" validate:"gt=0"`
}

func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests" default:"1"`
	Interval         time.Duration `yaml:"interval" default:"60s"`
	Timeout          time.Duration `yaml:"timeout" default:"30s"`
	FailureThreshold uint32        `yaml:"failure_threshold" default:"5" validate:"gt=0"`
}

type RateLimitConfig struct {
	Store         string        `yaml:"store" default:"mysql" validate:"oneof=mysql redis memory"`
	Strict        bool          `yaml:"strict" default:"false"`
	PerMinute     int           `yaml:"per_minute" default:"100" validate:"gte=0"`
	ProjectCreate Policy        `yaml:"project_create" default:"{\"limit\":10,\"window_seconds\":60}"`
	Generate      Policy        `yaml:"generate" default:"{\"limit\":5,\"window_seconds\":60}"`
	Login         Policy        `yaml:"login" default:"{\"limit\":5,\"window_seconds\":60}"`
	Refresh       Policy        `yaml:"refresh" default:"{\"limit\":20,\"window_seconds\":60}"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

type GenerationConfig struct {
	BaseURL string        `yaml:"base_url" default:"" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" default:"20s"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// IdempotencyConfig controls replay of POST responses sent with an
// Idempotency-Key header. It needs Redis; without it requests pass through.
type IdempotencyConfig struct {
	Disabled    bool          `yaml:"disabled"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"30s"`
	ResponseTTL time.Duration `yaml:"response_ttl" default:"24h"`
}

type LogConfig struct {
	LevelStr string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/local.yaml"
	}
	return Load(path)
}

func New() (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
