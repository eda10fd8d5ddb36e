package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Zitadel    ZitadelConfig
	Suno       SunoConfig
	Generation GenerationConfig
	Client     ClientConfig
	RateLimit  RateLimitConfig
	R2         R2Config
	Gateway    GatewayConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Type     string // postgres or sqlite
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Path     string // sqlite file
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type SunoConfig struct {
	APIKey      string
	BaseURL     string
	CallbackURL string
	Model       string
	Timeout     int // seconds
}

// GenerationConfig holds the tracking policy shared by client and server.
type GenerationConfig struct {
	FreeLimit       int
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	Debounce        time.Duration
	StaleAfter      time.Duration
	SweepInterval   time.Duration
	PromptMaxLength int
}

type ClientConfig struct {
	DataDir string
}

type RateLimitConfig struct {
	CallbackPerMin int
	ReadPerMin     int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shattavibe"
	}
	return filepath.Join(home, ".shattavibe")
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DB_PASSWORD")
	readSecret("SUNO_API_KEY")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.type", "DB_TYPE")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.sslmode", "DB_SSLMODE")
	_ = v.BindEnv("database.path", "DB_PATH")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = v.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = v.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = v.BindEnv("suno.model", "SUNO_MODEL")
	_ = v.BindEnv("suno.timeout", "SUNO_TIMEOUT")
	_ = v.BindEnv("generation.free_limit", "GENERATION_FREE_LIMIT")
	_ = v.BindEnv("generation.poll_interval", "GENERATION_POLL_INTERVAL")
	_ = v.BindEnv("generation.max_poll_duration", "GENERATION_MAX_POLL_DURATION")
	_ = v.BindEnv("generation.debounce", "GENERATION_DEBOUNCE")
	_ = v.BindEnv("generation.stale_after", "GENERATION_STALE_AFTER")
	_ = v.BindEnv("generation.sweep_interval", "GENERATION_SWEEP_INTERVAL")
	_ = v.BindEnv("client.data_dir", "SHATTAVIBE_DATA_DIR")
	_ = v.BindEnv("ratelimit.callback_per_min", "RATELIMIT_CALLBACK_PER_MIN")
	_ = v.BindEnv("ratelimit.read_per_min", "RATELIMIT_READ_PER_MIN")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "shattavibe.db")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("ratelimit.callback_per_min", 120)
	v.SetDefault("ratelimit.read_per_min", 60)

	// Suno defaults
	v.SetDefault("suno.base_url", "https://api.sunoapi.org")
	v.SetDefault("suno.model", "V5")
	v.SetDefault("suno.timeout", 60)

	// Generation policy defaults
	v.SetDefault("generation.free_limit", 2)
	v.SetDefault("generation.poll_interval", 3*time.Second)
	v.SetDefault("generation.max_poll_duration", 15*time.Minute)
	v.SetDefault("generation.debounce", 400*time.Millisecond)
	v.SetDefault("generation.stale_after", 30*time.Minute)
	v.SetDefault("generation.sweep_interval", time.Minute)
	v.SetDefault("generation.prompt_max_length", 500)

	v.SetDefault("client.data_dir", defaultDataDir())

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Type:     v.GetString("database.type"),
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			Name:     v.GetString("database.name"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			SSLMode:  v.GetString("database.sslmode"),
			Path:     v.GetString("database.path"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Suno: SunoConfig{
			APIKey:      v.GetString("suno.api_key"),
			BaseURL:     v.GetString("suno.base_url"),
			CallbackURL: v.GetString("suno.callback_url"),
			Model:       v.GetString("suno.model"),
			Timeout:     v.GetInt("suno.timeout"),
		},
		Generation: GenerationConfig{
			FreeLimit:       v.GetInt("generation.free_limit"),
			PollInterval:    v.GetDuration("generation.poll_interval"),
			MaxPollDuration: v.GetDuration("generation.max_poll_duration"),
			Debounce:        v.GetDuration("generation.debounce"),
			StaleAfter:      v.GetDuration("generation.stale_after"),
			SweepInterval:   v.GetDuration("generation.sweep_interval"),
			PromptMaxLength: v.GetInt("generation.prompt_max_length"),
		},
		Client: ClientConfig{
			DataDir: v.GetString("client.data_dir"),
		},
		RateLimit: RateLimitConfig{
			CallbackPerMin: v.GetInt("ratelimit.callback_per_min"),
			ReadPerMin:     v.GetInt("ratelimit.read_per_min"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
