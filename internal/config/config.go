package config

import (
	"os"
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
	Storage    StorageConfig
	Worker     WorkerConfig
	Processing ProcessingConfig
	Remote     RemoteConfig
	Upload     UploadConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	R2         R2Config
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string
	BodyLimitMB   int
}

type StorageConfig struct {
	Base         string
	Retention    time.Duration
	ReapSchedule string
}

// WorkerConfig describes how the analysis worker is launched. The job
// arguments (--input, --output, --job-id) are appended after Args.
type WorkerConfig struct {
	Command string
	Args    []string
	Dir     string
}

type ProcessingConfig struct {
	RequestTimeout time.Duration
	Concurrency    int
}

type RemoteConfig struct {
	AllowedHosts []string
}

type UploadConfig struct {
	SniffAudio bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig enables bearer auth on the submission routes when Secret is set.
type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	ProcessPerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Enabled reports whether archive mirroring has enough configuration to run.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

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
	_ = v.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("storage.base", "STORAGE_BASE")
	_ = v.BindEnv("storage.retention", "STORAGE_RETENTION")
	_ = v.BindEnv("storage.reap_schedule", "STORAGE_REAP_SCHEDULE")
	_ = v.BindEnv("worker.command", "WORKER_COMMAND", "PYTHON_PATH")
	_ = v.BindEnv("worker.args", "WORKER_ARGS")
	_ = v.BindEnv("worker.dir", "WORKER_DIR")
	_ = v.BindEnv("processing.request_timeout", "PROCESSING_REQUEST_TIMEOUT")
	_ = v.BindEnv("processing.concurrency", "PROCESSING_CONCURRENCY")
	_ = v.BindEnv("remote.allowed_hosts", "REMOTE_ALLOWED_HOSTS")
	_ = v.BindEnv("upload.sniff_audio", "UPLOAD_SNIFF_AUDIO")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("ratelimit.process_per_hour", "RATELIMIT_PROCESS_PER_HOUR")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.body_limit_mb", 200)
	v.SetDefault("storage.base", "storage")
	v.SetDefault("storage.retention", 24*time.Hour)
	v.SetDefault("storage.reap_schedule", "@every 1h")
	v.SetDefault("worker.command", "python3")
	v.SetDefault("worker.args", []string{"python/process_audio.py"})
	v.SetDefault("worker.dir", "")
	v.SetDefault("processing.request_timeout", 300*time.Second)
	v.SetDefault("processing.concurrency", 2)
	v.SetDefault("remote.allowed_hosts", []string{"youtube.com", "youtu.be"})
	v.SetDefault("upload.sniff_audio", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("ratelimit.process_per_hour", 20)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			Env:           v.GetString("server.env"),
			LogLevel:      v.GetString("server.log_level"),
			PublicBaseURL: strings.TrimRight(v.GetString("server.public_base_url"), "/"),
			BodyLimitMB:   v.GetInt("server.body_limit_mb"),
		},
		Storage: StorageConfig{
			Base:         v.GetString("storage.base"),
			Retention:    v.GetDuration("storage.retention"),
			ReapSchedule: v.GetString("storage.reap_schedule"),
		},
		Worker: WorkerConfig{
			Command: v.GetString("worker.command"),
			Args:    v.GetStringSlice("worker.args"),
			Dir:     v.GetString("worker.dir"),
		},
		Processing: ProcessingConfig{
			RequestTimeout: v.GetDuration("processing.request_timeout"),
			Concurrency:    v.GetInt("processing.concurrency"),
		},
		Remote: RemoteConfig{
			AllowedHosts: v.GetStringSlice("remote.allowed_hosts"),
		},
		Upload: UploadConfig{
			SniffAudio: v.GetBool("upload.sniff_audio"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			ProcessPerHour: v.GetInt("ratelimit.process_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
