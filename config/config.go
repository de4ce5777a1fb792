package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	WebRTC    WebRTCConfig
	AWS       AWSConfig
	Media     MediaConfig
	Signaling SignalingConfig
	Tracing   TracingConfig
}

// MediaConfig holds video ingestion settings.
type MediaConfig struct {
	StagingDir      string // temp directory for staged uploads; empty = os.TempDir()
	FFprobePath     string
	ProbeTimeoutSec int
	MaxUploadBytes  int64 // whole multipart request ceiling
	Folder          string
}

// SignalingConfig holds call signaling limits.
type SignalingConfig struct {
	MaxParticipants int // per room; 0 = unlimited
	RatePerSec      float64
	RateBurst       int
	SendBuffer      int
	PresenceTTLSec  int
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	SampleRate  float64
}

// WebRTCConfig holds STUN/TURN ICE server URLs handed to call clients.
type WebRTCConfig struct {
	ICEUrls        []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	TURNUsername   string
	TURNCredential string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the media bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MediaBucket     string
	PublicBaseURL   string // optional CDN/base URL; default is the bucket's virtual-hosted URL
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 120),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "edusphere"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:        splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUsername:   getEnv("WEBRTC_TURN_USERNAME", ""),
			TURNCredential: getEnv("WEBRTC_TURN_CREDENTIAL", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:     getEnv("AWS_S3_MEDIA_BUCKET", "edusphere-media"),
			PublicBaseURL:   getEnv("AWS_S3_PUBLIC_BASE_URL", ""),
		},
		Media: MediaConfig{
			StagingDir:      getEnv("MEDIA_STAGING_DIR", ""),
			FFprobePath:     getEnv("FFPROBE_PATH", "ffprobe"),
			ProbeTimeoutSec: getEnvInt("FFPROBE_TIMEOUT_SEC", 30),
			MaxUploadBytes:  getEnvInt64("UPLOAD_MAX_BYTES", 100*1024*1024),
			Folder:          getEnv("MEDIA_FOLDER", "educational_videos"),
		},
		Signaling: SignalingConfig{
			MaxParticipants: getEnvInt("SIGNALING_MAX_PARTICIPANTS", 8),
			RatePerSec:      getEnvFloat("SIGNALING_RATE_PER_SEC", 50),
			RateBurst:       getEnvInt("SIGNALING_RATE_BURST", 100),
			SendBuffer:      getEnvInt("SIGNALING_SEND_BUFFER", 256),
			PresenceTTLSec:  getEnvInt("SIGNALING_PRESENCE_TTL_SEC", 86400),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "edusphere-media"),
			JaegerURL:   getEnv("TRACING_JAEGER_URL", "http://localhost:14268/api/traces"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Media.MaxUploadBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Signaling.MaxParticipants < 0 {
		return fmt.Errorf("SIGNALING_MAX_PARTICIPANTS must not be negative")
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("SIGNALING_SEND_BUFFER must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
