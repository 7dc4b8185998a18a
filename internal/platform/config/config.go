package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type HTTPConfig struct {
	Addr string
}

type UploadConfig struct {
	// Dir is where the filesystem blob store keeps attachment files.
	Dir string
	// MaxImageBytes caps uploaded image size before decoding.
	MaxImageBytes int64
	// MaxTextBytes caps uploaded text file size.
	MaxTextBytes int64
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	HTTP        HTTPConfig
	DatabaseURL string
	RedisDSN    string
	NATSURL     string
	JWTSecret   string
	Upload      UploadConfig
}

// IsProd reports whether the process runs with production guarantees
// (no in-memory fallbacks allowed).
func (c AppConfig) IsProd() bool {
	return strings.EqualFold(c.Env, "production")
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Env:         strings.TrimSpace(os.Getenv("APP_ENV")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisDSN:    strings.TrimSpace(os.Getenv("REDIS_DSN")),
		NATSURL:     strings.TrimSpace(os.Getenv("NATS_URL")),
		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		Upload: UploadConfig{
			Dir:           strings.TrimSpace(os.Getenv("UPLOAD_DIR")),
			MaxImageBytes: envBytes("UPLOAD_MAX_IMAGE_BYTES", 10<<20),
			MaxTextBytes:  envBytes("UPLOAD_MAX_TEXT_BYTES", 100<<10),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = "./data/attachments"
	}
	return cfg, nil
}

func envBytes(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
