package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string `env:"ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	APIBaseURL string        `env:"API_URL" envDefault:"http://localhost:3000/api"`
	APIToken   string        `env:"API_TOKEN"`
	APITimeout time.Duration `env:"API_TIMEOUT" envDefault:"60s"`
	RateLimit  float64       `env:"API_RATE_LIMIT" envDefault:"10"`
	RateBurst  int           `env:"API_RATE_BURST" envDefault:"5"`
	Mock       bool          `env:"MOCK" envDefault:"false"`

	// Empty means tokens are parsed without signature checks.
	JWTSecret string `env:"JWT_SECRET"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxPollAttempts int           `env:"POLL_ATTEMPTS" envDefault:"20"`

	UploadConcurrency int           `env:"UPLOAD_CONCURRENCY" envDefault:"4"`
	UploadCacheTTL    time.Duration `env:"UPLOAD_CACHE_TTL" envDefault:"30m"`

	HistoryPageSize int `env:"HISTORY_PAGE_SIZE" envDefault:"12"`
}

const Prefix = "GENSTUDIO_"

// Load reads an optional .env file, then the GENSTUDIO_* environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%sPOLL_INTERVAL must be positive", Prefix)
	}
	if c.MaxPollAttempts < 1 {
		return fmt.Errorf("%sPOLL_ATTEMPTS must be at least 1", Prefix)
	}
	if c.HistoryPageSize < 1 {
		return fmt.Errorf("%sHISTORY_PAGE_SIZE must be at least 1", Prefix)
	}
	if !c.Mock && c.APIBaseURL == "" {
		return fmt.Errorf("%sAPI_URL is required unless %sMOCK is set", Prefix, Prefix)
	}
	return nil
}
