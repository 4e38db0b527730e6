package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIBaseURL  string
	CompanyName string
	LogLevel    string
	RedisDSN    string
	DBDSN       string

	// raw secrets kept in-memory only; never log these
	Email       string
	Password    string
	TOTPCode    string
	Permissions string

	CredentialCacheFile string
	SweepInterval       time.Duration
	PageDelay           time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		APIBaseURL:          getenvDefault("TD_BASE_URL", "https://api2.timedoctor.com"),
		CompanyName:         os.Getenv("TD_COMPANY"),
		LogLevel:            getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:            getenvDefault("REDIS_DSN", ""),
		DBDSN:               getenvDefault("DB_DSN", ""),
		Email:               os.Getenv("TD_EMAIL"),
		Password:            os.Getenv("TD_PASSWORD"),
		TOTPCode:            os.Getenv("TD_TOTP_CODE"),
		Permissions:         getenvDefault("TD_PERMISSIONS", "write"),
		CredentialCacheFile: getenvDefault("CREDENTIAL_CACHE_FILE", "credential_cache.json"),
	}

	if cfg.Email == "" {
		return Config{}, errors.New("missing TD_EMAIL")
	}
	if cfg.Password == "" {
		return Config{}, errors.New("missing TD_PASSWORD")
	}
	if cfg.CompanyName == "" {
		return Config{}, errors.New("missing TD_COMPANY")
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	sweepMinutes, err := strconv.Atoi(getenvDefault("SWEEP_INTERVAL_MINUTES", "60"))
	if err != nil || sweepMinutes < 1 {
		return Config{}, errors.New("SWEEP_INTERVAL_MINUTES must be a positive integer")
	}
	cfg.SweepInterval = time.Duration(sweepMinutes) * time.Minute

	pageDelayMs, err := strconv.Atoi(getenvDefault("PAGE_DELAY_MS", "200"))
	if err != nil || pageDelayMs < 0 {
		return Config{}, errors.New("PAGE_DELAY_MS must be a non-negative integer")
	}
	cfg.PageDelay = time.Duration(pageDelayMs) * time.Millisecond

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
