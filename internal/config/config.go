// Package config loads harvester configuration from a .env file and
// environment variables into a flat Config struct.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/quanku-art/tile-harvester/internal/retry"
)

// Config is the fully-resolved set of knobs the harvester runs with.
type Config struct {
	ArtistCSVPath string
	RawdataDir    string
	Workers       int
	UseProxy      bool
	ProxyKey      string

	// LedgerDSN, when non-empty, enables the supplementary MySQL crawl
	// ledger (internal/ledger).
	LedgerDSN string

	// S3Bucket, when non-empty, enables archival uploads (internal/archive).
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// RedisAddr, when non-empty, enables the TokenPool write-behind mirror.
	RedisAddr string

	// StatusAddr is the listen address for the local status/admin server
	// (empty disables it).
	StatusAddr string
}

// defaultProxyKeyPlaceholder gates the QINGGOU_KEY fallback: the vendor
// key env var is only consulted while PROXY_KEY still holds this literal.
const defaultProxyKeyPlaceholder = "REPLACE_WITH_QINGGOU_KEY"

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// Load reads a .env file (if present) then environment variables. The
// worker count defaults to 10 with proxies and 1 without.
func Load() (*Config, error) {
	_ = godotenv.Load()

	useProxy := getEnvBool("USE_PROXY", true)
	defaultWorkers := 10
	if !useProxy {
		defaultWorkers = 1
	}

	proxyKey := getEnv("PROXY_KEY", defaultProxyKeyPlaceholder)
	if proxyKey == defaultProxyKeyPlaceholder {
		proxyKey = os.Getenv("QINGGOU_KEY")
	}

	cfg := &Config{
		ArtistCSVPath: getEnv("ARTIST_CSV_PATH", "data/artists.csv"),
		RawdataDir:    getEnv("RAWDATA_DIR", "data/rawdata"),
		Workers:       getEnvInt("WORKERS", defaultWorkers),
		UseProxy:      useProxy,
		ProxyKey:      proxyKey,
		LedgerDSN:     getEnv("LEDGER_DSN", ""),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		StatusAddr:    getEnv("STATUS_ADDR", ""),
	}

	if cfg.ArtistCSVPath == "" {
		return nil, &retry.ConfigError{Reason: "ARTIST_CSV_PATH must not be empty"}
	}
	if cfg.UseProxy && cfg.ProxyKey == "" {
		return nil, &retry.ConfigError{Reason: "proxy mode requires PROXY_KEY or QINGGOU_KEY"}
	}
	return cfg, nil
}
