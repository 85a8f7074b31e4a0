package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir string // root of bookmarks/, content/, index.json, settings.json

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => console writer, false => JSON lines

	ListenAddr      string        // serve, ex: ":8080"
	ShutdownTimeout time.Duration // serve, graceful shutdown budget
	MetricsFile     string        // optional Prometheus textfile written after each command
	ChunkDelay      time.Duration // pause between ingest chunks
}

// NewConfig reads the environment, after loading a .env file from the
// working directory when one exists.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	dataDir, err := dataDir(getenv("BOOKMARKER_DATA_DIR", ""))
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:         dataDir,
		LogLevel:        getenv("BOOKMARKER_LOG_LEVEL", "info"),
		PrettyLog:       mustBool("BOOKMARKER_PRETTY_LOG", true),
		ListenAddr:      getenv("BOOKMARKER_LISTEN_ADDR", ":8080"),
		ShutdownTimeout: mustDuration("BOOKMARKER_SHUTDOWN_TIMEOUT", 5*time.Second),
		MetricsFile:     getenv("BOOKMARKER_METRICS_FILE", ""),
		ChunkDelay:      mustDuration("BOOKMARKER_CHUNK_DELAY", time.Second),
	}, nil
}

func dataDir(configured string) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil && (configured == "" || strings.HasPrefix(configured, "~")) {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	switch {
	case configured == "":
		return filepath.Join(homeDir, ".bookmark-manager"), nil
	case configured == "~":
		return homeDir, nil
	case strings.HasPrefix(configured, "~/"):
		return filepath.Join(homeDir, configured[2:]), nil
	}
	return configured, nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}
