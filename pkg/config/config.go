package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration for the deleteflow client and demo server.
type Config struct {
	Port           string
	LogLevel       string
	Endpoint       string
	CSRFPageURL    string
	CSRFToken      string
	RequestTimeout time.Duration
	PolicyPath     string

	StateBackend  string
	StateDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AnalyticsDriver string
	AnalyticsDSN    string

	// Archive copies analytics batches to an object store when enabled.
	ArchiveEnabled  bool
	ArchiveBackend  string
	ArchiveDir      string
	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchivePrefix   string

	SessionSecret string
	OTLPEndpoint  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	endpoint := os.Getenv("DELETEFLOW_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:" + port
	}

	timeout := durationEnv("DELETEFLOW_REQUEST_TIMEOUT", 15*time.Second)

	backend := os.Getenv("DELETEFLOW_STATE_BACKEND")
	if backend == "" {
		backend = "file"
	}

	stateDir := os.Getenv("DELETEFLOW_STATE_DIR")
	if stateDir == "" {
		stateDir = "data/state"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	driver := os.Getenv("ANALYTICS_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dsn := os.Getenv("ANALYTICS_DSN")
	if dsn == "" && driver == "sqlite" {
		dsn = "data/analytics.db"
	}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "data/archive"
	}

	archiveRegion := os.Getenv("ARCHIVE_REGION")
	if archiveRegion == "" {
		archiveRegion = os.Getenv("AWS_REGION")
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		Endpoint:        endpoint,
		CSRFPageURL:     os.Getenv("DELETEFLOW_CSRF_PAGE"),
		CSRFToken:       os.Getenv("DELETEFLOW_CSRF_TOKEN"),
		RequestTimeout:  timeout,
		PolicyPath:      os.Getenv("DELETEFLOW_POLICY"),
		StateBackend:    backend,
		StateDir:        stateDir,
		RedisAddr:       redisAddr,
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         intEnv("REDIS_DB", 0),
		AnalyticsDriver: driver,
		AnalyticsDSN:    dsn,
		ArchiveEnabled:  os.Getenv("ARCHIVE_STORAGE_TYPE") != "",
		ArchiveBackend:  os.Getenv("ARCHIVE_STORAGE_TYPE"),
		ArchiveDir:      archiveDir,
		ArchiveBucket:   os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:   archiveRegion,
		ArchiveEndpoint: os.Getenv("ARCHIVE_ENDPOINT"),
		ArchivePrefix:   os.Getenv("ARCHIVE_PREFIX"),
		SessionSecret:   os.Getenv("DELETEFLOW_SESSION_SECRET"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
