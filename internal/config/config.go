// Package config loads process configuration from environment variables.
//
// Load takes a getenv function instead of reading os.Getenv directly, so
// tests can feed a map without touching the real environment.
//
// Every problem is reported as an apperror.Configuration error. main treats
// any of them as fatal: the process never starts serving with a bad config.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/sakif/threadboard/internal/apperror"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendCassandra = "cassandra"
)

// Counter backends.
const (
	CounterStore = "store"
	CounterRedis = "redis"
)

// MaxNodeID is the largest snowflake node id (10 bits).
const MaxNodeID = 1023

// MinSessionKeyLength is the shortest accepted SESSION_KEY.
const MinSessionKeyLength = 32

type Config struct {
	Port   int
	NodeID int64

	StoreBackend string
	DBPath       string
	DatabaseURL  string

	CassandraHosts       []string
	CassandraKeyspace    string
	CassandraReplication int
	CassandraTimeout     time.Duration

	CounterBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// SessionKey is empty when SESSION_KEY is unset. The caller decides
	// whether to generate an ephemeral one.
	SessionKey string

	QueueSize    int
	QueueWorkers int
	TaskTimeout  time.Duration

	ThreadBucketLookback int

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads the configuration through getenv.
func Load(getenv func(string) string) (*Config, error) {
	l := loader{getenv: getenv}

	cfg := &Config{
		Port:   l.int("PORT", 8080, 1, 65535),
		NodeID: l.nodeID(),

		StoreBackend: l.oneOf("STORE_BACKEND", BackendSQLite, BackendMemory, BackendSQLite, BackendPostgres, BackendCassandra),
		DBPath:       l.str("DB_PATH", "data/threadboard.db"),
		DatabaseURL:  l.str("DATABASE_URL", ""),

		CassandraHosts:       l.list("CASSANDRA_HOSTS", "127.0.0.1"),
		CassandraKeyspace:    l.str("CASSANDRA_KEYSPACE", "threadboard"),
		CassandraReplication: l.int("CASSANDRA_REPLICATION", 1, 1, 32),
		CassandraTimeout:     l.duration("CASSANDRA_TIMEOUT", 5*time.Second),

		CounterBackend: l.oneOf("COUNTER_BACKEND", CounterStore, CounterStore, CounterRedis),
		RedisAddr:      l.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  l.str("REDIS_PASSWORD", ""),
		RedisDB:        l.int("REDIS_DB", 0, 0, 15),

		SessionKey: l.str("SESSION_KEY", ""),

		QueueSize:    l.int("QUEUE_SIZE", 1024, 1, 1<<20),
		QueueWorkers: l.int("QUEUE_WORKERS", 4, 1, 256),
		TaskTimeout:  l.duration("TASK_TIMEOUT", 5*time.Second),

		ThreadBucketLookback: l.int("THREAD_BUCKET_LOOKBACK", 6, 1, 120),

		LogLevel:      l.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"),
		LogFormat:     l.oneOf("LOG_FORMAT", "text", "text", "json"),
		LogFile:       l.str("LOG_FILE", ""),
		LogMaxSizeMB:  l.int("LOG_MAX_SIZE_MB", 100, 1, 10000),
		LogMaxBackups: l.int("LOG_MAX_BACKUPS", 5, 0, 1000),
		LogMaxAgeDays: l.int("LOG_MAX_AGE_DAYS", 28, 0, 3650),
	}

	if l.err != nil {
		return nil, l.err
	}

	if cfg.SessionKey != "" && len(cfg.SessionKey) < MinSessionKeyLength {
		return nil, apperror.Configuration("SESSION_KEY", "must be at least 32 bytes")
	}
	if cfg.StoreBackend == BackendPostgres && cfg.DatabaseURL == "" {
		return nil, apperror.Configuration("DATABASE_URL", "required when STORE_BACKEND=postgres")
	}
	if cfg.StoreBackend == BackendCassandra && len(cfg.CassandraHosts) == 0 {
		return nil, apperror.Configuration("CASSANDRA_HOSTS", "at least one host is required")
	}

	return cfg, nil
}

// loader remembers the first error so Load can read every field in one
// struct literal and check once at the end.
type loader struct {
	getenv func(string) string
	err    error
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def, min, max int) int {
	raw := strings.TrimSpace(l.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		l.fail(apperror.Configuration(key, "must be an integer, got "+strconv.Quote(raw)))
		return def
	}
	if v < min || v > max {
		l.fail(apperror.Configuration(key, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max)))
		return def
	}
	return v
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(l.getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		l.fail(apperror.Configuration(key, "must be a positive duration such as 5s"))
		return def
	}
	return d
}

func (l *loader) oneOf(key, def string, allowed ...string) string {
	v := strings.ToLower(l.str(key, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	l.fail(apperror.Configuration(key, "must be one of "+strings.Join(allowed, ", ")))
	return def
}

func (l *loader) list(key, def string) []string {
	var out []string
	for _, part := range strings.Split(l.str(key, def), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// nodeID has no default: two processes silently sharing a node id would
// mint colliding ids.
func (l *loader) nodeID() int64 {
	raw := strings.TrimSpace(l.getenv("NODE_ID"))
	if raw == "" {
		l.fail(apperror.Configuration("NODE_ID", "must be set"))
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		l.fail(apperror.Configuration("NODE_ID", "must be an integer, got "+strconv.Quote(raw)))
		return 0
	}
	if v < 0 || v > MaxNodeID {
		l.fail(apperror.Configuration("NODE_ID", "must be between 0 and 1023"))
		return 0
	}
	return v
}
