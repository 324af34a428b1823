// Package cassandra implements repository.Store on Cassandra or ScyllaDB
// through gocql.
//
// TABLE LAYOUT:
// Every read hits one partition. Lookups that need a secondary key get their
// own table instead of an index:
//
//	node_threads       ((node_id, bucket_id), thread_id)   node listing per month
//	post_positions     ((thread_id), position)             ordering authority
//	users_by_username  ((username_normal))                  uniqueness + login
//
// Conditional writes (IF NOT EXISTS / IF EXISTS) are lightweight
// transactions; they are used only where a race must have exactly one
// winner: claiming a position and reserving a username.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/sakif/threadboard/internal/repository"
)

var _ repository.Store = (*DB)(nil)

type Config struct {
	Hosts       []string
	Keyspace    string
	Replication int
	Timeout     time.Duration
	Consistency gocql.Consistency
}

// DB wraps a shared gocql session. The session pools connections internally
// and is safe for concurrent use.
type DB struct {
	session *gocql.Session
	logger  *slog.Logger
}

// Open connects, creates the keyspace and tables if missing, and returns a
// session bound to the keyspace.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("cassandra: no hosts configured")
	}
	if cfg.Replication < 1 {
		cfg.Replication = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Consistency == 0 {
		cfg.Consistency = gocql.Quorum
	}

	if err := createKeyspace(ctx, cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra: connecting to keyspace %s: %w", cfg.Keyspace, err)
	}

	db := &DB{session: session, logger: logger}
	if err := db.migrate(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandra: creating tables: %w", err)
	}

	logger.Info("connected to cassandra",
		slog.Any("hosts", cfg.Hosts),
		slog.String("keyspace", cfg.Keyspace),
	)
	return db, nil
}

func newCluster(cfg Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = cfg.Consistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster
}

func createKeyspace(ctx context.Context, cfg Config) error {
	session, err := newCluster(cfg).CreateSession()
	if err != nil {
		return fmt.Errorf("cassandra: connecting: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		cfg.Keyspace, cfg.Replication)
	if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandra: creating keyspace %s: %w", cfg.Keyspace, err)
	}
	return nil
}

// Close releases the session.
func (db *DB) Close() error {
	db.session.Close()
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id bigint PRIMARY KEY,
		display_order int,
		title text,
		description text
	)`,
	`CREATE TABLE IF NOT EXISTS threads (
		id bigint PRIMARY KEY,
		node_id bigint,
		bucket_id int,
		title text,
		subtitle text,
		created_at timestamp,
		first_post_id bigint,
		first_post_user_id bigint,
		last_post_id bigint,
		last_post_user_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS node_threads (
		node_id bigint,
		bucket_id int,
		thread_id bigint,
		PRIMARY KEY ((node_id, bucket_id), thread_id)
	) WITH CLUSTERING ORDER BY (thread_id DESC)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id bigint PRIMARY KEY,
		thread_id bigint,
		created_at timestamp,
		user_id bigint,
		ugc_id uuid
	)`,
	`CREATE TABLE IF NOT EXISTS post_positions (
		thread_id bigint,
		position bigint,
		post_id bigint,
		PRIMARY KEY ((thread_id), position)
	) WITH CLUSTERING ORDER BY (position ASC)`,
	`CREATE TABLE IF NOT EXISTS ugc (
		id uuid PRIMARY KEY,
		ip_id uuid,
		user_id bigint,
		created_at timestamp,
		content text
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id bigint PRIMARY KEY,
		username text,
		username_normal text,
		email text,
		password_digest text,
		digest_algorithm text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_username (
		username_normal text PRIMARY KEY,
		user_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id uuid PRIMARY KEY,
		user_id bigint,
		created_at timestamp,
		last_seen_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS thread_replies (
		id bigint PRIMARY KEY,
		reply_count counter
	)`,
	`CREATE TABLE IF NOT EXISTS thread_views (
		id bigint PRIMARY KEY,
		view_count counter
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := db.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return db.session.Query(stmt, values...).WithContext(ctx)
}
