// Package store persists SearchRecord, ChatRecord and Rating data in
// Postgres and holds the Redis client the hub uses for cross-instance
// pub/sub (stats are cached in memory by internal/stats, not in Redis),
// following the teacher's sql.DB+redis.Client pairing and its
// retry-then-pool-settings bootstrap idiom.
package store

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
)

type Store struct {
	DB     *sql.DB
	RDB    *redis.Client
	Ctx    context.Context
	Logger *slog.Logger
}

func New(ctx context.Context, pgConnStr, redisURL string, logger *slog.Logger) (*Store, error) {
	var db *sql.DB
	var err error

	for i := 0; i < 5; i++ {
		db, err = sql.Open("postgres", pgConnStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		logger.Warn("waiting for postgres", "attempt", i+1, "max_attempts", 5)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	rdb, err := initRedis(redisURL)
	if err != nil {
		return nil, err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("connected to postgres and redis")

	return &Store{DB: db, RDB: rdb, Ctx: ctx, Logger: logger}, nil
}

func initRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	opt.TLSConfig = &tls.Config{InsecureSkipVerify: false}
	opt.PoolSize = 100
	opt.MinIdleConns = 10
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolTimeout = 4 * time.Second

	return redis.NewClient(opt), nil
}

// Healthy reports whether the Postgres and Redis connections are reachable.
func (s *Store) Healthy(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	if err := s.RDB.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

const schema = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	telegram_id BIGINT UNIQUE NOT NULL,
	gender VARCHAR(6) NOT NULL CHECK (gender IN ('male','female','other')),
	age INT NOT NULL CHECK (age >= 18),
	rating NUMERIC(3,2) NOT NULL DEFAULT 0 CHECK (rating >= 0 AND rating <= 5),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_active TIMESTAMP NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_users_last_active ON users(last_active);

CREATE TABLE IF NOT EXISTS searches (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id UUID NOT NULL REFERENCES users(id),
	telegram_id BIGINT NOT NULL,
	status VARCHAR(12) NOT NULL CHECK (status IN ('searching','matched','cancelled','expired')),
	gender VARCHAR(6) NOT NULL,
	age INT NOT NULL,
	rating NUMERIC(3,2) NOT NULL,
	desired_gender TEXT[] NOT NULL,
	desired_age_min INT NOT NULL,
	desired_age_max INT NOT NULL,
	min_acceptable_rating NUMERIC(3,2) NOT NULL DEFAULT -1,
	use_geolocation BOOLEAN NOT NULL DEFAULT FALSE,
	longitude DOUBLE PRECISION,
	latitude DOUBLE PRECISION,
	max_distance_km INT,
	matched_user_id UUID,
	matched_telegram_id BIGINT,
	matched_chat_id UUID,
	created_at TIMESTAMP NOT NULL DEFAULT now(),
	updated_at TIMESTAMP NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_searches_one_active ON searches(user_id) WHERE status = 'searching';
CREATE INDEX IF NOT EXISTS idx_searches_status_gender ON searches(status, gender);
CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at);

CREATE TABLE IF NOT EXISTS chats (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	participant_one UUID NOT NULL,
	participant_two UUID NOT NULL,
	type VARCHAR(10) NOT NULL DEFAULT 'anonymous',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMP,
	last_message TEXT,
	started_at TIMESTAMP NOT NULL DEFAULT now(),
	ended_at TIMESTAMP,
	ended_by UUID,
	end_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_chats_participants ON chats(participant_one, participant_two);
CREATE INDEX IF NOT EXISTS idx_chats_expires_at ON chats(expires_at);

CREATE TABLE IF NOT EXISTS chat_messages (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	sender_id UUID NOT NULL,
	content TEXT NOT NULL,
	sent_at TIMESTAMP NOT NULL DEFAULT now(),
	is_read BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_id_sent_at ON chat_messages(chat_id, sent_at);

CREATE TABLE IF NOT EXISTS ratings (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	rated_user_id UUID NOT NULL,
	rater_user_id UUID NOT NULL,
	chat_id UUID NOT NULL REFERENCES chats(id),
	score SMALLINT NOT NULL CHECK (score BETWEEN 1 AND 5),
	comment TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT now(),
	UNIQUE (rater_user_id, chat_id)
);
`

// InitSchema creates every table and index the core depends on, idempotently.
func (s *Store) InitSchema() error {
	_, err := s.DB.Exec(schema)
	return err
}

func (s *Store) Close() error {
	var errs []error
	if err := s.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("postgres close error: %w", err))
	}
	if err := s.RDB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}
