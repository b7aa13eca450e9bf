package storage

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ConnString builds a postgres:// URL. User and password are escaped
func (config PostgresConfig) ConnString() string {
	dsn := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(config.Host, config.Port),
		Path:   "/" + config.DBName,
	}
	if config.User != "" {
		dsn.User = url.UserPassword(config.User, config.Password)
	}
	return dsn.String()
}

// PostgresStore keeps workouts in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to database and verifies the connection
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &PostgresStore{
		pool: pool,
		now:  time.Now,
	}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SaveWorkout inserts record and returns its identifier
func (s *PostgresStore) SaveWorkout(ctx context.Context, workout Workout) (string, error) {
	workout, err := prepare(workout, s.now())
	if err != nil {
		return "", err
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO workouts
        (id, subject_id, wallet_address, rep_count, duration_seconds, used_camera, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		workout.ID, workout.SubjectID, workout.WalletAddress, workout.RepCount,
		workout.DurationSeconds, workout.UsedCamera, workout.Timestamp).Scan(&id)
	if err != nil {
		return "", errors.Wrap(err, "failed to store workout")
	}

	return id, nil
}

// History returns matching records, newest first
func (s *PostgresStore) History(ctx context.Context, filter Filter) ([]Workout, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, wallet_address, rep_count, duration_seconds, used_camera, created_at
        FROM workouts
        WHERE ($1 = '' OR subject_id = $1)
          AND ($2 = '' OR wallet_address = $2)
        ORDER BY created_at DESC, id ASC
        LIMIT $3`,
		filter.SubjectID, filter.WalletAddress, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query workouts")
	}
	defer rows.Close()

	var result []Workout
	for rows.Next() {
		var w Workout
		if err := rows.Scan(&w.ID, &w.SubjectID, &w.WalletAddress, &w.RepCount,
			&w.DurationSeconds, &w.UsedCamera, &w.Timestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan workout")
		}
		w.Timestamp = w.Timestamp.UTC()
		result = append(result, w)
	}

	return result, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS workouts (
            id TEXT PRIMARY KEY,
            subject_id TEXT NOT NULL DEFAULT '',
            wallet_address TEXT NOT NULL DEFAULT '',
            rep_count INTEGER NOT NULL CHECK (rep_count >= 0),
            duration_seconds INTEGER NOT NULL CHECK (duration_seconds >= 0),
            used_camera BOOLEAN NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
    `)
	if err != nil {
		return errors.Wrap(err, "failed to create database schema")
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_workouts_subject ON workouts(subject_id, created_at DESC);
        CREATE INDEX IF NOT EXISTS idx_workouts_wallet ON workouts(wallet_address, created_at DESC);
    `)
	if err != nil {
		return errors.Wrap(err, "failed to create database indexes")
	}

	return nil
}
