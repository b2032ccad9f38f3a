// Package postgres provides a PostgreSQL implementation of the entitlement.Store interface.
// The unique constraint on subscriptions.user_id arbitrates concurrent first-time creation.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// uniqueViolation is the SQLSTATE raised by a duplicate key
const uniqueViolation = "23505"

const selectColumns = `id::text, user_id, status, free_trial_used, presentations_generated, is_active,
	payment_reference, amount, expires_at, created_at, updated_at`

// Storage implements entitlement.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ListByUser implements entitlement.Store
func (s *Storage) ListByUser(ctx context.Context, userID string) ([]*entitlement.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+`
			FROM subscriptions WHERE user_id = $1
			ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := make([]*entitlement.Record, 0, 1)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	return records, nil
}

// Insert implements entitlement.Store
func (s *Storage) Insert(ctx context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	if rec == nil || rec.UserID == "" {
		return nil, entitlement.ErrInvalidRecord
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions
				(user_id, status, free_trial_used, presentations_generated, is_active,
				 payment_reference, amount, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			RETURNING `+selectColumns,
		rec.UserID, string(rec.Status), rec.FreeTrialUsed, rec.PresentationsGenerated, rec.IsActive,
		rec.PaymentReference, rec.Amount, rec.ExpiresAt, now,
	)

	inserted, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, entitlement.ErrConflict
		}
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return inserted, nil
}

// UpdateByUser implements entitlement.Store
func (s *Storage) UpdateByUser(
	ctx context.Context, userID string, update entitlement.Update,
) (*entitlement.Record, error) {
	var status *string
	if update.Status != nil {
		v := string(*update.Status)
		status = &v
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE subscriptions SET
				status = COALESCE($2::text, status),
				presentations_generated = GREATEST(presentations_generated, COALESCE($3::integer, presentations_generated)),
				free_trial_used = COALESCE($4::boolean, free_trial_used),
				payment_reference = COALESCE($5::text, payment_reference),
				amount = COALESCE($6::bigint, amount),
				updated_at = $7
			WHERE user_id = $1
			RETURNING `+selectColumns,
		userID, status, update.PresentationsGenerated, update.FreeTrialUsed,
		update.PaymentReference, update.Amount, time.Now().UTC(),
	)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (*entitlement.Record, error) {
	var rec entitlement.Record
	var status string
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&status,
		&rec.FreeTrialUsed,
		&rec.PresentationsGenerated,
		&rec.IsActive,
		&rec.PaymentReference,
		&rec.Amount,
		&rec.ExpiresAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = entitlement.Status(status)
	return &rec, nil
}
