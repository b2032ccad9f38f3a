// Package redis provides a Redis implementation of the entitlement.Store interface.
// Records are stored as JSON, created with SETNX and updated through a Lua
// compare-and-set script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// Storage implements entitlement.Store using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	cas    *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "slideai:")
	KeyPrefix string

	// RecordTTL is the TTL for record keys (0 = no expiration)
	RecordTTL time.Duration

	// MaxRetries is the maximum number of compare-and-set attempts (default: 3)
	MaxRetries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "slideai:",
		RecordTTL:  0,
		MaxRetries: 3,
	}
}

// document is the JSON form of a record
type document struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	Status                 string     `json:"status"`
	FreeTrialUsed          bool       `json:"free_trial_used"`
	PresentationsGenerated int        `json:"presentations_generated"`
	IsActive               bool       `json:"is_active"`
	PaymentReference       *string    `json:"payment_reference,omitempty"`
	Amount                 *int64     `json:"amount,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

func toDocument(rec *entitlement.Record) document {
	return document{
		ID:                     rec.ID,
		UserID:                 rec.UserID,
		Status:                 string(rec.Status),
		FreeTrialUsed:          rec.FreeTrialUsed,
		PresentationsGenerated: rec.PresentationsGenerated,
		IsActive:               rec.IsActive,
		PaymentReference:       rec.PaymentReference,
		Amount:                 rec.Amount,
		ExpiresAt:              rec.ExpiresAt,
		CreatedAt:              rec.CreatedAt,
		UpdatedAt:              rec.UpdatedAt,
	}
}

func (d document) record() *entitlement.Record {
	return &entitlement.Record{
		ID:                     d.ID,
		UserID:                 d.UserID,
		Status:                 entitlement.Status(d.Status),
		FreeTrialUsed:          d.FreeTrialUsed,
		PresentationsGenerated: d.PresentationsGenerated,
		IsActive:               d.IsActive,
		PaymentReference:       d.PaymentReference,
		Amount:                 d.Amount,
		ExpiresAt:              d.ExpiresAt,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

// errCASMismatch signals that the key changed between read and write
var errCASMismatch = errors.New("record modified concurrently")

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "slideai:"
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &Storage{
		client: client,
		config: config,
		cas: redis.NewScript(`
			local current = redis.call('GET', KEYS[1])
			if not current then
				return -1
			end
			if current ~= ARGV[1] then
				return 0
			end
			local ttl = tonumber(ARGV[3])
			if ttl > 0 then
				redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
			else
				redis.call('SET', KEYS[1], ARGV[2], 'KEEPTTL')
			end
			return 1
		`),
	}, nil
}

// ListByUser implements entitlement.Store
func (s *Storage) ListByUser(ctx context.Context, userID string) ([]*entitlement.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return []*entitlement.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w: %v", entitlement.ErrStoreUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return []*entitlement.Record{doc.record()}, nil
}

// Insert implements entitlement.Store
func (s *Storage) Insert(ctx context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	if rec == nil || rec.UserID == "" {
		return nil, entitlement.ErrInvalidRecord
	}

	stored := rec.Clone()
	stored.ID = uuid.NewString()
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	data, err := json.Marshal(toDocument(stored))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(rec.UserID), data, s.config.RecordTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to insert record: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, entitlement.ErrConflict
	}
	return stored, nil
}

// UpdateByUser implements entitlement.Store
func (s *Storage) UpdateByUser(
	ctx context.Context, userID string, update entitlement.Update,
) (*entitlement.Record, error) {
	key := s.recordKey(userID)

	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		rec, err := s.compareAndSet(ctx, key, update)
		if errors.Is(err, errCASMismatch) {
			continue
		}
		return rec, err
	}
	return nil, fmt.Errorf("failed to update record after %d attempts: %w", s.config.MaxRetries, errCASMismatch)
}

func (s *Storage) compareAndSet(
	ctx context.Context, key string, update entitlement.Update,
) (*entitlement.Record, error) {
	current, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, entitlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w: %v", entitlement.ErrStoreUnavailable, err)
	}

	var doc document
	if err := json.Unmarshal([]byte(current), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	rec := doc.record()
	update.Apply(rec, time.Now().UTC())

	next, err := json.Marshal(toDocument(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	ttl := int64(s.config.RecordTTL / time.Second)
	res, err := s.cas.Run(ctx, s.client, []string{key}, current, string(next), ttl).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w: %v", entitlement.ErrStoreUnavailable, err)
	}

	switch res {
	case -1:
		return nil, entitlement.ErrNotFound
	case 0:
		return nil, errCASMismatch
	default:
		return rec, nil
	}
}

// Put overwrites the user's record. Used when Redis serves as a cache tier.
func (s *Storage) Put(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.UserID == "" {
		return entitlement.ErrInvalidRecord
	}
	data, err := json.Marshal(toDocument(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.client.Set(ctx, s.recordKey(rec.UserID), data, s.config.RecordTTL).Err(); err != nil {
		return fmt.Errorf("failed to put record: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

// Evict deletes the user's record
func (s *Storage) Evict(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.recordKey(userID)).Err()
}

func (s *Storage) recordKey(userID string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, userID)
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
