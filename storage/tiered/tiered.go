// Package tiered provides a Hot/Cold tiered storage adapter that puts a fast
// cache (Hot) in front of a durable entitlement store (Cold).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// Cache is the Hot tier. Both storage/memory and storage/redis satisfy it.
type Cache interface {
	ListByUser(ctx context.Context, userID string) ([]*entitlement.Record, error)
	Put(ctx context.Context, rec *entitlement.Record) error
	Evict(ctx context.Context, userID string) error
}

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache (e.g., Redis, Memory)
	Hot Cache

	// Cold is the L2 store (e.g., Postgres, Firestore) and the source of truth
	Cold entitlement.Store

	// AsyncCacheFill populates Hot from a background worker after Cold reads.
	// If false, cache fills are synchronous.
	AsyncCacheFill bool

	// SyncBufferSize is the size of the buffered channel for async fills.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a cache operation fails.
	AsyncErrorHandler func(error)
}

// Storage implements entitlement.Store over a Hot/Cold pair:
// - Read-Through: ListByUser (Hot → Cold → populate Hot)
// - Write-Through: Insert, UpdateByUser (Cold → Hot)
type Storage struct {
	hot  Cache
	cold entitlement.Store
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncCacheFill {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncCacheFill {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background cache fill loop.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				s.report(job())
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// ListByUser implements entitlement.Store with read-through strategy.
func (s *Storage) ListByUser(ctx context.Context, userID string) ([]*entitlement.Record, error) {
	// 1. Try Hot
	records, err := s.hot.ListByUser(ctx, userID)
	if err == nil && len(records) > 0 {
		return records, nil
	}

	// 2. Try Cold (Source of Truth)
	records, err = s.cold.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. Populate Hot (Read-Repair). Only the latest row is cached.
	if latest := entitlement.Latest(records); latest != nil {
		s.fill(latest.Clone())
	}

	return records, nil
}

// --- Strategy: Write-Through (Cold → Hot) ---

// Insert implements entitlement.Store with write-through strategy.
func (s *Storage) Insert(ctx context.Context, rec *entitlement.Record) (*entitlement.Record, error) {
	inserted, err := s.cold.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.report(s.hot.Put(ctx, inserted))
	return inserted, nil
}

// UpdateByUser implements entitlement.Store with write-through strategy.
func (s *Storage) UpdateByUser(
	ctx context.Context, userID string, update entitlement.Update,
) (*entitlement.Record, error) {
	updated, err := s.cold.UpdateByUser(ctx, userID, update)
	if err != nil {
		if errors.Is(err, entitlement.ErrNotFound) {
			s.report(s.hot.Evict(ctx, userID))
		}
		return nil, err
	}
	// If Hot fails, drop the entry so the next read goes to Cold
	if err := s.hot.Put(ctx, updated); err != nil {
		s.report(err)
		s.report(s.hot.Evict(ctx, userID))
	}
	return updated, nil
}

func (s *Storage) fill(rec *entitlement.Record) {
	job := func() error {
		return s.hot.Put(context.Background(), rec)
	}
	if !s.conf.AsyncCacheFill {
		s.report(job())
		return
	}
	select {
	case s.syncQueue <- job:
	default:
		s.report(fmt.Errorf("tiered: cache fill queue full, dropping fill for %s", rec.UserID))
	}
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered cache: %w", err))
	}
}
