// Package firestore provides a Firestore implementation of the entitlement.Store interface.
// Each user owns a single document keyed by user id, so Create arbitrates
// concurrent first-time creation.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

// Storage implements entitlement.Store using Google Cloud Firestore
type Storage struct {
	client                  *firestore.Client
	subscriptionsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// SubscriptionsCollection is the Firestore collection for subscription records
	// Default: "subscriptions"
	SubscriptionsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "subscriptions"
	}

	return &Storage{
		client:                  client,
		subscriptionsCollection: config.SubscriptionsCollection,
	}, nil
}

// ListByUser implements entitlement.Store
func (s *Storage) ListByUser(ctx context.Context, userID string) ([]*entitlement.Record, error) {
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []*entitlement.Record{}, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	if !snap.Exists() {
		return []*entitlement.Record{}, nil
	}
	return []*entitlement.Record{fromData(userID, snap.Data())}, nil
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

	_, err := s.doc(rec.UserID).Create(ctx, toData(stored))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, entitlement.ErrConflict
		}
		return nil, fmt.Errorf("failed to create subscription: %w: %v", entitlement.ErrStoreUnavailable, err)
	}
	return stored, nil
}

// UpdateByUser implements entitlement.Store
func (s *Storage) UpdateByUser(
	ctx context.Context, userID string, update entitlement.Update,
) (*entitlement.Record, error) {
	ref := s.doc(userID)
	var updated *entitlement.Record

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entitlement.ErrNotFound
			}
			return err
		}

		rec := fromData(userID, snap.Data())
		update.Apply(rec, time.Now().UTC())
		updated = rec
		return tx.Set(ref, toData(rec))
	})
	if errors.Is(err, entitlement.ErrNotFound) {
		return nil, entitlement.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return updated, nil
}

func (s *Storage) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.subscriptionsCollection).Doc(userID)
}

func toData(rec *entitlement.Record) map[string]interface{} {
	data := map[string]interface{}{
		"id":                     rec.ID,
		"userId":                 rec.UserID,
		"status":                 string(rec.Status),
		"freeTrialUsed":          rec.FreeTrialUsed,
		"presentationsGenerated": rec.PresentationsGenerated,
		"isActive":               rec.IsActive,
		"createdAt":              rec.CreatedAt,
		"updatedAt":              rec.UpdatedAt,
	}
	if rec.PaymentReference != nil {
		data["paymentReference"] = *rec.PaymentReference
	}
	if rec.Amount != nil {
		data["amount"] = *rec.Amount
	}
	if rec.ExpiresAt != nil {
		data["expiresAt"] = *rec.ExpiresAt
	}
	return data
}

func fromData(userID string, data map[string]interface{}) *entitlement.Record {
	rec := &entitlement.Record{
		ID:                     getString(data, "id"),
		UserID:                 userID,
		Status:                 entitlement.Status(getString(data, "status")),
		FreeTrialUsed:          getBool(data, "freeTrialUsed"),
		PresentationsGenerated: getInt(data, "presentationsGenerated"),
		IsActive:               getBool(data, "isActive"),
		CreatedAt:              getTime(data, "createdAt"),
		UpdatedAt:              getTime(data, "updatedAt"),
	}
	if ref, ok := data["paymentReference"].(string); ok {
		rec.PaymentReference = &ref
	}
	if _, ok := data["amount"]; ok {
		amount := int64(getInt(data, "amount"))
		rec.Amount = &amount
	}
	if exp, ok := data["expiresAt"].(time.Time); ok && !exp.IsZero() {
		rec.ExpiresAt = &exp
	}
	return rec
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
