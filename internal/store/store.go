// Package store persists what the API layer wants to keep around:
// cycle results, assignment records, webhook subscriptions, and the
// webhook delivery queue. The engine itself runs entirely in memory;
// the store is an observer, and the engine behaves identically with an
// empty history.
package store

import (
	"context"
	"errors"
	"time"

	"lastmile/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Cycle history
	SaveCycleResult(ctx context.Context, res model.AssignmentCycleResult) error
	ListCycleResults(ctx context.Context, limit int) ([]model.AssignmentCycleResult, error)

	// Assignment records
	SaveAssignments(ctx context.Context, assignments []model.Assignment) error
	ListAssignments(ctx context.Context, status string, limit int) ([]model.Assignment, error)

	// Webhook subscriptions
	CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
	GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
	ListSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error

	// Webhook delivery queue
	EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error)
}

type WebhookDelivery struct {
	ID             string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
	ResponseCode   int
	LatencyMs      int
}

var ErrNotFound = errors.New("not found")
