// Package store defines persistence for identity settings, statistics and
// browser push subscriptions.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flemzord/tgmonitor/internal/identity"
)

// ErrNotFound is returned when no record exists for an identity.
var ErrNotFound = errors.New("store: not found")

// Record is the persisted part of an identity.
type Record struct {
	ID        string            `json:"id"`
	Settings  identity.Settings `json:"settings"`
	Stats     identity.Stats    `json:"stats"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PushSubscription is a browser endpoint registered for alert pushes.
type PushSubscription struct {
	IdentityID string    `json:"identity_id"`
	Endpoint   string    `json:"endpoint"`
	P256dh     string    `json:"p256dh"`
	Auth       string    `json:"auth"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists identity records. Implementations are safe for
// concurrent use.
type Store interface {
	Load(ctx context.Context, id string) (Record, error)
	// LoadAll returns every persisted record sorted by ID, including
	// identities that are logged out.
	LoadAll(ctx context.Context) ([]Record, error)
	SaveSettings(ctx context.Context, id string, s identity.Settings) error
	SaveStats(ctx context.Context, id string, s identity.Stats) error
	Delete(ctx context.Context, id string) error

	AddPushSubscription(ctx context.Context, sub PushSubscription) error
	PushSubscriptions(ctx context.Context, identityID string) ([]PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error

	Close() error
}
