package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
)

// DestinationStore is what the scheduling engine needs from persistence.
type DestinationStore interface {
	ListDestinationsByQr(ctx context.Context, qrID string) ([]Destination, error)
	GetDestination(ctx context.Context, id string) (*Destination, error)
	ListTriggersBySource(ctx context.Context, destinationID string) ([]Trigger, error)
	// UpdateDestination applies patch only if the stored version equals
	// expectedVersion. It returns ErrVersionConflict otherwise.
	UpdateDestination(ctx context.Context, id string, patch DestinationPatch, expectedVersion int64) (*Destination, error)
	// MarkTriggerFired claims the trigger. It returns false when the trigger
	// was already claimed by an earlier call.
	MarkTriggerFired(ctx context.Context, triggerID string, at time.Time) (bool, error)
}

// Store adds the administrative CRUD used by the HTTP API.
type Store interface {
	DestinationStore
	CreateDestination(ctx context.Context, d *Destination) error
	DeleteDestination(ctx context.Context, id string) error
	CreateTrigger(ctx context.Context, t *Trigger) error
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	ResetTrigger(ctx context.Context, id string) error
}

// TxStore is implemented by stores that can run several writes atomically.
type TxStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, s DestinationStore) error) error
}
