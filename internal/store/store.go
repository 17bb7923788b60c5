package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/keylink-bridge/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrEnvelopeNotFound      = errors.New("envelope not found")
	ErrEnvelopeAlreadyExists = errors.New("envelope already exists")
	ErrStatusNotFound        = errors.New("message status not found")
)

// EnvelopeStore persists inbound envelopes. Envelopes are immutable once saved.
type EnvelopeStore interface {
	// SaveEnvelope stores a new envelope. Returns ErrEnvelopeAlreadyExists if the
	// request ID is already known; the stored envelope is left untouched.
	SaveEnvelope(ctx context.Context, envelope *models.Envelope) error

	GetEnvelope(ctx context.Context, requestID uuid.UUID) (*models.Envelope, error)

	// ListEnvelopes returns the envelopes found for the given request IDs, in the order
	// requested. Unknown IDs are skipped.
	ListEnvelopes(ctx context.Context, requestIDs []uuid.UUID) ([]*models.Envelope, error)
}

// StatusStore persists the signing outcome of each envelope, one row per request ID.
type StatusStore interface {
	// SaveStatus creates or replaces the status for its request ID.
	SaveStatus(ctx context.Context, status *models.MessageStatus) error

	GetStatus(ctx context.Context, requestID uuid.UUID) (*models.MessageStatus, error)

	// ListStatuses returns the statuses found for the given request IDs, in the order
	// requested. Unknown IDs are skipped.
	ListStatuses(ctx context.Context, requestIDs []uuid.UUID) ([]*models.MessageStatus, error)

	// ListStatusesByStatus returns every status in the given state, oldest first.
	ListStatusesByStatus(ctx context.Context, status models.Status) ([]*models.MessageStatus, error)
}

// MessageStore combines both stores; every backend implements the pair.
type MessageStore interface {
	EnvelopeStore
	StatusStore
}
