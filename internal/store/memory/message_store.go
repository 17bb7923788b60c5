package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/store"
)

var _ store.MessageStore = (*MessageStore)(nil)

// MessageStore implements store.MessageStore using in-memory storage.
// Data is lost on restart.
type MessageStore struct {
	mu sync.RWMutex

	envelopes map[uuid.UUID]*models.Envelope      // request_id -> Envelope
	statuses  map[uuid.UUID]*models.MessageStatus // request_id -> MessageStatus

	now func() time.Time
}

// NewMessageStore creates a new in-memory message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		envelopes: make(map[uuid.UUID]*models.Envelope),
		statuses:  make(map[uuid.UUID]*models.MessageStatus),
		now:       time.Now,
	}
}

// SaveEnvelope stores a new envelope.
func (s *MessageStore) SaveEnvelope(ctx context.Context, envelope *models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.envelopes[envelope.RequestID]; exists {
		return store.ErrEnvelopeAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *envelope
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	s.envelopes[envelope.RequestID] = &clone

	return nil
}

// GetEnvelope retrieves an envelope by request ID.
func (s *MessageStore) GetEnvelope(ctx context.Context, requestID uuid.UUID) (*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	envelope, exists := s.envelopes[requestID]
	if !exists {
		return nil, store.ErrEnvelopeNotFound
	}

	clone := *envelope
	return &clone, nil
}

// ListEnvelopes retrieves the envelopes for the given request IDs.
func (s *MessageStore) ListEnvelopes(ctx context.Context, requestIDs []uuid.UUID) ([]*models.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Envelope, 0, len(requestIDs))
	for _, id := range requestIDs {
		if envelope, exists := s.envelopes[id]; exists {
			clone := *envelope
			result = append(result, &clone)
		}
	}

	return result, nil
}

// SaveStatus creates or replaces a status.
func (s *MessageStore) SaveStatus(ctx context.Context, status *models.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := status.Clone()
	now := s.now()
	if existing, exists := s.statuses[status.RequestID]; exists {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	s.statuses[status.RequestID] = clone

	return nil
}

// GetStatus retrieves the status for a request ID.
func (s *MessageStore) GetStatus(ctx context.Context, requestID uuid.UUID) (*models.MessageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.statuses[requestID]
	if !exists {
		return nil, store.ErrStatusNotFound
	}

	return status.Clone(), nil
}

// ListStatuses retrieves the statuses for the given request IDs.
func (s *MessageStore) ListStatuses(ctx context.Context, requestIDs []uuid.UUID) ([]*models.MessageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.MessageStatus, 0, len(requestIDs))
	for _, id := range requestIDs {
		if status, exists := s.statuses[id]; exists {
			result = append(result, status.Clone())
		}
	}

	return result, nil
}

// ListStatusesByStatus retrieves every status in the given state, oldest first.
func (s *MessageStore) ListStatusesByStatus(ctx context.Context, status models.Status) ([]*models.MessageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.MessageStatus
	for _, st := range s.statuses {
		if st.Status == status {
			result = append(result, st.Clone())
		}
	}

	slices.SortFunc(result, func(a, b *models.MessageStatus) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	return result, nil
}
