package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/store"
)

var _ store.MessageStore = (*MessageStore)(nil)

// MessageStore implements store.MessageStore using PostgreSQL.
type MessageStore struct {
	pool *pgxpool.Pool
	cfg  MessageStoreConfig
}

// NewMessageStore creates a PostgreSQL-backed message store on a shared pool,
// applying migrations first when cfg.AutoMigrate is set.
func NewMessageStore(ctx context.Context, pool *pgxpool.Pool, cfg MessageStoreConfig) (*MessageStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message store config: %w", err)
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &MessageStore{pool: pool, cfg: cfg}, nil
}

func (s *MessageStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.queryTimeout())
}

// SaveEnvelope inserts a new envelope.
func (s *MessageStore) SaveEnvelope(ctx context.Context, envelope *models.Envelope) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO message_envelope (
			request_id, type, payload, signature_value, signature_service
		) VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		envelope.RequestID,
		envelope.Type,
		envelope.Payload,
		envelope.Signature.Value,
		envelope.Signature.Service,
	)
	if err != nil {
		err = mapPostgresError(err)
		if errors.Is(err, store.ErrEnvelopeAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to save envelope: %w", err)
	}

	log.Debug().
		Str("request_id", envelope.RequestID.String()).
		Str("type", string(envelope.Type)).
		Msg("Saved envelope")

	return nil
}

const envelopeColumns = `request_id, type, payload, signature_value, signature_service, created_at`

func scanEnvelope(row pgx.Row) (*models.Envelope, error) {
	var e models.Envelope
	err := row.Scan(
		&e.RequestID,
		&e.Type,
		&e.Payload,
		&e.Signature.Value,
		&e.Signature.Service,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnvelope retrieves an envelope by request ID.
func (s *MessageStore) GetEnvelope(ctx context.Context, requestID uuid.UUID) (*models.Envelope, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+envelopeColumns+` FROM message_envelope WHERE request_id = $1`, requestID)

	e, err := scanEnvelope(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrEnvelopeNotFound
		}
		return nil, fmt.Errorf("failed to get envelope: %w", mapPostgresError(err))
	}

	return e, nil
}

// ListEnvelopes retrieves the envelopes for the given request IDs, in the order requested.
func (s *MessageStore) ListEnvelopes(ctx context.Context, requestIDs []uuid.UUID) ([]*models.Envelope, error) {
	if len(requestIDs) == 0 {
		return []*models.Envelope{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + envelopeColumns + `
		FROM message_envelope e
		JOIN unnest($1::uuid[]) WITH ORDINALITY AS ids(id, ord) ON e.request_id = ids.id
		ORDER BY ids.ord
	`

	rows, err := s.pool.Query(ctx, query, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list envelopes: %w", mapPostgresError(err))
	}
	defer rows.Close()

	result := make([]*models.Envelope, 0, len(requestIDs))
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate envelopes: %w", mapPostgresError(err))
	}

	return result, nil
}

// SaveStatus creates or replaces the status row for the request ID.
func (s *MessageStore) SaveStatus(ctx context.Context, status *models.MessageStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	signed := status.SignedMessages
	if signed == nil {
		signed = []models.SignedMessage{}
	}
	signedJSON, err := json.Marshal(signed)
	if err != nil {
		return fmt.Errorf("failed to encode signed messages: %w", err)
	}

	query := `
		INSERT INTO message_status (
			request_id, ticket_id, type, status, signed_messages
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO UPDATE SET
			ticket_id = EXCLUDED.ticket_id,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			signed_messages = EXCLUDED.signed_messages,
			updated_at = now()
	`

	_, err = s.pool.Exec(ctx, query,
		status.RequestID,
		status.TicketID,
		status.Type,
		status.Status,
		signedJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save status: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("request_id", status.RequestID.String()).
		Str("status", string(status.Status)).
		Str("ticket", status.TicketID).
		Msg("Saved message status")

	return nil
}

const statusColumns = `request_id, ticket_id, type, status, signed_messages, created_at, updated_at`

func scanStatus(row pgx.Row) (*models.MessageStatus, error) {
	var (
		st         models.MessageStatus
		signedJSON []byte
	)
	err := row.Scan(
		&st.RequestID,
		&st.TicketID,
		&st.Type,
		&st.Status,
		&signedJSON,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(signedJSON, &st.SignedMessages); err != nil {
		return nil, fmt.Errorf("failed to decode signed messages: %w", err)
	}

	return &st, nil
}

// GetStatus retrieves the status for a request ID.
func (s *MessageStore) GetStatus(ctx context.Context, requestID uuid.UUID) (*models.MessageStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+statusColumns+` FROM message_status WHERE request_id = $1`, requestID)

	st, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrStatusNotFound
		}
		return nil, fmt.Errorf("failed to get status: %w", mapPostgresError(err))
	}

	return st, nil
}

// ListStatuses retrieves the statuses for the given request IDs, in the order requested.
func (s *MessageStore) ListStatuses(ctx context.Context, requestIDs []uuid.UUID) ([]*models.MessageStatus, error) {
	if len(requestIDs) == 0 {
		return []*models.MessageStatus{}, nil
	}

	query := `
		SELECT ` + statusColumns + `
		FROM message_status s
		JOIN unnest($1::uuid[]) WITH ORDINALITY AS ids(id, ord) ON s.request_id = ids.id
		ORDER BY ids.ord
	`

	return s.queryStatuses(ctx, query, requestIDs)
}

// ListStatusesByStatus retrieves every status in the given state, oldest first.
func (s *MessageStore) ListStatusesByStatus(ctx context.Context, status models.Status) ([]*models.MessageStatus, error) {
	query := `
		SELECT ` + statusColumns + `
		FROM message_status
		WHERE status = $1
		ORDER BY created_at
	`

	return s.queryStatuses(ctx, query, status)
}

func (s *MessageStore) queryStatuses(ctx context.Context, query string, args ...any) ([]*models.MessageStatus, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var result []*models.MessageStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		result = append(result, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate statuses: %w", mapPostgresError(err))
	}

	return result, nil
}
