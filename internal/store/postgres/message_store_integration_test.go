//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*MessageStore, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{
		ConnString: fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)

	st, err := NewMessageStore(ctx, pool, MessageStoreConfig{AutoMigrate: true})
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return st, cleanup
}

func TestIntegration_MessageStore(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	envelope := &models.Envelope{
		RequestID: uuid.New(),
		Type:      models.RequestTypeTxSign,
		Payload:   `{"algorithm":"ECDSA_SECP256K1","messagesToSign":[{"message":"aa","index":0},{"message":"bb","index":1}]}`,
		Signature: models.PayloadSignature{Value: "abcd", Service: "keylink"},
	}

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, RunMigrations(ctx, st.pool))
	})

	t.Run("save envelope", func(t *testing.T) {
		require.NoError(t, st.SaveEnvelope(ctx, envelope))

		got, err := st.GetEnvelope(ctx, envelope.RequestID)
		require.NoError(t, err)
		require.Equal(t, envelope.Payload, got.Payload)
		require.Equal(t, envelope.Type, got.Type)
		require.Equal(t, envelope.Signature, got.Signature)
	})

	t.Run("duplicate envelope", func(t *testing.T) {
		err := st.SaveEnvelope(ctx, envelope)
		require.ErrorIs(t, err, store.ErrEnvelopeAlreadyExists)
	})

	t.Run("missing envelope", func(t *testing.T) {
		_, err := st.GetEnvelope(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrEnvelopeNotFound)
	})

	t.Run("list envelopes keeps order", func(t *testing.T) {
		other := &models.Envelope{RequestID: uuid.New(), Type: models.RequestTypeProofOfOwnership, Payload: "{}"}
		require.NoError(t, st.SaveEnvelope(ctx, other))

		got, err := st.ListEnvelopes(ctx, []uuid.UUID{other.RequestID, uuid.New(), envelope.RequestID})
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, other.RequestID, got[0].RequestID)
		require.Equal(t, envelope.RequestID, got[1].RequestID)
	})

	t.Run("status upsert", func(t *testing.T) {
		status := &models.MessageStatus{
			RequestID: envelope.RequestID,
			TicketID:  "ticket-1",
			Type:      models.ResponseTypeTxSign,
			Status:    models.StatusPendingSign,
			SignedMessages: []models.SignedMessage{
				{Message: "aa", Index: 0},
				{Message: "bb", Index: 1},
			},
		}
		require.NoError(t, st.SaveStatus(ctx, status))

		pending, err := st.ListStatusesByStatus(ctx, models.StatusPendingSign)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "ticket-1", pending[0].TicketID)

		status.Status = models.StatusSigned
		status.SignedMessages[0].Signature = "beef"
		status.SignedMessages[1].Signature = "beef"
		require.NoError(t, st.SaveStatus(ctx, status))

		got, err := st.GetStatus(ctx, envelope.RequestID)
		require.NoError(t, err)
		require.Equal(t, models.StatusSigned, got.Status)
		require.Equal(t, status.SignedMessages, got.SignedMessages)
		require.False(t, got.UpdatedAt.Before(got.CreatedAt))

		pending, err = st.ListStatusesByStatus(ctx, models.StatusPendingSign)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("missing status", func(t *testing.T) {
		_, err := st.GetStatus(ctx, uuid.New())
		require.ErrorIs(t, err, store.ErrStatusNotFound)

		listed, err := st.ListStatuses(ctx, []uuid.UUID{uuid.New()})
		require.NoError(t, err)
		require.Empty(t, listed)
	})

	t.Run("empty signed messages round trip", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, st.SaveStatus(ctx, &models.MessageStatus{
			RequestID: id,
			Type:      models.ResponseTypeTxSign,
			Status:    models.StatusFailed,
		}))

		got, err := st.GetStatus(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.SignedMessages)
		require.Empty(t, got.SignedMessages)
	})
}
