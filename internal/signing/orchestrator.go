// Package signing ties envelope verification, broker submission and status
// persistence together.
package signing

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/store"
	"github.com/wolfeidau/keylink-bridge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Broker is the subset of the broker client used for signing.
type Broker interface {
	Sign(ctx context.Context, in broker.SignInput) (string, error)
	GetTicket(ctx context.Context, ticketID string) (*broker.Ticket, error)
	CheckLicense(ctx context.Context, airGapped bool) error
}

// TicketAwaiter waits for a broker ticket to leave the pending state.
type TicketAwaiter interface {
	AwaitTerminal(ctx context.Context, ticketID string) (*broker.Ticket, error)
}

// SignatureVerifier checks envelope signatures.
type SignatureVerifier interface {
	Verify(payload []byte, sigHex, service string) bool
	PublicKeyBase64() string
	ServiceName() string
}

// Config controls orchestrator behaviour.
type Config struct {
	VerifySignatures bool
	AirGapped        bool
}

// Orchestrator signs envelopes through the broker and records the outcome.
type Orchestrator struct {
	broker   Broker
	awaiter  TicketAwaiter
	store    store.MessageStore
	verifier SignatureVerifier
	cfg      Config
}

// New creates an orchestrator. A verifier is required when signature verification is enabled.
func New(b Broker, awaiter TicketAwaiter, st store.MessageStore, verifier SignatureVerifier, cfg Config) (*Orchestrator, error) {
	if cfg.VerifySignatures && verifier == nil {
		return nil, errs.New(errs.CodeConfigNotValid, "signature verification is enabled but no verification key is configured")
	}
	return &Orchestrator{
		broker:   b,
		awaiter:  awaiter,
		store:    st,
		verifier: verifier,
		cfg:      cfg,
	}, nil
}

// BrokerAlgorithm maps the signing algorithm named in a payload to the broker's name for it.
func BrokerAlgorithm(name string) (string, error) {
	switch name {
	case "ECDSA_SECP256K1":
		return "NONE_WITH_ECDSA", nil
	case "EDDSA_ED25519":
		return "EDDSA", nil
	default:
		return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported algorithm: %s", name)
	}
}

func (o *Orchestrator) checkLicense(ctx context.Context) error {
	err := o.broker.CheckLicense(ctx, o.cfg.AirGapped)
	if code, ok := errs.CodeOf(err); ok && code == errs.CodeClientSubscription {
		telemetry.GetMetrics().LicenseRejectionsTotal.Add(ctx, 1)
	}
	return err
}

// SignEnvelopes stores and signs a batch of new envelopes. One envelope failing never
// fails the batch; it is reported as FAILED. Only a license rejection fails the call.
func (o *Orchestrator) SignEnvelopes(ctx context.Context, envelopes []*models.Envelope) ([]*models.MessageStatus, error) {
	if err := o.checkLicense(ctx); err != nil {
		return nil, err
	}

	statuses := make([]*models.MessageStatus, 0, len(envelopes))
	for _, env := range envelopes {
		err := o.store.SaveEnvelope(ctx, env)
		switch {
		case errors.Is(err, store.ErrEnvelopeAlreadyExists):
			log.Warn().Str("request_id", env.RequestID.String()).Msg("Envelope already received, signing again")
		case err != nil:
			log.Error().Err(err).Str("request_id", env.RequestID.String()).Msg("Failed to save envelope")
			statuses = append(statuses, o.fail(ctx, env))
			continue
		}

		statuses = append(statuses, o.process(ctx, env))
	}

	return statuses, nil
}

// SignPending resubmits every envelope whose status is still PENDING_SIGN.
func (o *Orchestrator) SignPending(ctx context.Context) ([]*models.MessageStatus, error) {
	if err := o.checkLicense(ctx); err != nil {
		return nil, err
	}

	pending, err := o.store.ListStatusesByStatus(ctx, models.StatusPendingSign)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to list pending statuses")
	}
	if len(pending) == 0 {
		log.Info().Msg("No pending messages to sign")
		return []*models.MessageStatus{}, nil
	}

	ids := make([]uuid.UUID, 0, len(pending))
	for _, st := range pending {
		ids = append(ids, st.RequestID)
	}

	envelopes, err := o.store.ListEnvelopes(ctx, ids)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to load pending envelopes")
	}

	statuses := make([]*models.MessageStatus, 0, len(envelopes))
	for _, env := range envelopes {
		statuses = append(statuses, o.process(ctx, env))
	}
	return statuses, nil
}

// SignRequest resubmits a single stored envelope.
func (o *Orchestrator) SignRequest(ctx context.Context, requestID uuid.UUID) (*models.MessageStatus, error) {
	if err := o.checkLicense(ctx); err != nil {
		return nil, err
	}

	env, err := o.store.GetEnvelope(ctx, requestID)
	if errors.Is(err, store.ErrEnvelopeNotFound) {
		return nil, errs.New(errs.CodeRequestNotExistent, "request %s does not exist", requestID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to load envelope %s", requestID)
	}

	return o.process(ctx, env), nil
}

// Statuses returns the stored statuses for the given request IDs. Unknown IDs are omitted.
func (o *Orchestrator) Statuses(ctx context.Context, requestIDs []uuid.UUID) ([]*models.MessageStatus, error) {
	statuses, err := o.store.ListStatuses(ctx, requestIDs)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to load statuses")
	}
	return statuses, nil
}

// process signs one envelope and converts every failure, panics included, into a
// FAILED status.
func (o *Orchestrator) process(ctx context.Context, env *models.Envelope) (status *models.MessageStatus) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("request_id", env.RequestID.String()).Msg("Signing panicked")
			status = o.fail(ctx, env)
		}
	}()

	status, err := o.signEnvelope(ctx, env)
	if err != nil {
		log.Error().Err(err).Str("request_id", env.RequestID.String()).Msg("Failed signing envelope")
		return o.fail(ctx, env)
	}

	telemetry.GetMetrics().EnvelopesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status.Status))))
	return status
}

func (o *Orchestrator) signEnvelope(ctx context.Context, env *models.Envelope) (*models.MessageStatus, error) {
	logger := log.With().Str("request_id", env.RequestID.String()).Logger()

	if o.cfg.VerifySignatures && !o.verifier.Verify([]byte(env.Payload), env.Signature.Value, env.Signature.Service) {
		logger.Error().Str("service", env.Signature.Service).Msg("Invalid envelope signature")
		return o.fail(ctx, env), nil
	}

	signature, err := hex.DecodeString(env.Signature.Value)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidSignature, err, "envelope signature is not hex")
	}

	metadata, err := o.metadata(env)
	if err != nil {
		return nil, err
	}

	var payload models.MessagePayload
	if err := json.Unmarshal([]byte(env.Payload), &payload); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidJSON, err, "invalid envelope payload")
	}

	algorithm, err := BrokerAlgorithm(payload.Algorithm)
	if err != nil {
		return nil, err
	}

	in := broker.SignInput{
		Label:             payload.SigningDeviceKeyID,
		PayloadType:       broker.PayloadTypeHex,
		SignatureType:     broker.SignatureTypeRaw,
		Algorithm:         algorithm,
		Metadata:          base64.StdEncoding.EncodeToString(metadata),
		MetadataSignature: base64.StdEncoding.EncodeToString(signature),
	}

	status := &models.MessageStatus{
		RequestID:      env.RequestID,
		Type:           env.Type.ResponseType(),
		Status:         models.StatusFailed,
		SignedMessages: make([]models.SignedMessage, 0, len(payload.MessagesToSign)),
	}

	// The envelope status follows the last sub-message processed.
	for _, msg := range payload.MessagesToSign {
		slot := models.SignedMessage{Message: msg.Message, Index: msg.Index}

		in.Payload = msg.Message
		ticket, sig, err := o.signMessage(ctx, in)
		if err != nil {
			logger.Warn().Err(err).Int("index", msg.Index).Msg("Failed signing message")
			status.Status = models.StatusFailed
			o.countMessage(ctx, models.StatusFailed)
		} else {
			slot.Signature = sig
			status.TicketID = ticket.ID
			status.Status = models.MapTicketStatus(ticket.Status)
			o.countMessage(ctx, status.Status)
		}

		status.SignedMessages = append(status.SignedMessages, slot)
	}

	if err := o.store.SaveStatus(ctx, status); err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to save status")
	}

	logger.Info().
		Str("status", string(status.Status)).
		Str("ticket", status.TicketID).
		Str("tx_id", payload.TxID).
		Str("tenant_id", payload.TenantID).
		Int("messages", len(status.SignedMessages)).
		Msg("Signed envelope")

	return status, nil
}

// metadata returns the payload document forwarded to the broker. With verification
// enabled it carries what the broker needs to re-check the envelope signature.
func (o *Orchestrator) metadata(env *models.Envelope) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(env.Payload), &doc); err != nil || doc == nil {
		return nil, errs.New(errs.CodeInvalidJSON, "expected JSON object as payload")
	}

	if o.cfg.VerifySignatures {
		for key, value := range map[string]string{
			"publicKeyPem":        o.verifier.PublicKeyBase64(),
			"rawPayload":          env.Payload,
			"serviceName":         env.Signature.Service,
			"expectedServiceName": o.verifier.ServiceName(),
		} {
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s: %w", key, err)
			}
			doc[key] = encoded
		}
	}

	return json.Marshal(doc)
}

// signMessage submits one sub-message and waits for the broker. A ticket still pending
// after the wait yields an empty signature.
func (o *Orchestrator) signMessage(ctx context.Context, in broker.SignInput) (*broker.Ticket, string, error) {
	ticketID, err := o.broker.Sign(ctx, in)
	if err != nil {
		return nil, "", err
	}

	ticket, err := o.awaiter.AwaitTerminal(ctx, ticketID)
	if err != nil {
		return nil, "", err
	}

	sig, err := decodeResult(ticket.Result)
	if err != nil {
		return nil, "", err
	}

	return ticket, sig, nil
}

// decodeResult converts the broker's base64 signature into hex.
func decodeResult(result string) (string, error) {
	if result == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(result)
	if err != nil {
		return "", errs.Wrap(errs.CodeInSubsystem, err, "broker returned a signature that is not base64")
	}
	return hex.EncodeToString(raw), nil
}

func (o *Orchestrator) countMessage(ctx context.Context, status models.Status) {
	telemetry.GetMetrics().SubMessagesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// fail records a FAILED status with no results for the envelope.
func (o *Orchestrator) fail(ctx context.Context, env *models.Envelope) *models.MessageStatus {
	return o.saveFailed(ctx, env.RequestID, env.Type.ResponseType())
}

// RejectEnvelope records a FAILED status for a request that could not be turned into an
// envelope, so a status lookup by its ID reports the failure.
func (o *Orchestrator) RejectEnvelope(ctx context.Context, requestID uuid.UUID, requestType models.RequestType, reason error) *models.MessageStatus {
	log.Warn().Err(reason).Str("request_id", requestID.String()).Msg("Rejected invalid envelope")
	return o.saveFailed(ctx, requestID, requestType.ResponseType())
}

func (o *Orchestrator) saveFailed(ctx context.Context, requestID uuid.UUID, responseType models.ResponseType) *models.MessageStatus {
	status := &models.MessageStatus{
		RequestID:      requestID,
		Type:           responseType,
		Status:         models.StatusFailed,
		SignedMessages: []models.SignedMessage{},
	}

	if err := o.store.SaveStatus(ctx, status); err != nil {
		log.Error().Err(err).Str("request_id", requestID.String()).Msg("Failed to save failed status")
	}

	telemetry.GetMetrics().EnvelopesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(models.StatusFailed))))
	return status
}

// ResyncPending refreshes every PENDING_SIGN status that has a broker ticket, without
// resubmitting. It returns the number of statuses updated. Row failures are logged and
// skipped.
func (o *Orchestrator) ResyncPending(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() {
		telemetry.GetMetrics().ResyncDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}()

	pending, err := o.store.ListStatusesByStatus(ctx, models.StatusPendingSign)
	if err != nil {
		return 0, errs.Wrap(errs.CodeInSubsystem, err, "failed to list pending statuses")
	}
	if len(pending) == 0 {
		log.Debug().Msg("No pending messages to sync")
		return 0, nil
	}

	updated := 0
	for _, st := range pending {
		if st.TicketID == "" {
			continue
		}

		changed, err := o.resync(ctx, st)
		if err != nil {
			log.Warn().Err(err).Str("request_id", st.RequestID.String()).Str("ticket", st.TicketID).Msg("Failed to sync broker status")
			continue
		}
		if changed {
			updated++
		}
	}

	telemetry.GetMetrics().ResyncUpdatesTotal.Add(ctx, int64(updated))
	log.Info().Int("pending", len(pending)).Int("updated", updated).Msg("Resynced pending statuses")

	return updated, nil
}

// resync applies the broker's current ticket state to one status. A SIGNED result is
// written as hex, not copied raw.
func (o *Orchestrator) resync(ctx context.Context, st *models.MessageStatus) (bool, error) {
	ticket, err := o.broker.GetTicket(ctx, st.TicketID)
	if err != nil {
		return false, err
	}

	mapped := models.MapTicketStatus(ticket.Status)
	if mapped == st.Status {
		return false, nil
	}

	log.Debug().
		Str("request_id", st.RequestID.String()).
		Str("from", string(st.Status)).
		Str("to", string(mapped)).
		Str("broker_status", ticket.Status).
		Msg("Status changed")

	st.Status = mapped

	// The broker returns one base64 signature per ticket. Every slot gets it re-encoded as
	// hex, as on submit, not the raw broker value.
	if mapped == models.StatusSigned {
		sig, err := decodeResult(ticket.Result)
		if err != nil {
			sig = ticket.Result
		}
		for i := range st.SignedMessages {
			st.SignedMessages[i].Signature = sig
		}
	}

	if err := o.store.SaveStatus(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}
