// Package server exposes the signing and validation flows over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	httpmiddleware "github.com/wolfeidau/keylink-bridge/internal/http"
	"github.com/wolfeidau/keylink-bridge/internal/logger"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/validation"
)

const (
	apiTitle  = "Keylink Bridge API"
	apiVendor = "wolfeidau"
)

// Signer runs the envelope signing flows.
type Signer interface {
	SignEnvelopes(ctx context.Context, envelopes []*models.Envelope) ([]*models.MessageStatus, error)
	RejectEnvelope(ctx context.Context, requestID uuid.UUID, requestType models.RequestType, reason error) *models.MessageStatus
	SignPending(ctx context.Context) ([]*models.MessageStatus, error)
	SignRequest(ctx context.Context, requestID uuid.UUID) (*models.MessageStatus, error)
	Statuses(ctx context.Context, requestIDs []uuid.UUID) ([]*models.MessageStatus, error)
}

// Validator runs the validation key and proof of ownership flows.
type Validator interface {
	CreateValidationKey(ctx context.Context, req validation.CreateValidationKeyRequest) (string, error)
	CreateValidations(ctx context.Context, req validation.CreateValidationsRequest) (*validation.CreateValidationResponse, error)
	GenerateProofOfOwnership(ctx context.Context, req validation.ProofOfOwnershipRequest) (*validation.ProofOfOwnershipResponse, error)
	GenerateValidationProofOfOwnership(ctx context.Context, req validation.ValidationProofOfOwnershipRequest) (*validation.ValidationProofOfOwnershipResponse, error)
}

// Config controls the HTTP surface.
type Config struct {
	// APIKey is compared against the Authorization header of every protected route.
	APIKey string
	// AirGapped removes the validation routes.
	AirGapped bool
	Version   string
}

// Server wraps the HTTP handlers for the bridge.
type Server struct {
	signer    Signer
	validator Validator
	cfg       Config
}

// NewServer creates a new server. validator may be nil when the bridge is air gapped.
func NewServer(signer Signer, validator Validator, cfg Config) *Server {
	return &Server{
		signer:    signer,
		validator: validator,
		cfg:       cfg,
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httpmiddleware.ClientIPMiddleware())
	r.Use(logger.NewRequests(log).Handler)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequireAPIKey(s.cfg.APIKey, "/"))

	// Health check endpoint for load balancer
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/versionInfo", s.versionInfo)

		r.Post("/messagesToSign", s.messagesToSign)
		r.Post("/messagesStatus", s.messagesStatus)
		r.Post("/signAllPendingMessages", s.signAllPendingMessages)
		r.Post("/signRequest/{requestId}", s.signRequest)

		if !s.cfg.AirGapped && s.validator != nil {
			r.Post("/createValidationKey", s.createValidationKey)
			r.Post("/createValidations", s.createValidations)
			r.Post("/proofOfOwnership", s.proofOfOwnership)
			r.Post("/validationAndProofOfOwnership", s.validationAndProofOfOwnership)
		}
	})

	return r
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"API":     apiTitle,
		"Version": s.cfg.Version,
		"Vendor":  apiVendor,
	})
}

type errorResponse struct {
	ErrorCode int    `json:"errorCode"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err with the status of its code. Errors without a code are
// reported as subsystem errors.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, ok := errs.CodeOf(err)
	if !ok {
		code = errs.CodeInSubsystem
	}

	status := code.HTTPStatus()
	event := zerolog.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Int("error_code", int(code)).Msg("Request failed")

	writeJSON(w, status, errorResponse{
		ErrorCode: int(code),
		Reason:    code.Reason(),
		Message:   err.Error(),
	})
}

// decodeBody decodes a JSON request body. An empty body is allowed when optional is set.
func decodeBody(r *http.Request, out any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return errs.New(errs.CodeInvalidJSON, "request body is required")
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errs.Wrap(errs.CodeInvalidJSON, err, "invalid request body")
	}
	return nil
}
