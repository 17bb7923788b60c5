package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/models"
)

func statusesResponse(statuses []*models.MessageStatus) models.MessagesStatusResponse {
	out := models.MessagesStatusResponse{Statuses: make([]models.StatusResponse, 0, len(statuses))}
	for _, st := range statuses {
		out.Statuses = append(out.Statuses, st.Response())
	}
	return out
}

// messagesToSign signs a batch. Envelopes that fail validation become FAILED entries in
// their position; the valid ones are still signed.
func (s *Server) messagesToSign(w http.ResponseWriter, r *http.Request) {
	var req models.MessagesRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	envelopes := make([]*models.Envelope, 0, len(req.Messages))
	invalid := map[int]error{}
	for i, m := range req.Messages {
		env, err := m.Envelope()
		if err != nil {
			invalid[i] = err
			continue
		}
		envelopes = append(envelopes, env)
	}

	signed, err := s.signer.SignEnvelopes(r.Context(), envelopes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(signed) != len(envelopes) {
		writeError(w, r, errs.New(errs.CodeInSubsystem, "expected %d statuses, got %d", len(envelopes), len(signed)))
		return
	}

	statuses := make([]*models.MessageStatus, 0, len(req.Messages))
	for i, m := range req.Messages {
		reason, bad := invalid[i]
		if !bad {
			statuses = append(statuses, signed[0])
			signed = signed[1:]
			continue
		}

		zerolog.Ctx(r.Context()).Warn().Err(reason).Int("index", i).Msg("Invalid envelope in batch")

		requestID, err := m.ParseRequestID()
		if err != nil {
			// Nothing to key a stored status on.
			statuses = append(statuses, &models.MessageStatus{
				Type:           m.TransportMetadata.Type.ResponseType(),
				Status:         models.StatusFailed,
				SignedMessages: []models.SignedMessage{},
			})
			continue
		}
		statuses = append(statuses, s.signer.RejectEnvelope(r.Context(), requestID, m.TransportMetadata.Type, reason))
	}

	writeJSON(w, http.StatusOK, statusesResponse(statuses))
}

func (s *Server) messagesStatus(w http.ResponseWriter, r *http.Request) {
	var req models.MessagesStatusRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	statuses, err := s.signer.Statuses(r.Context(), req.RequestIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusesResponse(statuses))
}

func (s *Server) signAllPendingMessages(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.signer.SignPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusesResponse(statuses))
}

func (s *Server) signRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(chi.URLParam(r, "requestId"))
	if err != nil {
		writeError(w, r, errs.Wrap(errs.CodeInvalidUUID, err, "invalid request id"))
		return
	}

	status, err := s.signer.SignRequest(r.Context(), requestID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status.Response())
}
