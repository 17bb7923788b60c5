package server

import (
	"net/http"

	"github.com/wolfeidau/keylink-bridge/internal/validation"
)

func (s *Server) createValidationKey(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateValidationKeyRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	publicKey, err := s.validator.CreateValidationKey(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, validation.CreateValidationKeyResponse{PublicKeyPEM: publicKey})
}

func (s *Server) createValidations(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateValidationsRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.validator.CreateValidations(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) proofOfOwnership(w http.ResponseWriter, r *http.Request) {
	var req validation.ProofOfOwnershipRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.validator.GenerateProofOfOwnership(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) validationAndProofOfOwnership(w http.ResponseWriter, r *http.Request) {
	var req validation.ValidationProofOfOwnershipRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.validator.GenerateValidationProofOfOwnership(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}
