package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MessagesRequest is the body of a batch signing request.
type MessagesRequest struct {
	Messages []MessageEnvelope `json:"messages"`
}

// MessageEnvelope is the inbound wire form of an Envelope.
type MessageEnvelope struct {
	Message           EnvelopeMessage   `json:"message"`
	TransportMetadata TransportMetadata `json:"transportMetadata"`
}

type EnvelopeMessage struct {
	PayloadSignatureData PayloadSignatureData `json:"payloadSignatureData"`
	Payload              string               `json:"payload"`
}

type PayloadSignatureData struct {
	Signature string `json:"signature"`
	Service   string `json:"service"`
}

type TransportMetadata struct {
	RequestID string      `json:"requestId"`
	Type      RequestType `json:"type"`
}

// ParseRequestID returns the envelope's request ID.
func (m MessageEnvelope) ParseRequestID() (uuid.UUID, error) {
	requestID, err := uuid.Parse(strings.TrimSpace(m.TransportMetadata.RequestID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid request id %q: %w", m.TransportMetadata.RequestID, err)
	}
	return requestID, nil
}

// Envelope validates the wire form and converts it into an Envelope.
func (m MessageEnvelope) Envelope() (*Envelope, error) {
	requestID, err := m.ParseRequestID()
	if err != nil {
		return nil, err
	}
	if !m.TransportMetadata.Type.Valid() {
		return nil, fmt.Errorf("invalid request type %q", m.TransportMetadata.Type)
	}
	return &Envelope{
		RequestID: requestID,
		Type:      m.TransportMetadata.Type,
		Payload:   m.Message.Payload,
		Signature: PayloadSignature{
			Value:   m.Message.PayloadSignatureData.Signature,
			Service: m.Message.PayloadSignatureData.Service,
		},
	}, nil
}

// MessagePayload is the JSON document embedded as a string in an envelope.
type MessagePayload struct {
	TenantID           string          `json:"tenantId"`
	Type               RequestType     `json:"type"`
	Algorithm          string          `json:"algorithm"`
	UserAccessToken    string          `json:"userAccessToken"`
	SigningDeviceKeyID string          `json:"signingDeviceKeyId"`
	KeyID              string          `json:"keyId"`
	MessagesToSign     []MessageToSign `json:"messagesToSign"`
	TxID               string          `json:"txId"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
}

type MessageToSign struct {
	Message string `json:"message"`
	Index   int    `json:"index"`
}

// MessagesStatusRequest asks for the stored status of a list of envelopes.
type MessagesStatusRequest struct {
	RequestIDs []uuid.UUID `json:"requestsIds"`
}

// MessagesStatusResponse wraps a list of statuses.
type MessagesStatusResponse struct {
	Statuses []StatusResponse `json:"statuses"`
}

// StatusResponse is the outbound wire form of a MessageStatus.
type StatusResponse struct {
	Type      ResponseType    `json:"type"`
	Status    Status          `json:"status"`
	RequestID uuid.UUID       `json:"requestId"`
	Response  MessageResponse `json:"response"`
}

type MessageResponse struct {
	SignedMessages []SignedMessage `json:"signedMessages"`
}

// Response renders the status in its wire form.
func (s *MessageStatus) Response() StatusResponse {
	signed := s.SignedMessages
	if signed == nil {
		signed = []SignedMessage{}
	}
	return StatusResponse{
		Type:      s.Type,
		Status:    s.Status,
		RequestID: s.RequestID,
		Response:  MessageResponse{SignedMessages: signed},
	}
}
