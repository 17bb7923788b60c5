package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RequestType is the kind of signing request carried by an envelope.
type RequestType string

const (
	RequestTypeTxSign           RequestType = "KEY_LINK_TX_SIGN_REQUEST"
	RequestTypeProofOfOwnership RequestType = "KEY_LINK_PROOF_OF_OWNERSHIP_REQUEST"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	return t == RequestTypeTxSign || t == RequestTypeProofOfOwnership
}

// ResponseType returns the response type paired with t.
func (t RequestType) ResponseType() ResponseType {
	if t == RequestTypeProofOfOwnership {
		return ResponseTypeProofOfOwnership
	}
	return ResponseTypeTxSign
}

// ResponseType is the kind of status reported back for an envelope.
type ResponseType string

const (
	ResponseTypeTxSign           ResponseType = "KEY_LINK_TX_SIGN_RESPONSE"
	ResponseTypeProofOfOwnership ResponseType = "KEY_LINK_PROOF_OF_OWNERSHIP_RESPONSE"
)

// Status is the local signing state of an envelope.
type Status string

const (
	StatusPendingSign Status = "PENDING_SIGN"
	StatusSigned      Status = "SIGNED"
	StatusFailed      Status = "FAILED"
)

// Terminal returns true once no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusFailed
}

// PayloadSignature is the integrity signature attached to an inbound envelope.
type PayloadSignature struct {
	Value   string // hex encoded
	Service string // name of the service that produced the signature
}

// Envelope is an inbound signing request. It is written once and never mutated.
type Envelope struct {
	RequestID uuid.UUID
	Type      RequestType
	Payload   string // opaque JSON document, kept byte for byte for verification
	Signature PayloadSignature
	CreatedAt time.Time
}

// SignedMessage is one signing slot of a status.
type SignedMessage struct {
	Message   string `json:"message"`
	Index     int    `json:"index"`
	Signature string `json:"signature"`
}

// MessageStatus is the signing outcome of an envelope, keyed 1:1 by request ID.
type MessageStatus struct {
	RequestID      uuid.UUID
	TicketID       string // broker ticket, blank when none is live
	Type           ResponseType
	Status         Status
	SignedMessages []SignedMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy so stores never hand out shared slices.
func (s *MessageStatus) Clone() *MessageStatus {
	if s == nil {
		return nil
	}
	c := *s
	c.SignedMessages = slices.Clone(s.SignedMessages)
	return &c
}
