package models

import "strings"

// Broker ticket states.
const (
	TicketPending   = "PENDING"
	TicketApproved  = "APPROVED"
	TicketExecuted  = "EXECUTED"
	TicketFailed    = "FAILED"
	TicketRejected  = "REJECTED"
	TicketCancelled = "CANCELLED"
	TicketExpired   = "EXPIRED"
)

// TicketPendingState reports whether a broker ticket status still awaits a decision.
// A missing status is treated as pending. Matching ignores case.
func TicketPendingState(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "", TicketPending, TicketApproved:
		return true
	default:
		return false
	}
}

// MapTicketStatus maps a broker ticket status into the local three state space,
// ignoring case.
func MapTicketStatus(status string) Status {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch {
	case TicketPendingState(status):
		return StatusPendingSign
	case status == TicketExecuted:
		return StatusSigned
	default:
		return StatusFailed
	}
}
