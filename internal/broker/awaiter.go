package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/models"
	"github.com/wolfeidau/keylink-bridge/internal/telemetry"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultWaitTimeout  = 120 * time.Second
)

var errStillPending = errors.New("ticket still pending")

// TicketGetter fetches the current state of a broker ticket.
type TicketGetter interface {
	GetTicket(ctx context.Context, ticketID string) (*Ticket, error)
}

// Awaiter polls a ticket until it leaves the pending state or the wait times out.
type Awaiter struct {
	tickets TicketGetter
	poll    time.Duration
	timeout time.Duration
}

// NewAwaiter creates an awaiter. Non-positive durations fall back to the defaults.
func NewAwaiter(tickets TicketGetter, poll, timeout time.Duration) *Awaiter {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &Awaiter{tickets: tickets, poll: poll, timeout: timeout}
}

// AwaitTerminal returns the ticket once its status is terminal. If the timeout elapses first the
// last observed ticket is returned, still pending, with a nil error. Errors fetching the
// ticket end the wait immediately; a cancelled context is reported as a subsystem error.
func (a *Awaiter) AwaitTerminal(ctx context.Context, ticketID string) (*Ticket, error) {
	started := time.Now()

	ticket, err := backoff.Retry(ctx, func() (*Ticket, error) {
		t, err := a.tickets.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if models.TicketPendingState(t.Status) {
			return t, errStillPending
		}
		return t, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(a.poll)),
		backoff.WithMaxElapsedTime(a.timeout),
	)

	telemetry.GetMetrics().BrokerTicketWait.Record(ctx, float64(time.Since(started).Milliseconds()))

	switch {
	case err == nil:
		return ticket, nil
	case ctx.Err() != nil:
		return nil, errs.Wrap(errs.CodeInSubsystem, context.Cause(ctx), "interrupted while waiting for ticket %s", ticketID)
	case errors.Is(err, errStillPending):
		telemetry.GetMetrics().BrokerTicketTimeouts.Add(ctx, 1)
		log.Warn().
			Str("ticket", ticketID).
			Str("status", ticket.Status).
			Dur("timeout", a.timeout).
			Msg("Ticket still pending after wait timeout")
		return ticket, nil
	default:
		return nil, err
	}
}
