package deskstream

import (
	"context"

	"github.com/deskstream/deskstream/pkg/models"
)

// TicketFilter narrows a ticket listing. Nil fields match everything.
type TicketFilter struct {
	CreatedBy *string
	Status    *models.Status
}

// Storage is the backend's query surface as the sync core consumes it.
// Reads are filtered server-side by row-level access policy on top of the
// explicit predicates here; each call is all-or-nothing, so a failed read
// never leaves the caller with a partial result to merge.
//
// The two conditional updates return whether a row was affected. That
// affected-row count is the single source of truth for race outcomes: a
// claim that affected zero rows lost to another claimer, full stop. The
// core never substitutes a local read-then-write for it.
//
// github.com/deskstream/deskstream/pkg/store/postgres implements Storage
// directly against Postgres for server-side embedding and tooling.
type Storage interface {
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListMessages(ctx context.Context, ticketID string) ([]models.Message, error)
	GetProfile(ctx context.Context, id string) (*models.Profile, error)

	InsertTicket(ctx context.Context, t *models.Ticket) error
	InsertMessage(ctx context.Context, m *models.Message) error

	UpdateTicketStatus(ctx context.Context, id string, status models.Status) error

	// ClaimTicket sets assigned_to to staffID only if it is currently null.
	ClaimTicket(ctx context.Context, id, staffID string) (claimed bool, err error)

	// ReassignTicket moves the assignment from one staff member to another,
	// conditionally on the current assignee still being from.
	ReassignTicket(ctx context.Context, id, from, to string) (reassigned bool, err error)

	// MarkMessagesRead marks every message on the ticket not sent by
	// readerID as read.
	MarkMessagesRead(ctx context.Context, ticketID, readerID string) error
}
