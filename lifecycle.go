package deskstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deskstream/deskstream/pkg/logger"
	"github.com/deskstream/deskstream/pkg/models"
	"github.com/deskstream/deskstream/pkg/session"
)

// Lifecycle executes ticket writes: creation, messaging, status
// transitions, and the single-claim assignment protocol. It issues the
// write and relies on the change feed to confirm it; nothing here mutates
// the entity store directly.
type Lifecycle struct {
	storage Storage
	log     logger.Logger
	now     func() time.Time
}

// NewLifecycle wires a controller to the storage collaborator.
func NewLifecycle(storage Storage, log logger.Logger) *Lifecycle {
	if log == nil {
		log = logger.Nop()
	}
	return &Lifecycle{
		storage: storage,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateTicket opens a new ticket with its seed message. The two writes are
// dependent: when the seed message fails after the ticket insert succeeded,
// the returned error is a *PartialCreateError carrying the created ticket
// id so the caller can retry the message rather than re-create the ticket.
func (l *Lifecycle) CreateTicket(ctx context.Context, viewer *session.Session, subject, message string) (*models.Ticket, error) {
	subject = strings.TrimSpace(subject)
	message = strings.TrimSpace(message)
	if subject == "" || message == "" {
		return nil, ErrEmptyContent
	}

	now := l.now()
	ticket := &models.Ticket{
		ID:        models.NewID(),
		Subject:   subject,
		Status:    models.StatusOpen,
		CreatedBy: viewer.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.InsertTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	seed := &models.Message{
		ID:        models.NewID(),
		TicketID:  ticket.ID,
		SenderID:  viewer.UserID,
		Content:   message,
		CreatedAt: now,
	}
	if err := l.storage.InsertMessage(ctx, seed); err != nil {
		l.log.Error("seed message failed after ticket insert",
			"ticket", ticket.ID, "error", err)
		return ticket, &PartialCreateError{TicketID: ticket.ID, Err: err}
	}

	return ticket, nil
}

// SendMessage appends a message to a ticket's conversation.
func (l *Lifecycle) SendMessage(ctx context.Context, viewer *session.Session, ticketID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	m := &models.Message{
		ID:        models.NewID(),
		TicketID:  ticketID,
		SenderID:  viewer.UserID,
		Content:   content,
		CreatedAt: l.now(),
	}
	if err := l.storage.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ChangeStatus moves a ticket to the requested status. Every transition
// between distinct states is permitted; requesting the current status is a
// no-op that issues no write, so the feed echoes nothing and no redundant
// alert can fire.
func (l *Lifecycle) ChangeStatus(ctx context.Context, current models.Ticket, next models.Status) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if current.Status == next {
		return nil
	}
	if err := l.storage.UpdateTicketStatus(ctx, current.ID, next); err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	return nil
}

// Claim assigns an unassigned ticket to staffID. The decision is made by
// the storage collaborator's conditional write, never by a local
// read-then-write: when the write affects no row, someone else claimed
// first, and Claim reloads the ticket and returns ErrAlreadyAssigned with
// the current row so the caller can show who holds it.
func (l *Lifecycle) Claim(ctx context.Context, ticketID, staffID string) (*models.Ticket, error) {
	claimed, err := l.storage.ClaimTicket(ctx, ticketID, staffID)
	if err != nil {
		return nil, fmt.Errorf("claim ticket: %w", err)
	}

	ticket, gerr := l.storage.GetTicket(ctx, ticketID)
	if gerr != nil {
		return nil, fmt.Errorf("reload ticket after claim: %w", gerr)
	}
	if ticket == nil {
		return nil, ErrTicketNotFound
	}

	if !claimed {
		return ticket, ErrAlreadyAssigned
	}
	return ticket, nil
}

// Reassign moves a ticket from one staff member to another, conditionally
// on the current assignee, so two concurrent reassignments cannot both
// apply.
func (l *Lifecycle) Reassign(ctx context.Context, ticketID, from, to string) (*models.Ticket, error) {
	moved, err := l.storage.ReassignTicket(ctx, ticketID, from, to)
	if err != nil {
		return nil, fmt.Errorf("reassign ticket: %w", err)
	}

	ticket, gerr := l.storage.GetTicket(ctx, ticketID)
	if gerr != nil {
		return nil, fmt.Errorf("reload ticket after reassign: %w", gerr)
	}
	if ticket == nil {
		return nil, ErrTicketNotFound
	}

	if !moved {
		return ticket, ErrAlreadyAssigned
	}
	return ticket, nil
}

// MarkRead marks the other party's messages on a ticket as read.
func (l *Lifecycle) MarkRead(ctx context.Context, viewer *session.Session, ticketID string) error {
	if err := l.storage.MarkMessagesRead(ctx, ticketID, viewer.UserID); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}
