package deskstream

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyAssigned is returned by Claim when another staff member won
	// the conditional write.
	ErrAlreadyAssigned = errors.New("ticket already assigned")

	// ErrTicketNotFound is returned when an operation references a ticket
	// the storage layer cannot find.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrEmptyContent rejects messages and subjects that are empty after
	// trimming.
	ErrEmptyContent = errors.New("content is empty")

	// ErrInvalidStatus rejects transitions to a status outside
	// {open, pending, closed}.
	ErrInvalidStatus = errors.New("invalid ticket status")

	// ErrViewClosed is returned by operations on a View after Close.
	ErrViewClosed = errors.New("view closed")
)

// PartialCreateError reports that a ticket was created but its seed message
// was not. The ticket id lets the caller retry the message instead of
// re-creating the ticket.
type PartialCreateError struct {
	TicketID string
	Err      error
}

func (e *PartialCreateError) Error() string {
	return fmt.Sprintf("ticket %s created but seed message failed: %v", e.TicketID, e.Err)
}

func (e *PartialCreateError) Unwrap() error { return e.Err }
