// Package models defines the entities synchronized between a deskstream
// backend and its clients: support tickets, the messages exchanged on them,
// and the profiles of the people involved.
//
// All entities are keyed by UUID strings. Timestamps are UTC. The struct
// tags serve three consumers at once: the CBOR wire codec (which honors the
// json tag), JSON APIs built on top of the SDK, and the gorm-backed storage
// implementation.
package models

import (
	"time"

	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

// Valid reports whether s is one of the three known ticket states.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}

// Profile is an identity record owned by the auth service. Clients treat it
// as read-only reference data; IsAdmin is fixed for the lifetime of a
// session.
type Profile struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	Email     string    `gorm:"not null;uniqueIndex" json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	IsAdmin   bool      `gorm:"not null;default:false" json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName returns the full name when one is set, the email otherwise.
func (p Profile) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	return p.Email
}

// Ticket is a support request. CreatedBy never changes after creation;
// AssignedTo transitions from nil to a staff profile id through the claim
// protocol and is never silently cleared.
type Ticket struct {
	ID         string    `gorm:"type:uuid;primary_key" json:"id"`
	Subject    string    `gorm:"not null" json:"subject"`
	Status     Status    `gorm:"type:text;not null;default:open;index" json:"status"`
	CreatedBy  string    `gorm:"type:uuid;not null;index" json:"created_by"`
	AssignedTo *string   `gorm:"type:uuid" json:"assigned_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Assigned reports whether the ticket has been claimed by a staff member.
func (t Ticket) Assigned() bool {
	return t.AssignedTo != nil && *t.AssignedTo != ""
}

// Message is a single entry in a ticket's conversation. Messages are
// immutable once created.
type Message struct {
	ID        string    `gorm:"type:uuid;primary_key" json:"id"`
	TicketID  string    `gorm:"type:uuid;not null;index" json:"ticket_id"`
	SenderID  string    `gorm:"type:uuid;not null;index" json:"sender_id"`
	Content   string    `gorm:"not null" json:"content"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Before reports whether m sorts before other in a ticket's conversation.
// Messages order by creation time, with the id as a tiebreaker so that two
// messages created in the same instant still have a total order that every
// client agrees on.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// TicketView is a ticket enriched with resolved profiles and per-ticket
// aggregates. It is derived from stored entities on every change and never
// persisted.
type TicketView struct {
	Ticket
	Creator       *Profile `json:"creator,omitempty"`
	Assignee      *Profile `json:"assignee,omitempty"`
	MessageCount  int      `json:"message_count"`
	LatestMessage *Message `json:"latest_message,omitempty"`
}

// TableName overrides keep the storage schema aligned with the backend's
// table names, which are also the table identifiers on the change feed.
func (Profile) TableName() string { return "profiles" }
func (Ticket) TableName() string  { return "tickets" }
func (Message) TableName() string { return "messages" }

// BeforeCreate generates an id when the caller did not set one.
func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	return nil
}

// BeforeCreate generates an id when the caller did not set one.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return nil
}

// NewID returns a fresh random entity id.
func NewID() string {
	return uuid.Must(uuid.NewV4()).String()
}
