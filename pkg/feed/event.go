// Package feed provides the change-feed transport: subscriptions against
// the deskstream backend's row-change stream, delivered over a WebSocket
// RPC connection with CBOR frames.
//
// The transport promises at-least-once delivery per active subscription and
// nothing about ordering across rows. Convergence under duplication and
// reordering is the sync core's job, not the transport's.
package feed

import (
	"github.com/fxamacker/cbor/v2"
)

// Kind classifies a row change.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Table identifies the changed table. The values match the backend's table
// names and the storage layer's TableName overrides.
type Table string

const (
	TableTickets  Table = "tickets"
	TableMessages Table = "messages"
	TableProfiles Table = "profiles"
)

// Event is one server-pushed row change. ID is assigned by the server per
// delivery attempt group, stable across redeliveries of the same change, so
// consumers can deduplicate. OldRow is only present for updates.
type Event struct {
	ID           string          `json:"id"`
	Subscription string          `json:"subscription"`
	Kind         Kind            `json:"kind"`
	Table        Table           `json:"table"`
	NewRow       cbor.RawMessage `json:"new_row,omitempty"`
	OldRow       cbor.RawMessage `json:"old_row,omitempty"`
}

// Filter scopes a subscription to a table, a set of change kinds, and
// simple column predicates. Eq constrains a column to a value, Neq excludes
// one; both maps may be nil. An empty Kinds slice means all kinds.
type Filter struct {
	Table Table             `json:"table"`
	Kinds []Kind            `json:"kinds,omitempty"`
	Eq    map[string]string `json:"eq,omitempty"`
	Neq   map[string]string `json:"neq,omitempty"`
}
