package deskstream

import (
	"context"
	"fmt"

	"github.com/deskstream/deskstream/internal/codec"
	"github.com/deskstream/deskstream/pkg/feed"
	"github.com/deskstream/deskstream/pkg/logger"
	"github.com/deskstream/deskstream/pkg/models"
)

// Change describes what one reconciled event did to the store. The view
// uses TicketID (and Promoted) to recompute aggregates for exactly the
// affected tickets, and the notification dispatcher uses the rest to decide
// whether an alert is due.
type Change struct {
	Event    feed.Event
	TicketID string

	// Ticket is the merged row for ticket changes.
	Ticket *models.Ticket
	// OldStatus is the status before a ticket update, empty when the
	// ticket was previously unknown.
	OldStatus models.Status

	// Message is the message made visible by a message change.
	Message *models.Message
	// Held reports that the message was parked because its sender profile
	// could not be resolved.
	Held bool

	// Stale reports that a ticket update was dropped as older than the
	// stored row.
	Stale bool

	// Promoted lists messages made visible by a profile upsert.
	Promoted []models.Message
}

// Reconciler merges change-feed events into the store. Applying the same
// event twice leaves the store as if it was applied once, and events for
// the same entity applied out of order converge to the state implied by the
// newest row: updates win by updated_at, inserts are unconditional upserts
// by id.
type Reconciler struct {
	store   *Store
	storage Storage
	dec     codec.Unmarshaler
	log     logger.Logger
}

// NewReconciler wires a reconciler to its store and the storage collaborator
// used for sender resolution.
func NewReconciler(store *Store, storage Storage, dec codec.Unmarshaler, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{store: store, storage: storage, dec: dec, log: log}
}

// Apply merges one event. A nil Change with a nil error means the event was
// deliberately ignored (unknown table or kind). Errors are per-event and
// must not stop the caller from processing subsequent events.
func (r *Reconciler) Apply(ctx context.Context, ev feed.Event) (*Change, error) {
	switch ev.Table {
	case feed.TableTickets:
		return r.applyTicket(ev)
	case feed.TableMessages:
		return r.applyMessage(ev)
	case feed.TableProfiles:
		return r.applyProfile(ev)
	default:
		r.log.Debug("ignoring event for unknown table", "table", ev.Table, "event", ev.ID)
		return nil, nil
	}
}

func (r *Reconciler) applyTicket(ev feed.Event) (*Change, error) {
	switch ev.Kind {
	case feed.KindInsert, feed.KindUpdate:
	case feed.KindDelete:
		// The backend deletes ticket rows only on access revocation; drop
		// our copy so the row disappears on the next read.
		var t models.Ticket
		if err := r.dec.Unmarshal(ev.OldRow, &t); err != nil {
			return nil, fmt.Errorf("decode deleted ticket row: %w", err)
		}
		r.store.RemoveTicket(t.ID)
		return &Change{Event: ev, TicketID: t.ID}, nil
	default:
		r.log.Debug("ignoring ticket event of unknown kind", "kind", ev.Kind, "event", ev.ID)
		return nil, nil
	}

	var t models.Ticket
	if err := r.dec.Unmarshal(ev.NewRow, &t); err != nil {
		return nil, fmt.Errorf("decode ticket row: %w", err)
	}

	change := &Change{Event: ev, TicketID: t.ID, Ticket: &t}

	stored, known := r.store.Ticket(t.ID)
	if known {
		change.OldStatus = stored.Status
		// Last writer by timestamp wins. An update older than the stored
		// row is a stale redelivery and must be dropped even when both
		// arrive in the same processing turn.
		if ev.Kind == feed.KindUpdate && t.UpdatedAt.Before(stored.UpdatedAt) {
			change.Stale = true
			return change, nil
		}
	}
	// An update observed before its insert is upserted like an insert: the
	// later insert delivery is then a harmless overwrite or a stale drop.

	r.store.UpsertTicket(t)
	return change, nil
}

func (r *Reconciler) applyMessage(ev feed.Event) (*Change, error) {
	switch ev.Kind {
	case feed.KindInsert, feed.KindUpdate:
	default:
		r.log.Debug("ignoring message event of unknown kind", "kind", ev.Kind, "event", ev.ID)
		return nil, nil
	}

	var m models.Message
	if err := r.dec.Unmarshal(ev.NewRow, &m); err != nil {
		return nil, fmt.Errorf("decode message row: %w", err)
	}

	change := &Change{Event: ev, TicketID: m.TicketID, Message: &m}

	// A message only becomes visible with a locally known sender. An
	// unknown sender parks the message; resolution does storage I/O and
	// runs off the event path, so one slow lookup never delays unrelated
	// events queued behind this one.
	if _, ok := r.store.Profile(m.SenderID); !ok {
		r.store.HoldMessage(m)
		change.Message = nil
		change.Held = true
		r.log.Debug("holding message, sender unknown",
			"message", m.ID, "sender", m.SenderID)
		return change, nil
	}

	r.store.UpsertMessage(m)
	return change, nil
}

func (r *Reconciler) applyProfile(ev feed.Event) (*Change, error) {
	switch ev.Kind {
	case feed.KindInsert, feed.KindUpdate:
	default:
		r.log.Debug("ignoring profile event of unknown kind", "kind", ev.Kind, "event", ev.ID)
		return nil, nil
	}

	var p models.Profile
	if err := r.dec.Unmarshal(ev.NewRow, &p); err != nil {
		return nil, fmt.Errorf("decode profile row: %w", err)
	}

	promoted := r.store.UpsertProfile(p)
	return &Change{Event: ev, Promoted: promoted}, nil
}

// RetryPending attempts to resolve the senders of held-back messages
// through the storage collaborator. The view runs it on its resolver
// goroutine, nudged on every hold and on a timer; each resolved profile
// promotes its messages and the returned list carries them for
// re-aggregation and alerting.
func (r *Reconciler) RetryPending(ctx context.Context) []models.Message {
	var promoted []models.Message
	for _, senderID := range r.store.PendingSenders() {
		profile, err := r.storage.GetProfile(ctx, senderID)
		if err != nil || profile == nil {
			r.log.Debug("pending sender still unresolved", "sender", senderID, "error", err)
			continue
		}
		promoted = append(promoted, r.store.UpsertProfile(*profile)...)
	}
	return promoted
}
