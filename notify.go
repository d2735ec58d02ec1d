package deskstream

import (
	"sync"

	"github.com/deskstream/deskstream/pkg/feed"
	"github.com/deskstream/deskstream/pkg/logger"
	"github.com/deskstream/deskstream/pkg/models"
	"github.com/deskstream/deskstream/pkg/session"
)

// AlertKind classifies a user-facing alert.
type AlertKind string

const (
	AlertNewMessage    AlertKind = "new_message"
	AlertStatusChanged AlertKind = "status_changed"
)

// Alert is a one-shot user-facing notification derived from a reconciled
// change.
type Alert struct {
	Kind     AlertKind
	TicketID string

	// Message is set for new-message alerts.
	Message *models.Message

	// OldStatus and NewStatus are set for status-change alerts.
	OldStatus models.Status
	NewStatus models.Status
}

// Dispatcher turns reconciled changes into alerts for one viewer. An alert
// fires at most once per distinct event id (message id for promoted
// held-back messages) no matter how often the feed redelivers it, never for
// the viewer's own writes, and never for tickets the viewer cannot see.
type Dispatcher struct {
	viewer *session.Session
	store  *Store
	log    logger.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	seenPrev  map[string]struct{}
	ownStatus map[string]models.Status
	alerts    chan Alert
}

const (
	// alertBuffer bounds undelivered alerts. When the embedder stops
	// draining, new alerts are dropped with a warning rather than blocking
	// the event loop.
	alertBuffer = 64

	// seenLimit bounds the dedup window. Two generations are kept, so an
	// id is remembered across at least seenLimit further distinct ids,
	// which covers the feed's redelivery horizon without growing for the
	// life of the view.
	seenLimit = 1024
)

// NewDispatcher builds a dispatcher for the viewer reading visibility from
// the store.
func NewDispatcher(viewer *session.Session, store *Store, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		viewer:    viewer,
		store:     store,
		log:       log,
		seen:      make(map[string]struct{}),
		ownStatus: make(map[string]models.Status),
		alerts:    make(chan Alert, alertBuffer),
	}
}

// NoteOwnStatusWrite records a status change the viewer just issued, so the
// feed echo of that write does not alert the viewer about their own action.
// Ticket rows carry no author column; this is the only way to tell an echo
// of our write from someone else's change.
func (d *Dispatcher) NoteOwnStatusWrite(ticketID string, status models.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ownStatus[ticketID] = status
}

// Alerts is the delivery channel the embedding application drains.
func (d *Dispatcher) Alerts() <-chan Alert { return d.alerts }

// Evaluate inspects one reconciled change and emits an alert when due.
func (d *Dispatcher) Evaluate(change *Change) {
	if change == nil || change.Stale || change.Held {
		return
	}

	alert, due := d.alertFor(change)
	if !due {
		return
	}
	if !d.markSeen(change.Event.ID) {
		return
	}
	d.send(alert)
}

// EvaluatePromoted emits new-message alerts for messages promoted out of
// the held-back set. Promotion happens outside event delivery, so the
// message id stands in for the event id when deduplicating.
func (d *Dispatcher) EvaluatePromoted(messages []models.Message) {
	for _, m := range messages {
		if m.SenderID == d.viewer.UserID || !d.visible(m.TicketID) {
			continue
		}
		if !d.markSeen(m.ID) {
			continue
		}
		msg := m
		d.send(Alert{Kind: AlertNewMessage, TicketID: m.TicketID, Message: &msg})
	}
}

// markSeen records the id and reports whether it was new. Ids older than
// two generations are forgotten.
func (d *Dispatcher) markSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[id]; dup {
		return false
	}
	if _, dup := d.seenPrev[id]; dup {
		return false
	}
	if len(d.seen) >= seenLimit {
		d.seenPrev = d.seen
		d.seen = make(map[string]struct{}, seenLimit)
	}
	d.seen[id] = struct{}{}
	return true
}

func (d *Dispatcher) send(alert Alert) {
	select {
	case d.alerts <- alert:
	default:
		d.log.Warn("alert buffer full, dropping alert",
			"kind", alert.Kind, "ticket", alert.TicketID)
	}
}

func (d *Dispatcher) alertFor(change *Change) (Alert, bool) {
	switch change.Event.Table {
	case feed.TableMessages:
		if change.Event.Kind != feed.KindInsert || change.Message == nil {
			return Alert{}, false
		}
		// Self-authored messages are suppressed even when the feed echoes
		// them back.
		if change.Message.SenderID == d.viewer.UserID {
			return Alert{}, false
		}
		if !d.visible(change.TicketID) {
			return Alert{}, false
		}
		return Alert{
			Kind:     AlertNewMessage,
			TicketID: change.TicketID,
			Message:  change.Message,
		}, true

	case feed.TableTickets:
		if change.Event.Kind != feed.KindUpdate || change.Ticket == nil {
			return Alert{}, false
		}
		if change.OldStatus == "" || change.OldStatus == change.Ticket.Status {
			return Alert{}, false
		}
		if d.consumeOwnStatusWrite(change.TicketID, change.Ticket.Status) {
			return Alert{}, false
		}
		if !d.visible(change.TicketID) {
			return Alert{}, false
		}
		return Alert{
			Kind:      AlertStatusChanged,
			TicketID:  change.TicketID,
			OldStatus: change.OldStatus,
			NewStatus: change.Ticket.Status,
		}, true
	}
	return Alert{}, false
}

func (d *Dispatcher) consumeOwnStatusWrite(ticketID string, status models.Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ownStatus[ticketID] == status {
		delete(d.ownStatus, ticketID)
		return true
	}
	return false
}

func (d *Dispatcher) visible(ticketID string) bool {
	t, ok := d.store.Ticket(ticketID)
	return ok && d.viewer.CanSee(t)
}
