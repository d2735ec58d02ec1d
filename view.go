package deskstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskstream/deskstream/internal/codec"
	"github.com/deskstream/deskstream/pkg/feed"
	"github.com/deskstream/deskstream/pkg/logger"
	"github.com/deskstream/deskstream/pkg/models"
	"github.com/deskstream/deskstream/pkg/session"
)

// View is one viewer's live window onto the ticket system. For its
// lifetime it owns exactly one set of change-feed subscriptions scoped to
// the viewer's visibility, and one event loop that reconciles each
// incoming change, recomputes the changed ticket's aggregates, and
// evaluates alerts. Each open view runs its own store and loop; there is
// no shared cache across views.
type View struct {
	viewer    *session.Session
	transport feed.Transport
	storage   Storage

	store     *Store
	rec       *Reconciler
	dispatch  *Dispatcher
	lifecycle *Lifecycle
	log       logger.Logger
	wire      codec.Codec

	subs    []*feed.Subscription
	events  chan feed.Event
	resolve chan struct{}

	viewsMu sync.RWMutex
	views   map[string]models.TicketView

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	retryInterval time.Duration
}

// Option customizes a View.
type Option func(*View)

// WithLogger routes the view's logging.
func WithLogger(log logger.Logger) Option {
	return func(v *View) { v.log = log }
}

// WithCodec overrides the wire codec used to decode event rows.
func WithCodec(c codec.Codec) Option {
	return func(v *View) { v.wire = c }
}

// WithRetryInterval sets how often held-back messages retry their sender
// resolution.
func WithRetryInterval(d time.Duration) Option {
	return func(v *View) { v.retryInterval = d }
}

const (
	defaultRetryInterval = 5 * time.Second
	eventQueueSize       = 256
)

// NewView establishes the viewer's subscriptions and starts the event
// loop. On a subscription failure every subscription registered so far is
// released before returning, so a half-built view never receives events.
func NewView(ctx context.Context, viewer *session.Session, transport feed.Transport, storage Storage, opts ...Option) (*View, error) {
	loopCtx, cancel := context.WithCancel(context.Background())
	v := &View{
		viewer:        viewer,
		transport:     transport,
		storage:       storage,
		store:         NewStore(),
		log:           logger.Nop(),
		wire:          codec.NewCBOR(),
		events:        make(chan feed.Event, eventQueueSize),
		resolve:       make(chan struct{}, 1),
		views:         make(map[string]models.TicketView),
		ctx:           loopCtx,
		cancel:        cancel,
		done:          make(chan struct{}),
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.rec = NewReconciler(v.store, storage, v.wire, v.log)
	v.dispatch = NewDispatcher(viewer, v.store, v.log)
	v.lifecycle = NewLifecycle(storage, v.log)

	// The viewer's own profile is always resolvable locally; optimistic
	// applies of their writes must never be held back.
	v.store.UpsertProfile(viewer.Profile())

	for _, filter := range subscriptionFilters(viewer) {
		sub, err := transport.Subscribe(ctx, filter)
		if err != nil {
			v.releaseSubscriptions(ctx)
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", filter.Table, err)
		}
		v.subs = append(v.subs, sub)
	}

	for _, sub := range v.subs {
		v.wg.Add(1)
		go v.forward(sub)
	}
	v.wg.Add(2)
	go v.run()
	go v.resolvePending()

	return v, nil
}

// subscriptionFilters derives the feed scope from the viewer's role.
// Customers watch their own tickets and everyone else's messages: their own
// sent messages need no remote echo because they are applied on write
// confirmation. Staff watch both tables unfiltered.
func subscriptionFilters(viewer *session.Session) []feed.Filter {
	if viewer.IsAdmin {
		return []feed.Filter{
			{Table: feed.TableTickets},
			{Table: feed.TableMessages},
		}
	}
	return []feed.Filter{
		{Table: feed.TableTickets, Eq: map[string]string{"created_by": viewer.UserID}},
		{Table: feed.TableMessages, Neq: map[string]string{"sender_id": viewer.UserID}},
	}
}

func (v *View) forward(sub *feed.Subscription) {
	defer v.wg.Done()
	for {
		select {
		case <-v.done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case v.events <- ev:
			case <-v.done:
				return
			}
		}
	}
}

func (v *View) run() {
	defer v.wg.Done()
	for {
		select {
		case <-v.done:
			return
		case ev := <-v.events:
			v.handle(ev)
		}
	}
}

// resolvePending resolves the senders of held-back messages off the event
// loop. Profile lookups are storage I/O; running them here keeps a slow
// fetch from stalling reconciliation of unrelated events. The loop wakes on
// a nudge whenever an event parks a message, and on a timer for senders
// that stay unresolved.
func (v *View) resolvePending() {
	defer v.wg.Done()

	retry := time.NewTicker(v.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-v.resolve:
		case <-retry.C:
		}

		promoted := v.rec.RetryPending(v.ctx)
		for _, m := range promoted {
			v.recompute(m.TicketID)
		}
		v.dispatch.EvaluatePromoted(promoted)
	}
}

// handle applies one event end to end: reconcile, re-aggregate the changed
// ticket only, evaluate alerts. A failure is isolated to its event; the
// loop keeps processing.
func (v *View) handle(ev feed.Event) {
	change, err := v.rec.Apply(v.ctx, ev)
	if err != nil {
		v.log.Error("event reconciliation failed",
			"event", ev.ID, "table", ev.Table, "error", err)
		return
	}
	if change == nil {
		return
	}
	if change.Stale {
		v.log.Debug("dropped stale ticket update", "event", ev.ID, "ticket", change.TicketID)
		return
	}

	// Recomputation stays scoped to the tickets this event touched so a
	// full rescan can never resurrect stale aggregates for unrelated
	// tickets.
	v.recompute(change.TicketID)
	for _, m := range change.Promoted {
		v.recompute(m.TicketID)
	}

	if change.Held {
		// Nudge the resolver; the non-blocking send collapses bursts into
		// one wake-up.
		select {
		case v.resolve <- struct{}{}:
		default:
		}
	}

	v.dispatch.EvaluatePromoted(change.Promoted)
	v.dispatch.Evaluate(change)
}

func (v *View) recompute(ticketID string) {
	if ticketID == "" {
		return
	}
	view, ok := aggregateFromStore(v.store, ticketID)

	v.viewsMu.Lock()
	defer v.viewsMu.Unlock()
	if ok && v.viewer.CanSee(view.Ticket) {
		v.views[ticketID] = view
	} else {
		delete(v.views, ticketID)
	}
}

// Tickets returns the current ticket views, newest created first.
func (v *View) Tickets() []models.TicketView {
	v.viewsMu.RLock()
	out := make([]models.TicketView, 0, len(v.views))
	for _, tv := range v.views {
		out = append(out, tv)
	}
	v.viewsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Ticket returns the view of one ticket.
func (v *View) Ticket(id string) (models.TicketView, bool) {
	v.viewsMu.RLock()
	defer v.viewsMu.RUnlock()
	tv, ok := v.views[id]
	return tv, ok
}

// Alerts is the channel of user-facing alerts for this viewer.
func (v *View) Alerts() <-chan Alert { return v.dispatch.Alerts() }

// Store exposes the underlying entity store for read access.
func (v *View) Store() *Store { return v.store }

// Viewer returns the session this view is scoped to.
func (v *View) Viewer() *session.Session { return v.viewer }

// Refresh reloads the view's world from storage in one pass. The swap into
// the store happens only after every fetch succeeded; on error the store
// and the aggregates are untouched and the caller may retry.
func (v *View) Refresh(ctx context.Context) error {
	if v.closed.Load() {
		return ErrViewClosed
	}

	filter := TicketFilter{}
	if !v.viewer.IsAdmin {
		id := v.viewer.UserID
		filter.CreatedBy = &id
	}

	tickets, err := v.storage.ListTickets(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	var messages []models.Message
	profileIDs := map[string]struct{}{v.viewer.UserID: {}}
	for _, t := range tickets {
		ms, err := v.storage.ListMessages(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("list messages for %s: %w", t.ID, err)
		}
		messages = append(messages, ms...)

		profileIDs[t.CreatedBy] = struct{}{}
		if t.AssignedTo != nil {
			profileIDs[*t.AssignedTo] = struct{}{}
		}
		for _, m := range ms {
			profileIDs[m.SenderID] = struct{}{}
		}
	}

	profiles := make([]models.Profile, 0, len(profileIDs))
	for id := range profileIDs {
		p, err := v.storage.GetProfile(ctx, id)
		if err != nil || p == nil {
			// Messages from this sender stay held back; the retry loop
			// picks them up.
			v.log.Warn("profile unresolved during refresh", "profile", id, "error", err)
			continue
		}
		profiles = append(profiles, *p)
	}

	v.store.ReplaceAll(tickets, messages, profiles)

	v.viewsMu.Lock()
	v.views = make(map[string]models.TicketView, len(tickets))
	v.viewsMu.Unlock()
	for _, t := range tickets {
		v.recompute(t.ID)
	}
	return nil
}

// Open loads one ticket with its conversation into the view. When a staff
// viewer opens an unassigned ticket it is claimed for them through the same
// conditional claim used by an explicit Claim call; losing that race is not
// an error, the ticket simply shows its actual assignee.
func (v *View) Open(ctx context.Context, ticketID string) (models.TicketView, error) {
	if v.closed.Load() {
		return models.TicketView{}, ErrViewClosed
	}

	ticket, err := v.storage.GetTicket(ctx, ticketID)
	if err != nil {
		return models.TicketView{}, fmt.Errorf("get ticket: %w", err)
	}
	if ticket == nil || !v.viewer.CanSee(*ticket) {
		return models.TicketView{}, ErrTicketNotFound
	}

	if v.viewer.IsAdmin && !ticket.Assigned() {
		claimed, cerr := v.lifecycle.Claim(ctx, ticketID, v.viewer.UserID)
		switch {
		case cerr == nil, errors.Is(cerr, ErrAlreadyAssigned):
			ticket = claimed
		default:
			v.log.Warn("auto-claim failed", "ticket", ticketID, "error", cerr)
		}
	}

	ms, err := v.storage.ListMessages(ctx, ticketID)
	if err != nil {
		return models.TicketView{}, fmt.Errorf("list messages: %w", err)
	}

	v.store.UpsertTicket(*ticket)
	for _, id := range conversationProfileIDs(*ticket, ms) {
		if _, ok := v.store.Profile(id); ok {
			continue
		}
		p, perr := v.storage.GetProfile(ctx, id)
		if perr != nil || p == nil {
			v.log.Warn("profile unresolved during open", "profile", id, "error", perr)
			continue
		}
		v.store.UpsertProfile(*p)
	}
	for _, m := range ms {
		if _, ok := v.store.Profile(m.SenderID); ok {
			v.store.UpsertMessage(m)
		} else {
			v.store.HoldMessage(m)
		}
	}

	v.recompute(ticketID)
	tv, ok := v.Ticket(ticketID)
	if !ok {
		return models.TicketView{}, ErrTicketNotFound
	}
	return tv, nil
}

func conversationProfileIDs(t models.Ticket, ms []models.Message) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(t.CreatedBy)
	if t.AssignedTo != nil {
		add(*t.AssignedTo)
	}
	for _, m := range ms {
		add(m.SenderID)
	}
	return out
}

// SendMessage writes a message and applies it to the local store on write
// confirmation; customers never see a feed echo of their own messages, so
// this is the only way their writes become visible locally.
func (v *View) SendMessage(ctx context.Context, ticketID, content string) (*models.Message, error) {
	if v.closed.Load() {
		return nil, ErrViewClosed
	}

	m, err := v.lifecycle.SendMessage(ctx, v.viewer, ticketID, content)
	if err != nil {
		return nil, err
	}

	// A teardown racing the write wins: the confirmation is dropped, not
	// applied to a store nobody observes anymore.
	if !v.closed.Load() {
		v.store.UpsertMessage(*m)
		v.recompute(ticketID)
	}
	return m, nil
}

// CreateTicket opens a ticket with its seed message and applies both
// locally. A *PartialCreateError still carries the created ticket.
func (v *View) CreateTicket(ctx context.Context, subject, message string) (*models.Ticket, error) {
	if v.closed.Load() {
		return nil, ErrViewClosed
	}

	ticket, err := v.lifecycle.CreateTicket(ctx, v.viewer, subject, message)
	if ticket != nil && !v.closed.Load() {
		v.store.UpsertTicket(*ticket)
		v.recompute(ticket.ID)
	}
	return ticket, err
}

// ChangeStatus transitions a ticket. Requesting the current status is a
// no-op with no write and no alert.
func (v *View) ChangeStatus(ctx context.Context, ticketID string, status models.Status) error {
	if v.closed.Load() {
		return ErrViewClosed
	}

	current, ok := v.store.Ticket(ticketID)
	if !ok {
		t, err := v.storage.GetTicket(ctx, ticketID)
		if err != nil {
			return fmt.Errorf("get ticket: %w", err)
		}
		if t == nil {
			return ErrTicketNotFound
		}
		current = *t
	}
	if current.Status == status {
		return nil
	}

	v.dispatch.NoteOwnStatusWrite(ticketID, status)
	if err := v.lifecycle.ChangeStatus(ctx, current, status); err != nil {
		v.dispatch.consumeOwnStatusWrite(ticketID, status)
		return err
	}
	return nil
}

// Claim assigns the ticket to the viewer through the conditional write.
func (v *View) Claim(ctx context.Context, ticketID string) (*models.Ticket, error) {
	if v.closed.Load() {
		return nil, ErrViewClosed
	}
	return v.lifecycle.Claim(ctx, ticketID, v.viewer.UserID)
}

// MarkRead marks the conversation as read for the viewer.
func (v *View) MarkRead(ctx context.Context, ticketID string) error {
	if v.closed.Load() {
		return ErrViewClosed
	}
	return v.lifecycle.MarkRead(ctx, v.viewer, ticketID)
}

// SwitchViewer tears this view down and builds a fresh one for another
// session on the same transport and storage. The old subscriptions are
// released before the new ones are established, so there is no window
// where both identities receive events.
func (v *View) SwitchViewer(ctx context.Context, viewer *session.Session, opts ...Option) (*View, error) {
	if err := v.Close(ctx); err != nil {
		v.log.Warn("teardown during viewer switch reported an error", "error", err)
	}
	return NewView(ctx, viewer, v.transport, v.storage, opts...)
}

// Close releases the view's subscriptions and stops the event loop. Feed
// confirmations of writes still in flight are dropped silently. Close is
// idempotent.
func (v *View) Close(ctx context.Context) error {
	var err error
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.cancel()
		err = v.releaseSubscriptions(ctx)
		close(v.done)
		v.wg.Wait()
	})
	return err
}

func (v *View) releaseSubscriptions(ctx context.Context) error {
	var err error
	for _, sub := range v.subs {
		if uerr := v.transport.Unsubscribe(ctx, sub); uerr != nil {
			v.log.Warn("unsubscribe failed", "subscription", sub.ID(), "error", uerr)
			err = uerr
		}
	}
	v.subs = nil
	return err
}
