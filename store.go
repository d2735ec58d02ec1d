package deskstream

import (
	"sort"
	"sync"

	"github.com/deskstream/deskstream/pkg/models"
	"github.com/deskstream/deskstream/pkg/session"
)

// Store is the authoritative client-side copy of the entities a view has
// observed: tickets, messages, and profile lookups, each keyed by id with
// last-write-wins on identical ids. It is pure data; all I/O and all
// merge policy live in the Reconciler.
//
// The store is mutated only by the Reconciler (and Refresh) and read by the
// aggregation and notification paths plus the embedding application, which
// may be on another goroutine, hence the lock.
type Store struct {
	mu       sync.RWMutex
	tickets  map[string]models.Ticket
	messages map[string]models.Message
	profiles map[string]models.Profile

	// pending holds messages whose sender profile has not resolved yet.
	// They are invisible to MessagesFor until the profile arrives, so no
	// visible message ever has a dangling sender reference.
	pending map[string]models.Message
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets:  make(map[string]models.Ticket),
		messages: make(map[string]models.Message),
		profiles: make(map[string]models.Profile),
		pending:  make(map[string]models.Message),
	}
}

// UpsertTicket stores the ticket, replacing any previous row with that id.
func (s *Store) UpsertTicket(t models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
}

// UpsertMessage stores a message whose sender is resolvable. Storing the
// same message twice is a no-op beyond the overwrite, which keeps duplicate
// feed deliveries harmless.
func (s *Store) UpsertMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, m.ID)
	s.messages[m.ID] = m
}

// HoldMessage parks a message until its sender profile resolves.
func (s *Store) HoldMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, visible := s.messages[m.ID]; visible {
		// Already promoted by an earlier delivery; nothing to hold.
		return
	}
	s.pending[m.ID] = m
}

// UpsertProfile stores the profile and promotes any held-back messages that
// were waiting for it. The promoted messages are returned so the caller can
// recompute the aggregates of exactly the tickets they belong to.
func (s *Store) UpsertProfile(p models.Profile) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p

	var promoted []models.Message
	for id, m := range s.pending {
		if m.SenderID != p.ID {
			continue
		}
		delete(s.pending, id)
		s.messages[id] = m
		promoted = append(promoted, m)
	}
	return promoted
}

// RemoveTicket drops a ticket and its messages. It exists for access
// revocation and conflict cleanup; ordinary deletion is out of the sync
// core's scope.
func (s *Store) RemoveTicket(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
	for mid, m := range s.messages {
		if m.TicketID == id {
			delete(s.messages, mid)
		}
	}
	for mid, m := range s.pending {
		if m.TicketID == id {
			delete(s.pending, mid)
		}
	}
}

// Ticket returns the stored ticket with the given id.
func (s *Store) Ticket(id string) (models.Ticket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	return t, ok
}

// Profile returns the stored profile with the given id.
func (s *Store) Profile(id string) (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// TicketsVisibleTo returns the tickets the viewer may observe, enforcing
// customer scoping at read time even if a wider row was somehow stored.
func (s *Store) TicketsVisibleTo(viewer *session.Session) []models.Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		if viewer.CanSee(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MessagesFor returns the ticket's visible messages ordered by creation
// time with the id as a tiebreaker, regardless of the order the feed
// delivered them in.
func (s *Store) MessagesFor(ticketID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// UnreadCount returns how many visible messages on the ticket were sent by
// someone else and not yet read.
func (s *Store) UnreadCount(ticketID, readerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, m := range s.messages {
		if m.TicketID == ticketID && m.SenderID != readerID && !m.IsRead {
			n++
		}
	}
	return n
}

// PendingSenders returns the distinct sender ids of held-back messages.
func (s *Store) PendingSenders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, m := range s.pending {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		out = append(out, m.SenderID)
	}
	return out
}

// ReplaceAll swaps the entire store contents in one step. Refresh uses it
// so a full reload is all-or-nothing: a failed fetch never leaves the store
// partially mutated.
func (s *Store) ReplaceAll(tickets []models.Ticket, messages []models.Message, profiles []models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets = make(map[string]models.Ticket, len(tickets))
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	s.profiles = make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	s.messages = make(map[string]models.Message, len(messages))
	s.pending = make(map[string]models.Message)
	for _, m := range messages {
		if _, ok := s.profiles[m.SenderID]; ok {
			s.messages[m.ID] = m
		} else {
			s.pending[m.ID] = m
		}
	}
}
