package deskstream

import (
	"context"
	"errors"
	"sync"

	"github.com/deskstream/deskstream/pkg/models"
)

// fakeStorage is an in-memory Storage with the same conditional-write
// semantics as the real backend: claim and reassign are atomic
// compare-and-set operations under one lock, so two concurrent claimers
// observe exactly one success.
type fakeStorage struct {
	mu       sync.Mutex
	tickets  map[string]models.Ticket
	messages map[string]models.Message
	profiles map[string]models.Profile

	failListTickets   error
	failListMessages  error
	failInsertTicket  error
	failInsertMessage error
	failGetProfile    error

	// blockGetProfile, when set, makes GetProfile wait for the channel to
	// close before answering, simulating a slow backend.
	blockGetProfile chan struct{}

	insertedMessages int
	statusWrites     int
	getProfileCalls  int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		tickets:  make(map[string]models.Ticket),
		messages: make(map[string]models.Message),
		profiles: make(map[string]models.Profile),
	}
}

func (f *fakeStorage) putTicket(t models.Ticket)   { f.mu.Lock(); f.tickets[t.ID] = t; f.mu.Unlock() }
func (f *fakeStorage) putMessage(m models.Message) { f.mu.Lock(); f.messages[m.ID] = m; f.mu.Unlock() }
func (f *fakeStorage) putProfile(p models.Profile) { f.mu.Lock(); f.profiles[p.ID] = p; f.mu.Unlock() }

func (f *fakeStorage) ListTickets(_ context.Context, filter TicketFilter) ([]models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListTickets != nil {
		return nil, f.failListTickets
	}
	var out []models.Ticket
	for _, t := range f.tickets {
		if filter.CreatedBy != nil && t.CreatedBy != *filter.CreatedBy {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStorage) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStorage) ListMessages(_ context.Context, ticketID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListMessages != nil {
		return nil, f.failListMessages
	}
	var out []models.Message
	for _, m := range f.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStorage) GetProfile(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	f.getProfileCalls++
	block := f.blockGetProfile
	fail := f.failGetProfile
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail != nil {
		return nil, fail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStorage) InsertTicket(_ context.Context, t *models.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertTicket != nil {
		return f.failInsertTicket
	}
	if _, dup := f.tickets[t.ID]; dup {
		return errors.New("duplicate ticket id")
	}
	f.tickets[t.ID] = *t
	return nil
}

func (f *fakeStorage) InsertMessage(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsertMessage != nil {
		return f.failInsertMessage
	}
	if _, dup := f.messages[m.ID]; dup {
		return errors.New("duplicate message id")
	}
	f.messages[m.ID] = *m
	f.insertedMessages++
	return nil
}

func (f *fakeStorage) UpdateTicketStatus(_ context.Context, id string, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok {
		return ErrTicketNotFound
	}
	t.Status = status
	f.tickets[id] = t
	f.statusWrites++
	return nil
}

func (f *fakeStorage) ClaimTicket(_ context.Context, id, staffID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok || t.AssignedTo != nil {
		return false, nil
	}
	t.AssignedTo = &staffID
	f.tickets[id] = t
	return true, nil
}

func (f *fakeStorage) ReassignTicket(_ context.Context, id, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickets[id]
	if !ok || t.AssignedTo == nil || *t.AssignedTo != from {
		return false, nil
	}
	t.AssignedTo = &to
	f.tickets[id] = t
	return true, nil
}

func (f *fakeStorage) MarkMessagesRead(_ context.Context, ticketID, readerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, m := range f.messages {
		if m.TicketID == ticketID && m.SenderID != readerID {
			m.IsRead = true
			f.messages[id] = m
		}
	}
	return nil
}

var _ Storage = (*fakeStorage)(nil)
