package deskstream

import (
	"github.com/deskstream/deskstream/pkg/models"
)

// Aggregate derives a ticket's view from its stored entities. It is a pure
// function recomputed from scratch on every change, so there is no
// incremental counter that can drift: message count is the length of the
// visible message list and the latest message is its maximum by
// (created_at, id).
//
// messages must already be the ordered sequence Store.MessagesFor returns;
// cost is linear in the ticket's own messages only, never the whole store.
func Aggregate(t models.Ticket, messages []models.Message, creator, assignee *models.Profile) models.TicketView {
	view := models.TicketView{
		Ticket:       t,
		Creator:      creator,
		Assignee:     assignee,
		MessageCount: len(messages),
	}
	if len(messages) > 0 {
		latest := messages[len(messages)-1]
		view.LatestMessage = &latest
	}
	return view
}

// aggregateFromStore assembles the view for one ticket id out of the store,
// resolving the creator and assignee profiles when present.
func aggregateFromStore(s *Store, ticketID string) (models.TicketView, bool) {
	t, ok := s.Ticket(ticketID)
	if !ok {
		return models.TicketView{}, false
	}

	var creator, assignee *models.Profile
	if p, ok := s.Profile(t.CreatedBy); ok {
		creator = &p
	}
	if t.AssignedTo != nil {
		if p, ok := s.Profile(*t.AssignedTo); ok {
			assignee = &p
		}
	}
	return Aggregate(t, s.MessagesFor(ticketID), creator, assignee), true
}
