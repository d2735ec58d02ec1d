// Package postgres implements the deskstream Storage interface directly
// against PostgreSQL using GORM. It exists for server-side embedding and
// tooling that sit next to the database; browser-distance clients talk to
// the backend's RPC surface instead.
//
// The two conditional updates (claim and reassign) are single UPDATE
// statements whose WHERE clause carries the precondition, and the
// affected-row count is the race outcome. Nothing here reads before
// writing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/deskstream/deskstream"
	"github.com/deskstream/deskstream/pkg/models"
)

// Store is a gorm-backed deskstream.Storage.
type Store struct {
	db *gorm.DB
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database with query logging silenced; the SDK's own
// logging is the observable surface.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate creates or extends the schema from the model definitions. It only
// ever adds schema elements.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.Profile{},
		&models.Ticket{},
		&models.Message{},
	)
}

func (s *Store) ListTickets(ctx context.Context, filter deskstream.TicketFilter) ([]models.Ticket, error) {
	q := s.db.WithContext(ctx).Model(&models.Ticket{})
	if filter.CreatedBy != nil {
		q = q.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}

	var tickets []models.Ticket
	err := q.Order("created_at DESC").Find(&tickets).Error
	return tickets, err
}

func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListMessages(ctx context.Context, ticketID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) InsertTicket(ctx context.Context, t *models.Ticket) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status models.Status) error {
	res := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return deskstream.ErrTicketNotFound
	}
	return nil
}

// ClaimTicket is the claim-once conditional write: it succeeds for exactly
// one caller per unassigned ticket.
func (s *Store) ClaimTicket(ctx context.Context, id, staffID string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND assigned_to IS NULL", id).
		Updates(map[string]any{
			"assigned_to": staffID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReassignTicket(ctx context.Context, id, from, to string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND assigned_to = ?", id, from).
		Updates(map[string]any{
			"assigned_to": to,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, ticketID, readerID string) error {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("ticket_id = ? AND sender_id <> ? AND is_read = false", ticketID, readerID).
		Update("is_read", true).Error
}

var _ deskstream.Storage = (*Store)(nil)
