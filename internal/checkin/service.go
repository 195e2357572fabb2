package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

// DBLayer is the redemption ledger store. The three mutating operations own
// their transactions and locks; everything else is lock-free reads.
type DBLayer interface {
	CheckinTicket(ctx context.Context, code, staffID, notes string) (*models.CheckinResult, error)
	CollectSwag(ctx context.Context, checkinID, itemID string) (*models.SwagCollection, error)
	UndoCheckin(ctx context.Context, checkinID string) (*models.Ticket, error)

	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	GetCheckin(ctx context.Context, checkinID string) (*models.CheckIn, error)
	GetCheckinByTicketCode(ctx context.Context, code string) (*models.CheckIn, error)
	SearchTickets(ctx context.Context, eventID, query string, limit int) ([]models.Ticket, error)
	EventCheckinStats(ctx context.Context, eventID string) (*models.CheckinStats, error)
	EventSwagItems(ctx context.Context, eventID string) ([]models.SwagItemWithCount, error)
	UncollectedSwag(ctx context.Context, checkinID string) ([]models.SwagItem, error)
	RecentCheckins(ctx context.Context, eventID string, limit int) ([]models.CheckIn, error)
	OfflineTickets(ctx context.Context, eventID string) ([]models.Ticket, error)
	CreateSwagItem(ctx context.Context, item *models.SwagItem) error
}

type KafkaPublisher interface {
	PublishCheckinCreated(event models.CheckinEvent) error
	PublishCheckinUndone(event models.CheckinEvent) error
	PublishSwagCollected(event models.SwagCollectedEvent) error
}

// FeedEmitter pushes live check-ins to dashboard SSE subscribers.
type FeedEmitter interface {
	EmitCheckin(event models.CheckinEvent)
}

// StatsCache is an optional read-through cache for dashboard stats. A nil
// result with nil error means miss.
type StatsCache interface {
	GetStats(ctx context.Context, eventID string) (*models.CheckinStats, error)
	SetStats(ctx context.Context, eventID string, stats *models.CheckinStats) error
	Invalidate(ctx context.Context, eventID string) error
}

type CheckinService struct {
	DB          DBLayer
	Kafka       KafkaPublisher
	Feed        FeedEmitter
	Cache       StatsCache
	Logger      *logger.Logger
	SearchLimit int
	RecentLimit int
}

func NewCheckinService(db DBLayer, kafka KafkaPublisher, feed FeedEmitter, cache StatsCache, log *logger.Logger) *CheckinService {
	return &CheckinService{
		DB:          db,
		Kafka:       kafka,
		Feed:        feed,
		Cache:       cache,
		Logger:      log,
		SearchLimit: 20,
		RecentLimit: 10,
	}
}

// NormalizeCode strips whitespace and lowercases a hand-typed or scanned
// ticket code. Codes are stored lowercase.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// VerifyAndCheckin redeems a ticket code. Exactly one call per code can ever
// succeed; concurrent scans serialize on the ticket row lock and the losers
// get AlreadyCheckedInError with the prior record attached. Notes, when
// supplied, are recorded on the check-in.
func (s *CheckinService) VerifyAndCheckin(ctx context.Context, code, staffID, notes string) (*models.CheckinResult, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, ErrTicketNotFound
	}

	result, err := s.DB.CheckinTicket(ctx, normalized, staffID, notes)
	if err != nil {
		var already *AlreadyCheckedInError
		if errors.As(err, &already) {
			s.Logger.LogCheckin("DUPLICATE", already.Reference, fmt.Sprintf("code %s scanned again", normalized))
		}
		return nil, err
	}

	s.Logger.LogCheckin("CREATED", result.CheckIn.Reference, fmt.Sprintf("code %s admitted by %s", normalized, staffID))

	feedEvent := models.CheckinEvent{
		Reference:    result.CheckIn.Reference,
		TicketCode:   result.Ticket.Code,
		EventID:      result.Event.ID,
		AttendeeName: result.Ticket.AttendeeName,
		CheckedInBy:  staffID,
		CheckedInAt:  result.CheckIn.CheckedInAt,
	}
	if s.Feed != nil {
		s.Feed.EmitCheckin(feedEvent)
	}
	if s.Kafka != nil {
		if err := s.Kafka.PublishCheckinCreated(feedEvent); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("checkin created publish failed: %v", err))
		}
	}
	s.invalidateStats(ctx, result.Event.ID)

	return result, nil
}

// CollectSwag hands out one swag item for a check-in, at most once per pair
// and never beyond the item's quantity.
func (s *CheckinService) CollectSwag(ctx context.Context, checkinID, itemID, staffID string) (*models.SwagCollection, error) {
	collection, err := s.DB.CollectSwag(ctx, checkinID, itemID)
	if err != nil {
		return nil, err
	}

	s.Logger.LogCheckin("SWAG", checkinID, fmt.Sprintf("item %s collected (staff %s)", itemID, staffID))

	if s.Kafka != nil && collection.Item != nil {
		event := models.SwagCollectedEvent{
			CollectionID: collection.ID,
			CheckinID:    collection.CheckinID,
			ItemID:       collection.ItemID,
			ItemName:     collection.Item.Name,
			EventID:      collection.Item.EventID,
			CollectedAt:  collection.CollectedAt,
		}
		if err := s.Kafka.PublishSwagCollected(event); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("swag collected publish failed: %v", err))
		}
	}
	return collection, nil
}

// UndoCheckin reverts a check-in for staff error correction. The ticket
// becomes redeemable again and any swag collected under the check-in is
// forfeited (stock restored).
func (s *CheckinService) UndoCheckin(ctx context.Context, checkinID, staffID string) (*models.Ticket, error) {
	record, err := s.DB.GetCheckin(ctx, checkinID)
	if err != nil {
		return nil, err
	}

	ticket, err := s.DB.UndoCheckin(ctx, checkinID)
	if err != nil {
		return nil, err
	}

	s.Logger.LogCheckin("UNDONE", record.Reference, fmt.Sprintf("code %s reverted by %s", ticket.Code, staffID))

	eventID := ""
	if record.Ticket != nil && record.Ticket.TicketType != nil {
		eventID = record.Ticket.TicketType.EventID
	}
	if s.Kafka != nil {
		event := models.CheckinEvent{
			Reference:   record.Reference,
			TicketCode:  ticket.Code,
			EventID:     eventID,
			CheckedInBy: staffID,
			CheckedInAt: record.CheckedInAt,
		}
		if err := s.Kafka.PublishCheckinUndone(event); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("checkin undone publish failed: %v", err))
		}
	}
	s.invalidateStats(ctx, eventID)

	return ticket, nil
}

func (s *CheckinService) GetCheckin(ctx context.Context, checkinID string) (*models.CheckIn, error) {
	return s.DB.GetCheckin(ctx, checkinID)
}

// SearchTickets finds tickets by partial code or attendee name/email.
func (s *CheckinService) SearchTickets(ctx context.Context, eventID, query string) ([]models.Ticket, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []models.Ticket{}, nil
	}
	return s.DB.SearchTickets(ctx, eventID, query, s.SearchLimit)
}

// Stats returns live check-in counts for an event, read through the cache
// when one is wired.
func (s *CheckinService) Stats(ctx context.Context, eventID string) (*models.CheckinStats, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetStats(ctx, eventID)
		if err != nil {
			s.Logger.Warn("CACHE", fmt.Sprintf("stats cache read failed: %v", err))
		} else if cached != nil {
			return cached, nil
		}
	}

	stats, err := s.DB.EventCheckinStats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.SetStats(ctx, eventID, stats); err != nil {
			s.Logger.Warn("CACHE", fmt.Sprintf("stats cache write failed: %v", err))
		}
	}
	return stats, nil
}

func (s *CheckinService) SwagItems(ctx context.Context, eventID string) ([]models.SwagItemWithCount, error) {
	return s.DB.EventSwagItems(ctx, eventID)
}

func (s *CheckinService) UncollectedSwag(ctx context.Context, checkinID string) ([]models.SwagItem, error) {
	return s.DB.UncollectedSwag(ctx, checkinID)
}

func (s *CheckinService) RecentCheckins(ctx context.Context, eventID string) ([]models.CheckIn, error) {
	return s.DB.RecentCheckins(ctx, eventID, s.RecentLimit)
}

// CreateSwagItem adds an inventory item for an event.
func (s *CheckinService) CreateSwagItem(ctx context.Context, eventID, name string, quantity int, description string) (*models.SwagItem, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("swag item name is required")
	}
	if quantity <= 0 {
		return nil, errors.New("swag item quantity must be positive")
	}
	if _, err := s.DB.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	item := &models.SwagItem{
		ID:          utils.GenerateID(),
		EventID:     eventID,
		Name:        strings.TrimSpace(name),
		Quantity:    quantity,
		Description: description,
	}
	if err := s.DB.CreateSwagItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create swag item: %w", err)
	}
	return item, nil
}

// OfflinePack snapshots an event's tickets and swag so gate terminals can
// keep scanning through network drops.
func (s *CheckinService) OfflinePack(ctx context.Context, eventID string) (*models.OfflinePack, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.DB.OfflineTickets(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load offline tickets: %w", err)
	}
	items, err := s.DB.EventSwagItems(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load swag items: %w", err)
	}
	return &models.OfflinePack{
		Event:       event,
		Tickets:     tickets,
		SwagItems:   items,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// SyncOffline replays check-ins recorded while a terminal was offline. Each
// entry goes through the normal verify path, so replays of already-admitted
// tickets report the existing record instead of duplicating it.
func (s *CheckinService) SyncOffline(ctx context.Context, entries []models.SyncEntry, staffID string) []models.SyncResult {
	results := make([]models.SyncResult, 0, len(entries))
	for _, entry := range entries {
		result := models.SyncResult{TicketCode: NormalizeCode(entry.TicketCode)}
		_, err := s.VerifyAndCheckin(ctx, entry.TicketCode, staffID, entry.Notes)
		switch {
		case err == nil:
			result.Status = "checked_in"
		case isAlreadyCheckedIn(err):
			result.Status = "already_checked_in"
		case errors.Is(err, ErrTicketNotFound):
			result.Status = "not_found"
		default:
			result.Status = "error"
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

// SyncSwagCollections replays swag hand-outs recorded while a terminal was
// offline. Entries are keyed by ticket code; the check-in is resolved here
// and each entry goes through the normal collect path, so replays of swag
// already handed out report the existing state instead of duplicating it.
func (s *CheckinService) SyncSwagCollections(ctx context.Context, entries []models.SyncSwagEntry, staffID string) []models.SyncSwagResult {
	results := make([]models.SyncSwagResult, 0, len(entries))
	for _, entry := range entries {
		result := models.SyncSwagResult{
			TicketCode: NormalizeCode(entry.TicketCode),
			ItemID:     entry.ItemID,
		}

		record, err := s.DB.GetCheckinByTicketCode(ctx, result.TicketCode)
		switch {
		case errors.Is(err, ErrTicketNotFound):
			result.Status = "not_found"
			results = append(results, result)
			continue
		case errors.Is(err, ErrCheckinNotFound):
			result.Status = "not_checked_in"
			results = append(results, result)
			continue
		case err != nil:
			result.Status = "error"
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		_, err = s.CollectSwag(ctx, record.ID, entry.ItemID, staffID)
		switch {
		case err == nil:
			result.Status = "collected"
		case errors.Is(err, ErrAlreadyCollected):
			result.Status = "already_collected"
		case errors.Is(err, ErrOutOfStock):
			result.Status = "out_of_stock"
		case errors.Is(err, ErrSwagItemNotFound):
			result.Status = "not_found"
		default:
			result.Status = "error"
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (s *CheckinService) invalidateStats(ctx context.Context, eventID string) {
	if s.Cache == nil || eventID == "" {
		return
	}
	if err := s.Cache.Invalidate(ctx, eventID); err != nil {
		s.Logger.Warn("CACHE", fmt.Sprintf("stats cache invalidate failed: %v", err))
	}
}

func isAlreadyCheckedIn(err error) bool {
	var already *AlreadyCheckedInError
	return errors.As(err, &already)
}
