package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/uptrace/bun"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
)

// Read-only lookups. None of these take locks; display reads may observe a
// different snapshot than a concurrent writer, which is fine for stats.

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event := new(models.Event)
	err := d.Bun.NewSelect().Model(event).
		Where("e.id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (d *DB) GetCheckin(ctx context.Context, checkinID string) (*models.CheckIn, error) {
	record := new(models.CheckIn)
	err := d.Bun.NewSelect().Model(record).
		Relation("Ticket").
		Relation("Ticket.TicketType").
		Where("ci.id = ?", checkinID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrCheckinNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetCheckinByTicketCode resolves the check-in for a ticket code, used when
// offline terminals replay swag collections keyed by code rather than
// check-in id.
func (d *DB) GetCheckinByTicketCode(ctx context.Context, code string) (*models.CheckIn, error) {
	ticket := new(models.Ticket)
	err := d.Bun.NewSelect().Model(ticket).
		Where("t.code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}

	record := new(models.CheckIn)
	err = d.Bun.NewSelect().Model(record).
		Where("ci.ticket_id = ?", ticket.ID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrCheckinNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// likeEscaper neutralizes LIKE metacharacters in user input so a query of
// "100%" matches literally instead of as a wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchTickets matches partial codes or attendee names/emails for one
// event, case-insensitive, bounded.
func (d *DB) SearchTickets(ctx context.Context, eventID, query string, limit int) ([]models.Ticket, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var tickets []models.Ticket
	err := d.Bun.NewSelect().Model(&tickets).
		Join("JOIN ticket_types AS tt ON tt.id = t.ticket_type_id").
		Where("tt.event_id = ?", eventID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where(`LOWER(t.code) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(t.attendee_name) LIKE ? ESCAPE '\'`, pattern).
				WhereOr(`LOWER(t.attendee_email) LIKE ? ESCAPE '\'`, pattern)
		}).
		Order("t.code ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// EventCheckinStats counts live from rows so the dashboard is always
// consistent with the ledger at read time.
func (d *DB) EventCheckinStats(ctx context.Context, eventID string) (*models.CheckinStats, error) {
	total, err := d.Bun.NewSelect().Model((*models.Ticket)(nil)).
		Join("JOIN ticket_types AS tt ON tt.id = t.ticket_type_id").
		Where("tt.event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return nil, err
	}
	checkedIn, err := d.Bun.NewSelect().Model((*models.Ticket)(nil)).
		Join("JOIN ticket_types AS tt ON tt.id = t.ticket_type_id").
		Where("tt.event_id = ?", eventID).
		Where("t.is_checked_in = ?", true).
		Count(ctx)
	if err != nil {
		return nil, err
	}
	return &models.CheckinStats{
		Total:     total,
		CheckedIn: checkedIn,
		Remaining: total - checkedIn,
	}, nil
}

// EventSwagItems lists an event's swag annotated with collected counts.
func (d *DB) EventSwagItems(ctx context.Context, eventID string) ([]models.SwagItemWithCount, error) {
	var items []models.SwagItemWithCount
	err := d.Bun.NewSelect().Model(&items).
		ColumnExpr("si.*").
		ColumnExpr("(SELECT COUNT(*) FROM swag_collections AS sc WHERE sc.item_id = si.id) AS collected_count").
		Where("si.event_id = ?", eventID).
		Order("si.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UncollectedSwag lists the event's swag items a check-in has not picked up
// yet, used for the "offer remaining swag" prompt after a successful scan.
func (d *DB) UncollectedSwag(ctx context.Context, checkinID string) ([]models.SwagItem, error) {
	record, err := d.GetCheckin(ctx, checkinID)
	if err != nil {
		return nil, err
	}
	eventID := ""
	if record.Ticket != nil && record.Ticket.TicketType != nil {
		eventID = record.Ticket.TicketType.EventID
	}

	var items []models.SwagItem
	err = d.Bun.NewSelect().Model(&items).
		Where("si.event_id = ?", eventID).
		Where("si.id NOT IN (SELECT item_id FROM swag_collections WHERE checkin_id = ?)", checkinID).
		Order("si.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// RecentCheckins returns the newest check-ins for an event, bounded.
func (d *DB) RecentCheckins(ctx context.Context, eventID string, limit int) ([]models.CheckIn, error) {
	var records []models.CheckIn
	err := d.Bun.NewSelect().Model(&records).
		Relation("Ticket").
		Relation("Staff").
		Join("JOIN tickets AS gt ON gt.id = ci.ticket_id").
		Join("JOIN ticket_types AS tt ON tt.id = gt.ticket_type_id").
		Where("tt.event_id = ?", eventID).
		Order("ci.checked_in_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// OfflineTickets returns every ticket for an event, for the offline pack.
func (d *DB) OfflineTickets(ctx context.Context, eventID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().Model(&tickets).
		Relation("TicketType").
		Join("JOIN ticket_types AS jtt ON jtt.id = t.ticket_type_id").
		Where("jtt.event_id = ?", eventID).
		Order("t.code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (d *DB) CreateSwagItem(ctx context.Context, item *models.SwagItem) error {
	_, err := d.Bun.NewInsert().Model(item).Exec(ctx)
	return err
}

// UpsertTicket keeps the local ticket catalog in sync with the ticketing
// service. Check-in columns are never touched by the sync path.
func (d *DB) UpsertTicket(ctx context.Context, ticket *models.Ticket) error {
	_, err := d.Bun.NewInsert().Model(ticket).
		On("CONFLICT (id) DO UPDATE").
		Set("code = EXCLUDED.code").
		Set("ticket_type_id = EXCLUDED.ticket_type_id").
		Set("attendee_name = EXCLUDED.attendee_name").
		Set("attendee_email = EXCLUDED.attendee_email").
		Exec(ctx)
	return err
}
