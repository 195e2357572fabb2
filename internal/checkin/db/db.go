package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

// DB is the redemption ledger store. Every mutating operation runs inside a
// single transaction that takes exclusive row locks first, so two terminals
// scanning the same code serialize instead of racing. Lock order is fixed:
// CheckIn before SwagItem.
type DB struct {
	Bun *bun.DB

	// LockWait bounds how long an operation blocks waiting for a row lock
	// before failing with ErrBusy. Zero means wait indefinitely.
	LockWait time.Duration

	// EntryWindow is how far before event start and after event end
	// check-in stays open. Zero disables the window check.
	EntryWindow time.Duration
}

// lockCtx derives the deadline that bounds lock waits for one operation.
func (d *DB) lockCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.LockWait <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.LockWait)
}

// forUpdate appends FOR UPDATE on dialects that support it. SQLite (used in
// tests) serializes writers at the connection level instead.
func (d *DB) forUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if d.Bun.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

// translateLockErr maps lock-wait timeouts and cancelled statements to
// ErrBusy so callers can retry. Business errors pass through untouched.
func translateLockErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return checkin.ErrBusy
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03", "57014": // lock_not_available, query_canceled
			return checkin.ErrBusy
		}
	}
	return err
}

// CheckinTicket performs the verify-and-checkin transition. The ticket row
// is locked for the duration of the transaction, so a concurrent scan of the
// same code blocks until commit and then observes the already-checked-in
// branch. Exactly one check-in can ever succeed per code.
func (d *DB) CheckinTicket(ctx context.Context, code, staffID, notes string) (*models.CheckinResult, error) {
	ctx, cancel := d.lockCtx(ctx)
	defer cancel()

	var result models.CheckinResult
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		ticket := new(models.Ticket)
		err := d.forUpdate(tx.NewSelect().Model(ticket).Where("code = ?", code)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return checkin.ErrTicketNotFound
		}
		if err != nil {
			return err
		}

		if ticket.IsCheckedIn {
			existing := new(models.CheckIn)
			err := tx.NewSelect().Model(existing).
				Where("ticket_id = ?", ticket.ID).
				Limit(1).
				Scan(ctx)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			alreadyErr := &checkin.AlreadyCheckedInError{
				TicketCode:  ticket.Code,
				Reference:   existing.Reference,
				CheckedInBy: existing.CheckedInBy,
			}
			if ticket.CheckedInAt != nil {
				alreadyErr.CheckedInAt = *ticket.CheckedInAt
			}
			return alreadyErr
		}

		event, err := d.eventForTicket(ctx, tx, ticket)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if d.EntryWindow > 0 {
			windowStart := event.StartAt.Add(-d.EntryWindow)
			windowEnd := event.EndAt.Add(d.EntryWindow)
			if now.Before(windowStart) || now.After(windowEnd) {
				return checkin.ErrOutsideWindow
			}
		}

		ticket.IsCheckedIn = true
		ticket.CheckedInAt = &now
		if _, err := tx.NewUpdate().Model(ticket).
			Column("is_checked_in", "checked_in_at").
			Where("id = ?", ticket.ID).
			Exec(ctx); err != nil {
			return err
		}

		record := &models.CheckIn{
			ID:          utils.GenerateID(),
			Reference:   utils.GenerateCheckinReference(),
			TicketID:    ticket.ID,
			CheckedInBy: staffID,
			CheckedInAt: now,
			Notes:       notes,
		}
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}

		result = models.CheckinResult{Ticket: ticket, CheckIn: record, Event: event}
		return nil
	})
	if err != nil {
		return nil, translateLockErr(err)
	}
	return &result, nil
}

// CollectSwag hands a swag item to a checked-in attendee. Both rows are
// locked, CheckIn first, then SwagItem, so the remaining-stock check and the
// insert are serialized per item: collections can never exceed quantity.
func (d *DB) CollectSwag(ctx context.Context, checkinID, itemID string) (*models.SwagCollection, error) {
	ctx, cancel := d.lockCtx(ctx)
	defer cancel()

	var collection *models.SwagCollection
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record := new(models.CheckIn)
		err := d.forUpdate(tx.NewSelect().Model(record).Where("ci.id = ?", checkinID)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return checkin.ErrCheckinNotFound
		}
		if err != nil {
			return err
		}

		item := new(models.SwagItem)
		err = d.forUpdate(tx.NewSelect().Model(item).Where("si.id = ?", itemID)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return checkin.ErrSwagItemNotFound
		}
		if err != nil {
			return err
		}

		// The item must belong to the event the ticket was issued for, even
		// when the caller supplies ids from a pre-scoped list.
		ticket := new(models.Ticket)
		if err := tx.NewSelect().Model(ticket).
			Where("t.id = ?", record.TicketID).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		ticketType := new(models.TicketType)
		if err := tx.NewSelect().Model(ticketType).
			Where("tt.id = ?", ticket.TicketTypeID).
			Limit(1).
			Scan(ctx); err != nil {
			return err
		}
		if item.EventID != ticketType.EventID {
			return checkin.ErrSwagItemNotFound
		}

		collected, err := tx.NewSelect().Model((*models.SwagCollection)(nil)).
			Where("item_id = ?", item.ID).
			Count(ctx)
		if err != nil {
			return err
		}
		if item.Quantity-collected <= 0 {
			return checkin.ErrOutOfStock
		}

		exists, err := tx.NewSelect().Model((*models.SwagCollection)(nil)).
			Where("checkin_id = ?", record.ID).
			Where("item_id = ?", item.ID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return checkin.ErrAlreadyCollected
		}

		collection = &models.SwagCollection{
			ID:          utils.GenerateID(),
			CheckinID:   record.ID,
			ItemID:      item.ID,
			CollectedAt: time.Now().UTC(),
		}
		if _, err := tx.NewInsert().Model(collection).Exec(ctx); err != nil {
			return err
		}
		collection.Item = item
		collection.CheckIn = record
		return nil
	})
	if err != nil {
		return nil, translateLockErr(err)
	}
	return collection, nil
}

// UndoCheckin reverts a check-in so the ticket becomes redeemable again.
// Swag already collected under the check-in is forfeited: the collection
// rows are deleted here, explicitly, which restores the items' remaining
// stock. A later re-checkin gets a fresh reference.
func (d *DB) UndoCheckin(ctx context.Context, checkinID string) (*models.Ticket, error) {
	ctx, cancel := d.lockCtx(ctx)
	defer cancel()

	var reverted *models.Ticket
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record := new(models.CheckIn)
		err := d.forUpdate(tx.NewSelect().Model(record).Where("ci.id = ?", checkinID)).
			Limit(1).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return checkin.ErrCheckinNotFound
		}
		if err != nil {
			return err
		}

		ticket := new(models.Ticket)
		err = d.forUpdate(tx.NewSelect().Model(ticket).Where("t.id = ?", record.TicketID)).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.SwagCollection)(nil)).
			Where("checkin_id = ?", record.ID).
			Exec(ctx); err != nil {
			return err
		}

		ticket.IsCheckedIn = false
		ticket.CheckedInAt = nil
		if _, err := tx.NewUpdate().Model(ticket).
			Column("is_checked_in", "checked_in_at").
			Where("id = ?", ticket.ID).
			Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.CheckIn)(nil)).
			Where("id = ?", record.ID).
			Exec(ctx); err != nil {
			return err
		}

		reverted = ticket
		return nil
	})
	if err != nil {
		return nil, translateLockErr(err)
	}
	return reverted, nil
}

// eventForTicket resolves the event a ticket was issued for through its
// ticket type.
func (d *DB) eventForTicket(ctx context.Context, idb bun.IDB, ticket *models.Ticket) (*models.Event, error) {
	ticketType := new(models.TicketType)
	err := idb.NewSelect().Model(ticketType).
		Where("tt.id = ?", ticket.TicketTypeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	event := new(models.Event)
	err = idb.NewSelect().Model(event).
		Where("e.id = ?", ticketType.EventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}
