package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/checkin/db"
	"ms-checkin/internal/models"
	"ms-checkin/internal/utils"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	tables := []interface{}{
		(*models.Event)(nil),
		(*models.Staff)(nil),
		(*models.TicketType)(nil),
		(*models.Ticket)(nil),
		(*models.CheckIn)(nil),
		(*models.SwagItem)(nil),
		(*models.SwagCollection)(nil),
	}
	for _, table := range tables {
		require.NoError(t, bunDB.ResetModel(context.Background(), table))
	}

	return &db.DB{Bun: bunDB, LockWait: 5 * time.Second, EntryWindow: 24 * time.Hour}
}

type fixture struct {
	event      *models.Event
	ticketType *models.TicketType
	tickets    map[string]*models.Ticket
}

func seedEvent(t *testing.T, store *db.DB, codes ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	event := &models.Event{
		ID:      utils.GenerateID(),
		Name:    "GopherConf",
		Slug:    "gopherconf",
		StartAt: now.Add(-1 * time.Hour),
		EndAt:   now.Add(6 * time.Hour),
	}
	_, err := store.Bun.NewInsert().Model(event).Exec(ctx)
	require.NoError(t, err)

	ticketType := &models.TicketType{
		ID:      utils.GenerateID(),
		EventID: event.ID,
		Name:    "General Admission",
		Price:   50,
	}
	_, err = store.Bun.NewInsert().Model(ticketType).Exec(ctx)
	require.NoError(t, err)

	f := &fixture{event: event, ticketType: ticketType, tickets: make(map[string]*models.Ticket)}
	for _, code := range codes {
		ticket := &models.Ticket{
			ID:            utils.GenerateID(),
			Code:          code,
			TicketTypeID:  ticketType.ID,
			AttendeeName:  "Holder Of " + code,
			AttendeeEmail: code + "@example.com",
		}
		_, err = store.Bun.NewInsert().Model(ticket).Exec(ctx)
		require.NoError(t, err)
		f.tickets[code] = ticket
	}
	return f
}

func seedSwagItem(t *testing.T, store *db.DB, eventID, name string, quantity int) *models.SwagItem {
	t.Helper()
	item := &models.SwagItem{
		ID:       utils.GenerateID(),
		EventID:  eventID,
		Name:     name,
		Quantity: quantity,
	}
	_, err := store.Bun.NewInsert().Model(item).Exec(context.Background())
	require.NoError(t, err)
	return item
}

func TestCheckinTicket(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	ctx := context.Background()

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)
	assert.True(t, result.Ticket.IsCheckedIn)
	assert.NotNil(t, result.Ticket.CheckedInAt)
	assert.Equal(t, "staff-1", result.CheckIn.CheckedInBy)
	assert.Equal(t, f.event.ID, result.Event.ID)
	assert.NotEmpty(t, result.CheckIn.Reference)

	count, err := store.Bun.NewSelect().Model((*models.CheckIn)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckinTicketRecordsNotes(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")
	ctx := context.Background()

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "wheelchair access")
	require.NoError(t, err)
	assert.Equal(t, "wheelchair access", result.CheckIn.Notes)

	record := new(models.CheckIn)
	require.NoError(t, store.Bun.NewSelect().Model(record).Where("ci.id = ?", result.CheckIn.ID).Scan(ctx))
	assert.Equal(t, "wheelchair access", record.Notes)
}

func TestCheckinTicketNotFound(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")

	_, err := store.CheckinTicket(context.Background(), "nope", "staff-1", "")
	assert.ErrorIs(t, err, checkin.ErrTicketNotFound)
}

func TestCheckinTicketAlreadyCheckedIn(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")
	ctx := context.Background()

	first, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	_, err = store.CheckinTicket(ctx, "abc123", "staff-2", "")
	var already *checkin.AlreadyCheckedInError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "abc123", already.TicketCode)
	assert.Equal(t, first.CheckIn.Reference, already.Reference)
	assert.Equal(t, "staff-1", already.CheckedInBy)
	assert.WithinDuration(t, first.CheckIn.CheckedInAt, already.CheckedInAt, time.Second)

	// Idempotent rejection: still exactly one record.
	count, err := store.Bun.NewSelect().Model((*models.CheckIn)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCheckinTicketOutsideWindow(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	ctx := context.Background()

	// Push the event far into the past.
	f.event.StartAt = time.Now().UTC().Add(-30 * 24 * time.Hour)
	f.event.EndAt = time.Now().UTC().Add(-29 * 24 * time.Hour)
	_, err := store.Bun.NewUpdate().Model(f.event).
		Column("start_at", "end_at").
		Where("id = ?", f.event.ID).
		Exec(ctx)
	require.NoError(t, err)

	_, err = store.CheckinTicket(ctx, "abc123", "staff-1", "")
	assert.ErrorIs(t, err, checkin.ErrOutsideWindow)

	ticket := new(models.Ticket)
	require.NoError(t, store.Bun.NewSelect().Model(ticket).Where("code = ?", "abc123").Scan(ctx))
	assert.False(t, ticket.IsCheckedIn)

	// A zero window disables the check.
	store.EntryWindow = 0
	_, err = store.CheckinTicket(ctx, "abc123", "staff-1", "")
	assert.NoError(t, err)
}

func TestUndoCheckinReopensRedemption(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")
	ctx := context.Background()

	first, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	ticket, err := store.UndoCheckin(ctx, first.CheckIn.ID)
	require.NoError(t, err)
	assert.False(t, ticket.IsCheckedIn)
	assert.Nil(t, ticket.CheckedInAt)

	count, err := store.Bun.NewSelect().Model((*models.CheckIn)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	second, err := store.CheckinTicket(ctx, "abc123", "staff-2", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.CheckIn.Reference, second.CheckIn.Reference)
	assert.Equal(t, "staff-2", second.CheckIn.CheckedInBy)
}

func TestUndoCheckinNotFound(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")

	_, err := store.UndoCheckin(context.Background(), "missing")
	assert.ErrorIs(t, err, checkin.ErrCheckinNotFound)
}

func TestCollectSwag(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	item := seedSwagItem(t, store, f.event.ID, "T-Shirt", 2)
	ctx := context.Background()

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	collection, err := store.CollectSwag(ctx, result.CheckIn.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, collection.ItemID)
	assert.Equal(t, result.CheckIn.ID, collection.CheckinID)
	require.NotNil(t, collection.Item)
	assert.Equal(t, "T-Shirt", collection.Item.Name)

	_, err = store.CollectSwag(ctx, result.CheckIn.ID, item.ID)
	assert.ErrorIs(t, err, checkin.ErrAlreadyCollected)
}

func TestCollectSwagOutOfStock(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123", "def456")
	item := seedSwagItem(t, store, f.event.ID, "T-Shirt", 1)
	ctx := context.Background()

	first, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)
	second, err := store.CheckinTicket(ctx, "def456", "staff-1", "")
	require.NoError(t, err)

	_, err = store.CollectSwag(ctx, first.CheckIn.ID, item.ID)
	require.NoError(t, err)

	_, err = store.CollectSwag(ctx, second.CheckIn.ID, item.ID)
	assert.ErrorIs(t, err, checkin.ErrOutOfStock)

	// Never more rows than quantity.
	count, err := store.Bun.NewSelect().Model((*models.SwagCollection)(nil)).
		Where("item_id = ?", item.ID).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectSwagNotFound(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	item := seedSwagItem(t, store, f.event.ID, "T-Shirt", 1)
	ctx := context.Background()

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	_, err = store.CollectSwag(ctx, "missing", item.ID)
	assert.ErrorIs(t, err, checkin.ErrCheckinNotFound)

	_, err = store.CollectSwag(ctx, result.CheckIn.ID, "missing")
	assert.ErrorIs(t, err, checkin.ErrSwagItemNotFound)
}

func TestCollectSwagWrongEvent(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")
	ctx := context.Background()

	// A second event with its own swag.
	other := &models.Event{
		ID:      utils.GenerateID(),
		Name:    "Other Conf",
		Slug:    "other-conf",
		StartAt: time.Now().UTC(),
		EndAt:   time.Now().UTC().Add(4 * time.Hour),
	}
	_, err := store.Bun.NewInsert().Model(other).Exec(ctx)
	require.NoError(t, err)
	otherItem := seedSwagItem(t, store, other.ID, "Other Tee", 5)

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	_, err = store.CollectSwag(ctx, result.CheckIn.ID, otherItem.ID)
	assert.ErrorIs(t, err, checkin.ErrSwagItemNotFound)
}

func TestUndoCheckinForfeitsSwag(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123", "def456")
	item := seedSwagItem(t, store, f.event.ID, "T-Shirt", 1)
	ctx := context.Background()

	first, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)
	_, err = store.CollectSwag(ctx, first.CheckIn.ID, item.ID)
	require.NoError(t, err)

	_, err = store.UndoCheckin(ctx, first.CheckIn.ID)
	require.NoError(t, err)

	count, err := store.Bun.NewSelect().Model((*models.SwagCollection)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "undo forfeits collected swag")

	// Forfeited stock is available again.
	second, err := store.CheckinTicket(ctx, "def456", "staff-1", "")
	require.NoError(t, err)
	_, err = store.CollectSwag(ctx, second.CheckIn.ID, item.ID)
	assert.NoError(t, err)
}

func TestSearchTickets(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "alpha-1", "alpha-2", "bravo-9")
	ctx := context.Background()

	byCode, err := store.SearchTickets(ctx, f.event.ID, "ALPHA", 20)
	require.NoError(t, err)
	assert.Len(t, byCode, 2)

	byEmail, err := store.SearchTickets(ctx, f.event.ID, "bravo-9@example", 20)
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "bravo-9", byEmail[0].Code)

	limited, err := store.SearchTickets(ctx, f.event.ID, "a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.SearchTickets(ctx, f.event.ID, "zzz", 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchTicketsEscapesWildcards(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123", "a_c999", "50%off")
	ctx := context.Background()

	// "_" and "%" match literally, not as LIKE wildcards.
	underscore, err := store.SearchTickets(ctx, f.event.ID, "a_c", 20)
	require.NoError(t, err)
	require.Len(t, underscore, 1)
	assert.Equal(t, "a_c999", underscore[0].Code)

	percent, err := store.SearchTickets(ctx, f.event.ID, "0%o", 20)
	require.NoError(t, err)
	require.Len(t, percent, 1)
	assert.Equal(t, "50%off", percent[0].Code)
}

func TestGetCheckinByTicketCode(t *testing.T) {
	store := setupTestDB(t)
	seedEvent(t, store, "abc123")
	ctx := context.Background()

	_, err := store.GetCheckinByTicketCode(ctx, "missing")
	assert.ErrorIs(t, err, checkin.ErrTicketNotFound)

	_, err = store.GetCheckinByTicketCode(ctx, "abc123")
	assert.ErrorIs(t, err, checkin.ErrCheckinNotFound)

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	record, err := store.GetCheckinByTicketCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, result.CheckIn.ID, record.ID)
}

func TestEventCheckinStats(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "a-1", "a-2", "a-3")
	ctx := context.Background()

	stats, err := store.EventCheckinStats(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 0, stats.CheckedIn)
	assert.Equal(t, 3, stats.Remaining)

	_, err = store.CheckinTicket(ctx, "a-1", "staff-1", "")
	require.NoError(t, err)

	stats, err = store.EventCheckinStats(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.CheckedIn)
	assert.Equal(t, 2, stats.Remaining)
}

func TestEventSwagItemsAndUncollected(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	shirt := seedSwagItem(t, store, f.event.ID, "T-Shirt", 3)
	seedSwagItem(t, store, f.event.ID, "Sticker Pack", 10)
	ctx := context.Background()

	result, err := store.CheckinTicket(ctx, "abc123", "staff-1", "")
	require.NoError(t, err)

	uncollected, err := store.UncollectedSwag(ctx, result.CheckIn.ID)
	require.NoError(t, err)
	assert.Len(t, uncollected, 2)

	_, err = store.CollectSwag(ctx, result.CheckIn.ID, shirt.ID)
	require.NoError(t, err)

	uncollected, err = store.UncollectedSwag(ctx, result.CheckIn.ID)
	require.NoError(t, err)
	require.Len(t, uncollected, 1)
	assert.Equal(t, "Sticker Pack", uncollected[0].Name)

	items, err := store.EventSwagItems(ctx, f.event.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		if item.ID == shirt.ID {
			assert.Equal(t, 1, item.CollectedCount)
			assert.Equal(t, 2, item.Remaining())
		} else {
			assert.Equal(t, 0, item.CollectedCount)
		}
	}
}

func TestRecentCheckins(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "a-1", "a-2", "a-3")
	ctx := context.Background()

	for _, code := range []string{"a-1", "a-2", "a-3"} {
		_, err := store.CheckinTicket(ctx, code, "staff-1", "")
		require.NoError(t, err)
	}

	records, err := store.RecentCheckins(ctx, f.event.ID, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Ticket)
	assert.False(t, records[0].CheckedInAt.Before(records[1].CheckedInAt))
}

func TestUpsertTicket(t *testing.T) {
	store := setupTestDB(t)
	f := seedEvent(t, store, "abc123")
	ctx := context.Background()

	existing := f.tickets["abc123"]
	update := &models.Ticket{
		ID:            existing.ID,
		Code:          existing.Code,
		TicketTypeID:  existing.TicketTypeID,
		AttendeeName:  "Renamed Holder",
		AttendeeEmail: existing.AttendeeEmail,
	}
	require.NoError(t, store.UpsertTicket(ctx, update))

	fresh := &models.Ticket{
		ID:           utils.GenerateID(),
		Code:         "xyz789",
		TicketTypeID: f.ticketType.ID,
	}
	require.NoError(t, store.UpsertTicket(ctx, fresh))

	count, err := store.Bun.NewSelect().Model((*models.Ticket)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ticket := new(models.Ticket)
	require.NoError(t, store.Bun.NewSelect().Model(ticket).Where("code = ?", "abc123").Scan(ctx))
	assert.Equal(t, "Renamed Holder", ticket.AttendeeName)
}
