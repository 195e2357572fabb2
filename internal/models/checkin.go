package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CheckIn records a single admission of a ticket holder. The one-to-one with
// the ticket is enforced by the unique constraint on ticket_id; Reference is
// the externally shareable id printed on badge QRs.
type CheckIn struct {
	bun.BaseModel `bun:"table:checkins,alias:ci"`

	ID          string    `bun:"id,pk" json:"id"`
	Reference   string    `bun:"reference,unique,notnull" json:"reference"`
	TicketID    string    `bun:"ticket_id,unique,notnull" json:"ticket_id"`
	CheckedInBy string    `bun:"checked_in_by,notnull" json:"checked_in_by"`
	CheckedInAt time.Time `bun:"checked_in_at,notnull" json:"checked_in_at"`
	Notes       string    `bun:"notes" json:"notes,omitempty"`

	Ticket *Ticket `bun:"rel:belongs-to,join:ticket_id=id" json:"ticket,omitempty"`
	Staff  *Staff  `bun:"rel:belongs-to,join:checked_in_by=id" json:"staff,omitempty"`
}

type SwagItem struct {
	bun.BaseModel `bun:"table:swag_items,alias:si"`

	ID          string    `bun:"id,pk" json:"id"`
	EventID     string    `bun:"event_id,notnull" json:"event_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	Description string    `bun:"description" json:"description,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}

// SwagCollection links a check-in to a swag item it picked up. The unique
// (checkin_id, item_id) pair caps collection at once per ticket holder.
type SwagCollection struct {
	bun.BaseModel `bun:"table:swag_collections,alias:sc"`

	ID          string    `bun:"id,pk" json:"id"`
	CheckinID   string    `bun:"checkin_id,notnull" json:"checkin_id"`
	ItemID      string    `bun:"item_id,notnull" json:"item_id"`
	CollectedAt time.Time `bun:"collected_at,notnull" json:"collected_at"`

	CheckIn *CheckIn  `bun:"rel:belongs-to,join:checkin_id=id" json:"checkin,omitempty"`
	Item    *SwagItem `bun:"rel:belongs-to,join:item_id=id" json:"item,omitempty"`
}
