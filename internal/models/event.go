package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Slug      string    `bun:"slug,unique,notnull" json:"slug"`
	StartAt   time.Time `bun:"start_at,notnull" json:"start_at"`
	EndAt     time.Time `bun:"end_at,notnull" json:"end_at"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types,alias:tt"`

	ID      string  `bun:"id,pk" json:"id"`
	EventID string  `bun:"event_id,notnull" json:"event_id"`
	Name    string  `bun:"name,notnull" json:"name"`
	Price   float64 `bun:"price" json:"price"`

	Event *Event `bun:"rel:belongs-to,join:event_id=id" json:"event,omitempty"`
}
