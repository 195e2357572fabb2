package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket mirrors the catalog owned by the ticketing service. Rows are kept
// in sync by the ticket.issued consumer; this service only mutates the
// check-in columns.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID            string     `bun:"id,pk" json:"id"`
	Code          string     `bun:"code,unique,notnull" json:"code"`
	TicketTypeID  string     `bun:"ticket_type_id,notnull" json:"ticket_type_id"`
	AttendeeName  string     `bun:"attendee_name" json:"attendee_name"`
	AttendeeEmail string     `bun:"attendee_email" json:"attendee_email"`
	IsCheckedIn   bool       `bun:"is_checked_in,notnull,default:false" json:"is_checked_in"`
	CheckedInAt   *time.Time `bun:"checked_in_at,nullzero" json:"checked_in_at,omitempty"`

	TicketType *TicketType `bun:"rel:belongs-to,join:ticket_type_id=id" json:"ticket_type,omitempty"`
}

// TicketIssuedEvent is the payload published by the ticketing service when a
// ticket is sold.
type TicketIssuedEvent struct {
	TicketID      string  `json:"ticket_id"`
	Code          string  `json:"code"`
	TicketTypeID  string  `json:"ticket_type_id"`
	AttendeeName  string  `json:"attendee_name"`
	AttendeeEmail string  `json:"attendee_email"`
	Price         float64 `json:"price"`
}
