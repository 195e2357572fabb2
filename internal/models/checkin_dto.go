package models

import "time"

// CheckinResult is what a successful verify-and-checkin returns: enough
// context for the gate screen to confirm admission and offer swag.
type CheckinResult struct {
	Ticket  *Ticket  `json:"ticket"`
	CheckIn *CheckIn `json:"checkin"`
	Event   *Event   `json:"event"`
}

// CheckinStats is computed live from row counts, never cached in the store.
type CheckinStats struct {
	Total     int `json:"total"`
	CheckedIn int `json:"checked_in"`
	Remaining int `json:"remaining"`
}

// SwagItemWithCount annotates a swag item with how many have been handed out.
type SwagItemWithCount struct {
	SwagItem `bun:",extend"`

	CollectedCount int `bun:"collected_count,scanonly" json:"collected_count"`
}

func (s *SwagItemWithCount) Remaining() int {
	return s.Quantity - s.CollectedCount
}

// CheckinEvent is the payload published to Kafka and pushed over SSE when a
// check-in is created or undone.
type CheckinEvent struct {
	Reference    string    `json:"reference"`
	TicketCode   string    `json:"ticket_code"`
	EventID      string    `json:"event_id"`
	AttendeeName string    `json:"attendee_name,omitempty"`
	CheckedInBy  string    `json:"checked_in_by"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// SwagCollectedEvent is published when a swag item is handed out.
type SwagCollectedEvent struct {
	CollectionID string    `json:"collection_id"`
	CheckinID    string    `json:"checkin_id"`
	ItemID       string    `json:"item_id"`
	ItemName     string    `json:"item_name"`
	EventID      string    `json:"event_id"`
	CollectedAt  time.Time `json:"collected_at"`
}

// OfflinePack is the snapshot gate terminals download so they can keep
// scanning through network drops.
type OfflinePack struct {
	Event       *Event              `json:"event"`
	Tickets     []Ticket            `json:"tickets"`
	SwagItems   []SwagItemWithCount `json:"swag_items"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// SyncEntry is one check-in recorded offline and replayed on reconnect.
type SyncEntry struct {
	TicketCode string    `json:"ticket_code"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SyncResult reports the outcome of replaying one offline entry.
type SyncResult struct {
	TicketCode string `json:"ticket_code"`
	Status     string `json:"status"` // checked_in, already_checked_in, not_found, error
	Error      string `json:"error,omitempty"`
}

// SyncSwagEntry is one swag hand-out recorded offline, keyed by ticket code
// because the terminal never saw the server-side check-in id.
type SyncSwagEntry struct {
	TicketCode string    `json:"ticket_code"`
	ItemID     string    `json:"item_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SyncSwagResult reports the outcome of replaying one offline swag entry.
type SyncSwagResult struct {
	TicketCode string `json:"ticket_code"`
	ItemID     string `json:"item_id"`
	Status     string `json:"status"` // collected, already_collected, out_of_stock, not_checked_in, not_found, error
	Error      string `json:"error,omitempty"`
}
