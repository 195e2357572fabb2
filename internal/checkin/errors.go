package checkin

import (
	"errors"
	"fmt"
	"time"
)

// Business failures are returned as values, never panics, so the API layer
// can render a specific message per kind. Store-connectivity failures pass
// through untranslated.
var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrEventNotFound    = errors.New("event not found")
	ErrCheckinNotFound  = errors.New("check-in not found")
	ErrSwagItemNotFound = errors.New("swag item not found")
	ErrOutOfStock       = errors.New("swag item out of stock")
	ErrAlreadyCollected = errors.New("swag item already collected for this check-in")
	ErrOutsideWindow    = errors.New("check-in is only allowed around the event dates")
	ErrBusy             = errors.New("store is busy, retry the operation")
)

// AlreadyCheckedInError carries the prior record so gate staff can decide
// what to do with a double scan ("already checked in at 14:02 by X").
type AlreadyCheckedInError struct {
	TicketCode  string
	Reference   string
	CheckedInAt time.Time
	CheckedInBy string
}

func (e *AlreadyCheckedInError) Error() string {
	return fmt.Sprintf("ticket %s already checked in at %s", e.TicketCode, e.CheckedInAt.Format(time.RFC3339))
}
