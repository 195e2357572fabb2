package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Staff identifies who performed a check-in. Identities come from the OIDC
// provider; no authentication logic lives here.
type Staff struct {
	bun.BaseModel `bun:"table:staff,alias:s"`

	ID        string    `bun:"id,pk" json:"id"`
	Email     string    `bun:"email" json:"email"`
	FullName  string    `bun:"full_name" json:"full_name"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
