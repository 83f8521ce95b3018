package domain

import "time"

// SystemToken authorizes internal callers that raise auto-generated cases.
type SystemToken struct {
	ID          string
	SecretHash  string
	Description string
	Active      bool
	CreatedAt   time.Time
}
