package model

import "time"

const TokenTypeAccess = "access"

// RevocationEntry denylists a bearer token until ExpiresAt. Tokens are keyed
// by their SHA-256 digest so the ledger never holds a usable credential.
type RevocationEntry struct {
	TokenHash string
	Type      string
	UserID    string
	Reason    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (e RevocationEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
