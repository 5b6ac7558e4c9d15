package models

import "time"

// RefreshToken is one persisted link of a rotation chain. PredecessorID
// points at the record that was consumed to create this one; nil marks the
// root of a chain started by a login.
type RefreshToken struct {
	ID            string
	UserID        string
	IssuedAt      time.Time
	Expires       time.Time
	Revoked       bool
	PredecessorID *string
	CreatedAt     time.Time
}

// Expired reports whether the record's expiry has passed at instant now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}
