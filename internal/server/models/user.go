// Package models defines the persistent data shapes shared by repositories
// and services.
package models

import "time"

// User is a credential record. The auth core verifies logins against
// PasswordHash and never stores or logs the cleartext password. Account
// status transitions (Disabled) are driven by external administration.
type User struct {
	ID           string
	UserName     string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
}
