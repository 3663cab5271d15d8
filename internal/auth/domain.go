package auth

import "time"

// Account is a user record as seen by the login flow. It carries the
// password hash, which never leaves this package.
type Account struct {
	ID           int64
	UID          string
	Name         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
