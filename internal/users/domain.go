package users

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// User represents a user account. Accounts are created by the identity
// provider sync and are never mutated by the authorization engine.
type User struct {
	ID            int64
	UID           string
	Name          string
	Email         string
	InstitutionID int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var uidFolder = cases.Fold()

// NormalizeUID canonicalizes a login identifier for lookup. UIDs are
// case-insensitive; the stored form is the folded one.
func NormalizeUID(uid string) string {
	return uidFolder.String(strings.TrimSpace(uid))
}
