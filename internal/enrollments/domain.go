package enrollments

import (
	"errors"
	"time"
)

var (
	// ErrAlreadyEnrolled indicates the user is already enrolled.
	ErrAlreadyEnrolled = errors.New("enrollments: already enrolled")
	// ErrLimitReached indicates the course instance is full.
	ErrLimitReached = errors.New("enrollments: enrollment limit reached")
)

// Enrollment links a user to a course instance. CreatedAt is load-bearing:
// student access coupled to enrollment requires the enrollment to predate
// the governing access rule's window.
type Enrollment struct {
	ID               int64
	UserID           int64
	CourseInstanceID int64
	CreatedAt        time.Time
}
