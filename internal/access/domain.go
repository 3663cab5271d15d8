// Package access evaluates time, mode, and identity scoped access rules
// for course instances and assessments. Rules are authored as an ordered
// list; the first rule that matches a request governs credit and exam
// enforcement, while every matching-or-future rule remains visible to
// students.
package access

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the context a request is evaluated in. Exam and SEB requests
// come from proctored environments; everything else is Public.
type Mode string

const (
	ModePublic Mode = "Public"
	ModeExam   Mode = "Exam"
	ModeSEB    Mode = "SEB"
)

// Rule is a single access rule. A zero Mode applies to all request modes;
// nil dates leave the window unbounded on that side; an empty UID list
// admits everyone.
type Rule struct {
	ID               int64
	CourseInstanceID int64
	AssessmentID     *int64
	Number           int32 `validate:"gte=0"`
	Mode             Mode  `validate:"omitempty,oneof=Public Exam SEB"`
	UIDs             []string
	StartDate        *time.Time
	EndDate          *time.Time
	Credit           int32 `validate:"gte=0,lte=200"`
	TimeLimitMin     *int32
	Password         string
	ExamUUID         *uuid.UUID
}

// Request carries the context a rule is evaluated against. UID identifies
// the subject being evaluated, which under "view as" is the effective user
// rather than the authenticated one.
type Request struct {
	Date time.Time
	Mode Mode
	UID  string
	IP   string
}

// Result reports a successful match together with the rule attributes the
// caller enforces or displays downstream.
type Result struct {
	Rule         Rule
	Credit       int32
	TimeLimitMin *int32
	Password     string
	ExamUUID     *uuid.UUID
}
