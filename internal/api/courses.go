// Package api is the JSON surface over the authorization engine. Every
// handler here runs behind the authz middleware and reads the snapshot
// it stashed in the request context.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/authz"
	"github.com/lectern-lms/lectern/internal/platform/httpx"
	"github.com/lectern-lms/lectern/internal/shared"
)

// CourseHandler serves course and course-instance views.
type CourseHandler struct {
	logger    *slog.Logger
	validator *validator.Validate
}

// NewCourseHandler builds a CourseHandler instance.
func NewCourseHandler(logger *slog.Logger) *CourseHandler {
	return &CourseHandler{logger: logger, validator: validator.New()}
}

// MountRoutes registers course-scope routes. The caller mounts these
// under /courses/{courseID} with the authorization middleware applied.
func (h *CourseHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.showCourse)
}

// MountInstanceRoutes registers instance-scope routes. The caller mounts
// these under /courses/{courseID}/instances/{courseInstanceID} so both
// URL params are resolved before the authorization middleware runs.
func (h *CourseHandler) MountInstanceRoutes(r chi.Router) {
	r.Get("/", h.showCourseInstance)
	r.Put("/effective-user", h.setEffectiveUser)
	r.Delete("/effective-user", h.clearEffectiveUser)
}

type coursePermissionsView struct {
	CourseRole string `json:"courseRole"`
	Preview    bool   `json:"hasCoursePermissionPreview"`
	View       bool   `json:"hasCoursePermissionView"`
	Edit       bool   `json:"hasCoursePermissionEdit"`
	Own        bool   `json:"hasCoursePermissionOwn"`
}

type courseView struct {
	ID              int64                 `json:"id"`
	ShortName       string                `json:"shortName"`
	Title           string                `json:"title"`
	ExampleCourse   bool                  `json:"exampleCourse"`
	UserUID         string                `json:"userUid"`
	AuthnUserUID    string                `json:"authnUserUid"`
	IsAdministrator bool                  `json:"isAdministrator"`
	ViewingAsOther  bool                  `json:"viewingAsOther"`
	Permissions     coursePermissionsView `json:"permissions"`
}

func (h *CourseHandler) showCourse(w http.ResponseWriter, r *http.Request) {
	snap := authz.SnapshotFromContext(r.Context())
	if snap == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, courseView{
		ID:              snap.Course.ID,
		ShortName:       snap.Course.ShortName,
		Title:           snap.Course.Title,
		ExampleCourse:   snap.Course.ExampleCourse,
		UserUID:         snap.User.UID,
		AuthnUserUID:    snap.AuthnUser.UID,
		IsAdministrator: snap.IsAdministrator,
		ViewingAsOther:  snap.ViewingAsOther(),
		Permissions:     coursePerms(snap),
	})
}

func coursePerms(snap *authz.Snapshot) coursePermissionsView {
	return coursePermissionsView{
		CourseRole: snap.CoursePerms.CourseRole.String(),
		Preview:    snap.CoursePerms.Preview,
		View:       snap.CoursePerms.View,
		Edit:       snap.CoursePerms.Edit,
		Own:        snap.CoursePerms.Own,
	}
}

type activeRuleView struct {
	Credit       int32      `json:"credit"`
	TimeLimitMin *int32     `json:"timeLimitMin,omitempty"`
	ExamUUID     string     `json:"examUuid,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
}

type ruleView struct {
	Number    int32      `json:"number"`
	Mode      string     `json:"mode,omitempty"`
	Credit    int32      `json:"credit"`
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

type instancePermissionsView struct {
	CourseInstanceRole             string `json:"courseInstanceRole"`
	ViewStudentData                bool   `json:"hasCourseInstancePermissionView"`
	EditStudentData                bool   `json:"hasCourseInstancePermissionEdit"`
	HasStudentAccess               bool   `json:"hasStudentAccess"`
	HasStudentAccessWithEnrollment bool   `json:"hasStudentAccessWithEnrollment"`
}

type courseInstanceView struct {
	ID             int64                   `json:"id"`
	ShortName      string                  `json:"shortName"`
	LongName       string                  `json:"longName"`
	Mode           string                  `json:"mode"`
	ModeReason     string                  `json:"modeReason"`
	UserUID        string                  `json:"userUid"`
	ViewingAsOther bool                    `json:"viewingAsOther"`
	Course         coursePermissionsView   `json:"coursePermissions"`
	Instance       instancePermissionsView `json:"instancePermissions"`
	ActiveRule     *activeRuleView         `json:"activeRule,omitempty"`
	Rules          []ruleView              `json:"rules"`
}

func (h *CourseHandler) showCourseInstance(w http.ResponseWriter, r *http.Request) {
	snap := authz.SnapshotFromContext(r.Context())
	if snap == nil || snap.CourseInstance == nil || snap.InstancePerms == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	view := courseInstanceView{
		ID:             snap.CourseInstance.ID,
		ShortName:      snap.CourseInstance.ShortName,
		LongName:       snap.CourseInstance.LongName,
		Mode:           string(snap.Mode),
		ModeReason:     string(snap.ModeReason),
		UserUID:        snap.User.UID,
		ViewingAsOther: snap.ViewingAsOther(),
		Course:         coursePerms(snap),
		Instance: instancePermissionsView{
			CourseInstanceRole:             snap.InstancePerms.CourseInstanceRole.String(),
			ViewStudentData:                snap.InstancePerms.ViewStudentData,
			EditStudentData:                snap.InstancePerms.EditStudentData,
			HasStudentAccess:               snap.InstancePerms.HasStudentAccess,
			HasStudentAccessWithEnrollment: snap.InstancePerms.HasStudentAccessWithEnrollment,
		},
		Rules: make([]ruleView, 0, len(snap.VisibleRules)),
	}
	if snap.ActiveRule != nil {
		active := &activeRuleView{
			Credit:       snap.ActiveRule.Credit,
			TimeLimitMin: snap.ActiveRule.TimeLimitMin,
			StartDate:    snap.ActiveRule.Rule.StartDate,
			EndDate:      snap.ActiveRule.Rule.EndDate,
		}
		// The rule password itself stays server-side.
		if snap.ActiveRule.ExamUUID != nil {
			active.ExamUUID = snap.ActiveRule.ExamUUID.String()
		}
		view.ActiveRule = active
	}
	for _, rule := range snap.VisibleRules {
		view.Rules = append(view.Rules, ruleView{
			Number:    rule.Number,
			Mode:      string(rule.Mode),
			Credit:    rule.Credit,
			StartDate: rule.StartDate,
			EndDate:   rule.EndDate,
		})
	}
	httpx.JSON(w, http.StatusOK, view)
}

type effectiveUserRequest struct {
	UID                string `json:"uid" validate:"omitempty,max=255"`
	CourseRole         string `json:"courseRole" validate:"omitempty,oneof=None Previewer Viewer Editor Owner"`
	CourseInstanceRole string `json:"courseInstanceRole" validate:"omitempty,oneof=None 'Student Data Viewer' 'Student Data Editor'"`
	Date               string `json:"date" validate:"omitempty"`
	Mode               string `json:"mode" validate:"omitempty,oneof=Public Exam SEB"`
}

// setEffectiveUser stores view-as overrides in the session. Only course
// staff may stage overrides; the authorization middleware re-validates
// them on every subsequent request, so a stale or malicious value can
// never outlive its welcome.
func (h *CourseHandler) setEffectiveUser(w http.ResponseWriter, r *http.Request) {
	snap := authz.SnapshotFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if snap == nil || sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	isStaff := snap.AuthnCourse.Preview ||
		(snap.AuthnInstance != nil && snap.AuthnInstance.ViewStudentData)
	if !isStaff {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "course staff access required")
		return
	}

	var req effectiveUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.Date != "" {
		if _, err := time.Parse(time.RFC3339, req.Date); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be RFC 3339")
			return
		}
	}
	if req.Mode != "" && access.Mode(req.Mode) != access.ModePublic &&
		access.Mode(req.Mode) != access.ModeExam && access.Mode(req.Mode) != access.ModeSEB {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown mode")
		return
	}

	sess.ClearRequestedOverrides()
	setIfPresent(sess, shared.RequestedUIDKey, req.UID)
	setIfPresent(sess, shared.RequestedCourseRoleKey, req.CourseRole)
	setIfPresent(sess, shared.RequestedCourseInstanceRoleKey, req.CourseInstanceRole)
	setIfPresent(sess, shared.RequestedDateKey, req.Date)
	setIfPresent(sess, shared.RequestedModeKey, req.Mode)

	w.WriteHeader(http.StatusNoContent)
}

func setIfPresent(sess *shared.Session, key, value string) {
	if value != "" {
		sess.Set(key, value)
	}
}

func (h *CourseHandler) clearEffectiveUser(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.ClearRequestedOverrides()
	w.WriteHeader(http.StatusNoContent)
}
