package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lectern-lms/lectern/internal/access"
	"github.com/lectern-lms/lectern/internal/courses"
	"github.com/lectern-lms/lectern/internal/enrollments"
	"github.com/lectern-lms/lectern/internal/shared"
	"github.com/lectern-lms/lectern/internal/users"
)

// CourseStore supplies course scope entities and stored role grants.
type CourseStore interface {
	FindInstitution(ctx context.Context, id int64) (courses.Institution, error)
	FindCourse(ctx context.Context, id int64) (courses.Course, error)
	FindCourseInstance(ctx context.Context, id int64) (courses.CourseInstance, error)
	CourseRole(ctx context.Context, userID, courseID int64) (string, error)
	CourseInstanceRole(ctx context.Context, userID, courseInstanceID int64) (string, error)
}

// EnrollmentStore supplies enrollment membership.
type EnrollmentStore interface {
	FindEnrollment(ctx context.Context, userID, courseInstanceID int64) (*enrollments.Enrollment, error)
}

// BuildParams are the inputs to one snapshot evaluation. The authn user
// and administrator flag come from the session layer and are trusted
// verbatim.
type BuildParams struct {
	AuthnUser users.User
	// EffectiveUser, when set, is the user whose permissions populate the
	// unprefixed snapshot fields ("view as"). Nil means the authn user.
	EffectiveUser *users.User
	// EffectiveIsAdministrator is honored only when the effective user
	// differs from the authn user; the caller must have verified that the
	// authn user is allowed to assume it.
	EffectiveIsAdministrator bool

	CourseID int64
	// CourseInstanceID of zero evaluates course scope only.
	CourseInstanceID int64
	// AssessmentID of zero resolves instance-level rules only.
	AssessmentID int64

	IsAdministrator            bool
	AllowExampleCourseOverride bool

	IP      string
	ReqDate time.Time
	// ReqMode forces the evaluation mode when non-empty.
	ReqMode access.Mode
	// ReqCourseRole / ReqCourseInstanceRole replace the effective user's
	// stored roles ("view as role"). They never affect the authn fields.
	ReqCourseRole         *CourseRole
	ReqCourseInstanceRole *CourseInstanceRole
}

// Builder assembles authorization snapshots. It is stateless; every call
// fetches fresh rows because permissions are time- and identity-sensitive.
type Builder struct {
	courses     CourseStore
	rules       access.Resolver
	enrollments EnrollmentStore
}

// NewBuilder constructs a Builder.
func NewBuilder(courseStore CourseStore, resolver access.Resolver, enrollmentStore EnrollmentStore) *Builder {
	return &Builder{courses: courseStore, rules: resolver, enrollments: enrollmentStore}
}

// Build computes the snapshot for one request. It returns (nil, nil) when
// the course, institution, or course instance does not exist: a missing
// scope is an expected outcome (a 404), not a failure. A course instance
// that exists but belongs to a different course is an *InputError. Any
// storage failure aborts the whole build; no partial snapshot is ever
// returned.
func (b *Builder) Build(ctx context.Context, p BuildParams) (*Snapshot, error) {
	if p.CourseID == 0 {
		return nil, fmt.Errorf("authz: course id required")
	}

	course, err := b.courses.FindCourse(ctx, p.CourseID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	institution, err := b.courses.FindInstitution(ctx, course.InstitutionID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var courseInstance *courses.CourseInstance
	var rules []access.Rule
	if p.CourseInstanceID != 0 {
		ci, err := b.courses.FindCourseInstance(ctx, p.CourseInstanceID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if ci.CourseID != course.ID {
			return nil, &InputError{CourseID: p.CourseID, CourseInstanceID: p.CourseInstanceID}
		}
		courseInstance = &ci

		rules, err = b.rules.ResolveRules(ctx, ci.ID, p.AssessmentID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	effective := p.AuthnUser
	if p.EffectiveUser != nil {
		effective = *p.EffectiveUser
	}
	viewingAsOther := effective.ID != p.AuthnUser.ID

	effectiveAdmin := p.IsAdministrator
	if viewingAsOther {
		effectiveAdmin = p.EffectiveIsAdministrator
	}

	mode, modeReason := SelectMode(p.ReqMode, rules, p.ReqDate, effective.UID)

	authnParams := evalParams{
		user:            p.AuthnUser,
		isAdministrator: p.IsAdministrator,
		allowExample:    p.AllowExampleCourseOverride,
		course:          course,
		courseInstance:  courseInstance,
		rules:           rules,
		mode:            mode,
		date:            p.ReqDate,
		ip:              p.IP,
	}
	effectiveParams := evalParams{
		user:            effective,
		isAdministrator: effectiveAdmin,
		// The example-course override never applies while viewing as
		// another user.
		allowExample:       p.AllowExampleCourseOverride && !viewingAsOther,
		course:             course,
		courseInstance:     courseInstance,
		rules:              rules,
		mode:               mode,
		date:               p.ReqDate,
		ip:                 p.IP,
		courseRole:         p.ReqCourseRole,
		courseInstanceRole: p.ReqCourseInstanceRole,
	}

	var authnEval, effectiveEval evaluation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		authnEval, err = b.evaluate(gctx, authnParams)
		return err
	})
	g.Go(func() error {
		var err error
		effectiveEval, err = b.evaluate(gctx, effectiveParams)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		Institution:    institution,
		Course:         course,
		CourseInstance: courseInstance,

		Mode:       mode,
		ModeReason: modeReason,

		AuthnUser:            p.AuthnUser,
		AuthnIsAdministrator: p.IsAdministrator,
		AuthnCourse:          authnEval.course,
		AuthnInstance:        authnEval.instance,

		User:            effective,
		IsAdministrator: effectiveAdmin,
		CoursePerms:     effectiveEval.course,
		InstancePerms:   effectiveEval.instance,

		ActiveRule:   effectiveEval.active,
		VisibleRules: effectiveEval.visible,
	}, nil
}

type evalParams struct {
	user            users.User
	isAdministrator bool
	allowExample    bool
	course          courses.Course
	courseInstance  *courses.CourseInstance
	rules           []access.Rule
	mode            access.Mode
	date            time.Time
	ip              string

	courseRole         *CourseRole
	courseInstanceRole *CourseInstanceRole
}

type evaluation struct {
	course   CoursePermissions
	instance *InstancePermissions
	active   *access.Result
	visible  []access.Rule
}

// evaluate computes one subject's permission set. It is invoked once for
// the authn user and once for the effective user; the two invocations
// never share derived state.
func (b *Builder) evaluate(ctx context.Context, p evalParams) (evaluation, error) {
	roleName, err := b.courses.CourseRole(ctx, p.user.ID, p.course.ID)
	if err != nil {
		return evaluation{}, err
	}
	role := ParseCourseRole(roleName)
	if p.courseRole != nil {
		role = *p.courseRole
	}
	coursePerms := AggregateCourse(role, p.isAdministrator, p.course.ExampleCourse, p.allowExample)

	if p.courseInstance == nil {
		return evaluation{course: coursePerms}, nil
	}

	instanceRoleName, err := b.courses.CourseInstanceRole(ctx, p.user.ID, p.courseInstance.ID)
	if err != nil {
		return evaluation{}, err
	}
	instanceRole := ParseCourseInstanceRole(instanceRoleName)
	if p.courseInstanceRole != nil {
		instanceRole = *p.courseInstanceRole
	}
	instancePerms := AggregateCourseInstance(instanceRole, p.isAdministrator)

	enrollment, err := b.enrollments.FindEnrollment(ctx, p.user.ID, p.courseInstance.ID)
	if err != nil {
		return evaluation{}, err
	}

	req := access.Request{Date: p.date, Mode: p.mode, UID: p.user.UID, IP: p.ip}
	active := access.FirstMatch(p.rules, req)
	instancePerms.HasStudentAccess, instancePerms.HasStudentAccessWithEnrollment = StudentAccess(enrollment, active)

	return evaluation{
		course:   coursePerms,
		instance: &instancePerms,
		active:   active,
		visible:  access.MatchingOrFuture(p.rules, req),
	}, nil
}
