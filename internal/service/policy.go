package service

import (
	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
)

// Policy centralizes ownership and role checks so handlers and services
// share one set of access rules.
type Policy struct{}

// NewPolicy constructs the policy helper.
func NewPolicy() *Policy {
	return &Policy{}
}

// CanManageCourse allows admins and the owning instructor to mutate a course
// and its lectures.
func (p *Policy) CanManageCourse(claims *models.JWTClaims, course *models.Course) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleAdmin {
		return nil
	}
	if claims.Role == models.RoleInstructor && course.InstructorID == claims.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another instructor")
}

// CanViewEnrollment allows admins, the enrolled student and the instructor
// owning the course to read enrollment state.
func (p *Policy) CanViewEnrollment(claims *models.JWTClaims, enrollment *models.Enrollment, course *models.Course) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if enrollment.StudentID == claims.UserID {
			return nil
		}
	case models.RoleInstructor:
		if course != nil && course.InstructorID == claims.UserID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "enrollment belongs to another student")
}

// CanProgressEnrollment allows only the enrolled student to record progress
// or rate the course.
func (p *Policy) CanProgressEnrollment(claims *models.JWTClaims, enrollment *models.Enrollment) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent && enrollment.StudentID == claims.UserID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the enrolled student can do this")
}
