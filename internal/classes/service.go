// Package classes is the class and enrollment registry consumed by the
// attendance engine.
package classes

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/ctxlog"
	"geoattend/internal/geo"
)

// Repository persists classes and enrollments.
type Repository interface {
	CreateClass(ctx context.Context, c Class) (Class, error)
	GetClass(ctx context.Context, id string) (Class, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]Class, error)
	ListByStudent(ctx context.Context, studentID string) ([]Class, error)
	// Enroll inserts the pair unless it already exists and reports whether
	// a row was created.
	Enroll(ctx context.Context, e Enrollment) (bool, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

// Service validates registry operations before they reach the repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a registry service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New(), now: time.Now}
}

// CreateClass registers a class owned by in.TeacherID.
func (s *Service) CreateClass(ctx context.Context, in NewClass) (Class, error) {
	in.Name = strings.TrimSpace(in.Name)
	center := geo.Coordinate{Latitude: in.Latitude, Longitude: in.Longitude}
	if err := center.Validate(); err != nil {
		return Class{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Class{}, apperr.Wrap(apperr.KindBadRequest, err, "invalid class")
	}

	c, err := s.repo.CreateClass(ctx, Class{
		ID:           uuid.NewString(),
		TeacherID:    in.TeacherID,
		Name:         in.Name,
		Center:       center,
		RadiusMeters: in.RadiusMeters,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return Class{}, err
	}
	ctxlog.FromContext(ctx).Info("class created", "class_id", c.ID, "teacher_id", c.TeacherID, "radius_m", c.RadiusMeters)
	return c, nil
}

// GetClass returns the class or a not_found error.
func (s *Service) GetClass(ctx context.Context, id string) (Class, error) {
	return s.repo.GetClass(ctx, id)
}

// IsEnrolled reports whether the student belongs to the class.
func (s *Service) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	return s.repo.IsEnrolled(ctx, studentID, classID)
}

// Enroll adds the student to the class. Enrolling twice is not an error;
// created is false the second time.
func (s *Service) Enroll(ctx context.Context, studentID, classID string) (created bool, err error) {
	if studentID == "" {
		return false, apperr.New(apperr.KindBadRequest, "student id required")
	}
	if _, err := s.repo.GetClass(ctx, classID); err != nil {
		return false, err
	}
	created, err = s.repo.Enroll(ctx, Enrollment{
		StudentID:  studentID,
		ClassID:    classID,
		EnrolledAt: s.now().UTC(),
	})
	if err != nil {
		return false, err
	}
	if created {
		ctxlog.FromContext(ctx).Info("student enrolled", "class_id", classID, "student_id", studentID)
	}
	return created, nil
}

// ListForTeacher returns the classes a teacher owns.
func (s *Service) ListForTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	return s.repo.ListByTeacher(ctx, teacherID)
}

// ListForStudent returns the classes a student is enrolled in.
func (s *Service) ListForStudent(ctx context.Context, studentID string) ([]Class, error) {
	return s.repo.ListByStudent(ctx, studentID)
}
