package classes

import (
	"context"
	"sort"
	"sync"

	"geoattend/internal/apperr"
)

// MemoryRepository keeps classes and enrollments in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	classes     map[string]Class
	enrollments map[enrollmentKey]Enrollment
}

type enrollmentKey struct {
	studentID string
	classID   string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		classes:     make(map[string]Class),
		enrollments: make(map[enrollmentKey]Enrollment),
	}
}

// CreateClass stores c.
func (r *MemoryRepository) CreateClass(_ context.Context, c Class) (Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[c.ID]; ok {
		return Class{}, apperr.New(apperr.KindBadRequest, "class %s already exists", c.ID)
	}
	r.classes[c.ID] = c
	return c, nil
}

// GetClass returns the class or not_found.
func (r *MemoryRepository) GetClass(_ context.Context, id string) (Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[id]
	if !ok {
		return Class{}, apperr.New(apperr.KindNotFound, "class %s not found", id)
	}
	return c, nil
}

// ListByTeacher returns the classes owned by teacherID, oldest first.
func (r *MemoryRepository) ListByTeacher(_ context.Context, teacherID string) ([]Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Class
	for _, c := range r.classes {
		if c.TeacherID == teacherID {
			out = append(out, c)
		}
	}
	sortClasses(out)
	return out, nil
}

// ListByStudent returns the classes studentID is enrolled in.
func (r *MemoryRepository) ListByStudent(_ context.Context, studentID string) ([]Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Class
	for k := range r.enrollments {
		if k.studentID != studentID {
			continue
		}
		if c, ok := r.classes[k.classID]; ok {
			out = append(out, c)
		}
	}
	sortClasses(out)
	return out, nil
}

// Enroll records e and reports whether it was new.
func (r *MemoryRepository) Enroll(_ context.Context, e Enrollment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := enrollmentKey{studentID: e.StudentID, classID: e.ClassID}
	if _, ok := r.enrollments[k]; ok {
		return false, nil
	}
	r.enrollments[k] = e
	return true, nil
}

// IsEnrolled reports whether the enrollment exists.
func (r *MemoryRepository) IsEnrolled(_ context.Context, studentID, classID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.enrollments[enrollmentKey{studentID: studentID, classID: classID}]
	return ok, nil
}

func sortClasses(cs []Class) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}
