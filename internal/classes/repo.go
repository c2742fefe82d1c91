package classes

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"geoattend/internal/apperr"
)

// PGRepository persists the registry in Postgres.
type PGRepository struct {
	db *sql.DB
}

// NewPGRepository creates a repo.
func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const classColumns = `id, teacher_id, name, latitude, longitude, radius_meters, created_at`

func scanClass(row interface{ Scan(...any) error }) (Class, error) {
	var c Class
	err := row.Scan(&c.ID, &c.TeacherID, &c.Name, &c.Center.Latitude, &c.Center.Longitude, &c.RadiusMeters, &c.CreatedAt)
	return c, err
}

// CreateClass inserts c.
func (r *PGRepository) CreateClass(ctx context.Context, c Class) (Class, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classes (id, teacher_id, name, latitude, longitude, radius_meters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.TeacherID, c.Name, c.Center.Latitude, c.Center.Longitude, c.RadiusMeters, c.CreatedAt)
	if err != nil {
		return Class{}, errors.Wrap(err, "insert class")
	}
	return c, nil
}

// GetClass loads a class, mapping a missing row to not_found.
func (r *PGRepository) GetClass(ctx context.Context, id string) (Class, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes WHERE id = $1`, id)
	c, err := scanClass(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Class{}, apperr.New(apperr.KindNotFound, "class %s not found", id)
		}
		return Class{}, errors.Wrap(err, "get class")
	}
	return c, nil
}

// ListByTeacher returns the classes owned by teacherID, oldest first.
func (r *PGRepository) ListByTeacher(ctx context.Context, teacherID string) ([]Class, error) {
	return r.list(ctx, `SELECT `+classColumns+` FROM classes WHERE teacher_id = $1 ORDER BY created_at, id`, teacherID)
}

// ListByStudent returns the classes studentID is enrolled in.
func (r *PGRepository) ListByStudent(ctx context.Context, studentID string) ([]Class, error) {
	return r.list(ctx, `
		SELECT c.id, c.teacher_id, c.name, c.latitude, c.longitude, c.radius_meters, c.created_at
		FROM classes c
		JOIN enrollments e ON e.class_id = c.id
		WHERE e.student_id = $1
		ORDER BY c.created_at, c.id
	`, studentID)
}

func (r *PGRepository) list(ctx context.Context, query string, arg string) ([]Class, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "list classes")
	}
	defer rows.Close()
	var res []Class
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan class")
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Enroll inserts the enrollment; created is false when it already existed.
func (r *PGRepository) Enroll(ctx context.Context, e Enrollment) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, class_id, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id, class_id) DO NOTHING
	`, e.StudentID, e.ClassID, e.EnrolledAt)
	if err != nil {
		return false, errors.Wrap(err, "insert enrollment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "enrollment rows affected")
	}
	return n == 1, nil
}

// IsEnrolled reports whether the enrollment exists.
func (r *PGRepository) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND class_id = $2)
	`, studentID, classID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check enrollment")
	}
	return ok, nil
}
