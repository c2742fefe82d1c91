package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"geoattend/internal/apperr"
)

// Repository persists sessions and records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, class_id, created_by, code, starts_at, ends_at, status, closed_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s        Session
		closedAt sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ClassID, &s.CreatedBy, &s.Code, &s.StartsAt, &s.EndsAt, &s.Status, &closedAt, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	return s, nil
}

// CreateSession holds a transaction-scoped advisory lock on the class while
// it checks for a blocking session, so concurrent starts across API
// instances serialize.
func (r *Repository) CreateSession(ctx context.Context, s Session, now time.Time) (Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, errors.Wrap(err, "begin create session")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, s.ClassID); err != nil {
		return Session{}, errors.Wrap(err, "lock class")
	}

	var blocked bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_sessions
			WHERE class_id = $1 AND status = 'open' AND ends_at > $2
		)
	`, s.ClassID, now).Scan(&blocked); err != nil {
		return Session{}, errors.Wrap(err, "check open session")
	}
	if blocked {
		return Session{}, apperr.ErrSessionAlreadyOpen
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, class_id, created_by, code, starts_at, ends_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.ClassID, s.CreatedBy, s.Code, s.StartsAt, s.EndsAt, s.Status, s.CreatedAt); err != nil {
		return Session{}, errors.Wrap(err, "insert session")
	}
	if err := tx.Commit(); err != nil {
		return Session{}, errors.Wrap(err, "commit session")
	}
	return s, nil
}

// GetSession loads one session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.ErrSessionNotFound
		}
		return Session{}, errors.Wrap(err, "get session")
	}
	return s, nil
}

// ListSessions returns the class sessions, latest start first.
func (r *Repository) ListSessions(ctx context.Context, classID string) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE class_id = $1
		ORDER BY starts_at DESC
	`, classID)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CloseSession flips an open session to closed in a single UPDATE.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions
		SET status = 'closed', closed_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING `+sessionColumns, id, at)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, errors.Wrap(err, "close session")
	}
	// nothing updated: either unknown or already closed
	if _, err := r.GetSession(ctx, id); err != nil {
		return Session{}, err
	}
	return Session{}, apperr.ErrAlreadyClosed
}

// ActiveSession returns the class session whose window contains now.
func (r *Repository) ActiveSession(ctx context.Context, classID string, now time.Time) (Session, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions
		WHERE class_id = $1 AND status = 'open' AND starts_at <= $2 AND ends_at > $2
		ORDER BY starts_at DESC
		LIMIT 1
	`, classID, now)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, errors.Wrap(err, "active session")
	}
	return s, true, nil
}

// HasPresent reports whether a present record exists for the pair.
func (r *Repository) HasPresent(ctx context.Context, sessionID, studentID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE session_id = $1 AND student_id = $2 AND status = 'present'
		)
	`, sessionID, studentID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check present record")
	}
	return ok, nil
}

// InsertPresent relies on the partial unique index over present records;
// a conflicting insert returns no row.
func (r *Repository) InsertPresent(ctx context.Context, rec Record) (Record, error) {
	rec.Status = StatusPresent
	device, err := json.Marshal(rec.Device)
	if err != nil {
		return Record{}, errors.Wrap(err, "encode device signature")
	}
	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, session_id, student_id, status, latitude, longitude, distance_m, device, device_hash, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id, student_id) WHERE status = 'present' DO NOTHING
		RETURNING id
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Coordinates.Latitude, rec.Coordinates.Longitude,
		rec.DistanceMeters, device, rec.DeviceHash, rec.MarkedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, apperr.ErrDuplicateSubmission
		}
		return Record{}, errors.Wrap(err, "insert record")
	}
	return rec, nil
}

// ListRecords returns the session records ordered by mark time.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, status, latitude, longitude, distance_m, device, device_hash, marked_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY marked_at, id
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var (
			rec    Record
			device []byte
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Status, &rec.Coordinates.Latitude,
			&rec.Coordinates.Longitude, &rec.DistanceMeters, &device, &rec.DeviceHash, &rec.MarkedAt); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		if len(device) > 0 {
			if err := json.Unmarshal(device, &rec.Device); err != nil {
				return nil, errors.Wrap(err, "decode device signature")
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
