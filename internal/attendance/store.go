package attendance

import (
	"context"
	"time"
)

// Store owns sessions and records. Implementations must make CreateSession
// and InsertPresent atomic with respect to their uniqueness rules.
type Store interface {
	// CreateSession inserts s unless the class already has a session that
	// blocks a start at now (see Session.BlocksStart), in which case it
	// returns session_already_open.
	CreateSession(ctx context.Context, s Session, now time.Time) (Session, error)
	// GetSession returns session_not_found for unknown ids.
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, classID string) ([]Session, error)
	// CloseSession moves an open session to closed. It returns
	// already_closed when the session is not open.
	CloseSession(ctx context.Context, id string, at time.Time) (Session, error)
	// ActiveSession returns the class session active at now, if any.
	ActiveSession(ctx context.Context, classID string, now time.Time) (Session, bool, error)

	HasPresent(ctx context.Context, sessionID, studentID string) (bool, error)
	// InsertPresent writes rec unless a present record already exists for
	// (rec.SessionID, rec.StudentID), in which case it returns
	// duplicate_submission and writes nothing.
	InsertPresent(ctx context.Context, rec Record) (Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
}
