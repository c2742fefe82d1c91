package attendance

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/ctxlog"
	"geoattend/internal/keylock"
	"geoattend/internal/metrics"
)

const (
	// MaxCodeLength bounds teacher-chosen codes.
	MaxCodeLength     = 20
	defaultCodeLength = 6
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// StartRequest opens a session.
type StartRequest struct {
	ClassID     string
	Code        string
	StartsAt    time.Time
	EndsAt      time.Time
	RequestedBy string
}

// Lifecycle opens and closes sessions and answers "which session is active".
type Lifecycle struct {
	store      Store
	registry   Registry
	guard      *keylock.Locker
	codeLength int
	now        func() time.Time
}

// NewLifecycle creates a controller. codeLength applies to generated codes.
func NewLifecycle(store Store, registry Registry, codeLength int) *Lifecycle {
	if codeLength <= 0 || codeLength > MaxCodeLength {
		codeLength = defaultCodeLength
	}
	return &Lifecycle{
		store:      store,
		registry:   registry,
		guard:      keylock.New(),
		codeLength: codeLength,
		now:        time.Now,
	}
}

// StartSession opens a session for the class. Concurrent starts for one
// class are serialized; at most one succeeds while a blocking session exists.
func (l *Lifecycle) StartSession(ctx context.Context, req StartRequest) (Session, error) {
	class, err := l.registry.GetClass(ctx, req.ClassID)
	if err != nil {
		return Session{}, err
	}
	if class.TeacherID != req.RequestedBy {
		return Session{}, apperr.ErrNotOwner
	}
	if !req.EndsAt.After(req.StartsAt) {
		return Session{}, apperr.ErrInvalidWindow
	}

	code := req.Code
	if strings.TrimSpace(code) == "" {
		if code, err = generateCode(l.codeLength); err != nil {
			return Session{}, apperr.Wrap(apperr.KindInternal, err, "generate code")
		}
	}
	if len(code) > MaxCodeLength {
		return Session{}, apperr.New(apperr.KindBadRequest, "code longer than %d characters", MaxCodeLength)
	}

	unlock := l.guard.Lock(req.ClassID)
	defer unlock()

	now := l.now().UTC()
	sess, err := l.store.CreateSession(ctx, Session{
		ID:        uuid.NewString(),
		ClassID:   req.ClassID,
		CreatedBy: req.RequestedBy,
		Code:      code,
		StartsAt:  req.StartsAt.UTC(),
		EndsAt:    req.EndsAt.UTC(),
		Status:    SessionOpen,
		CreatedAt: now,
	}, now)
	if err != nil {
		return Session{}, err
	}

	metrics.SessionsStarted.Inc()
	ctxlog.FromContext(ctx).Info("attendance session started",
		"session_id", sess.ID, "class_id", sess.ClassID, "starts_at", sess.StartsAt, "ends_at", sess.EndsAt)
	return sess, nil
}

// EndSession closes the session. Closing a closed session is already_closed.
// Existing records are left untouched.
func (l *Lifecycle) EndSession(ctx context.Context, sessionID, requestedBy string) error {
	sess, err := l.OwnedSession(ctx, sessionID, requestedBy)
	if err != nil {
		return err
	}
	if sess.Status != SessionOpen {
		return apperr.ErrAlreadyClosed
	}
	if _, err := l.store.CloseSession(ctx, sessionID, l.now().UTC()); err != nil {
		return err
	}
	metrics.SessionsEnded.Inc()
	ctxlog.FromContext(ctx).Info("attendance session ended", "session_id", sessionID, "class_id", sess.ClassID)
	return nil
}

// ActiveSession returns the class session accepting check-ins right now.
// Expiry is evaluated here against the clock; nothing closes sessions in
// the background.
func (l *Lifecycle) ActiveSession(ctx context.Context, classID string) (Session, bool, error) {
	return l.store.ActiveSession(ctx, classID, l.now().UTC())
}

// OwnedSession loads a session after checking requestedBy teaches its class.
func (l *Lifecycle) OwnedSession(ctx context.Context, sessionID, requestedBy string) (Session, error) {
	sess, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	class, err := l.registry.GetClass(ctx, sess.ClassID)
	if err != nil {
		return Session{}, err
	}
	if class.TeacherID != requestedBy {
		return Session{}, apperr.ErrNotOwner
	}
	return sess, nil
}

// Records returns every record of a session for its class teacher.
func (l *Lifecycle) Records(ctx context.Context, sessionID, requestedBy string) ([]Record, error) {
	if _, err := l.OwnedSession(ctx, sessionID, requestedBy); err != nil {
		return nil, err
	}
	return l.store.ListRecords(ctx, sessionID)
}

// Sessions lists a class's session history, newest first.
func (l *Lifecycle) Sessions(ctx context.Context, classID, requestedBy string) ([]Session, error) {
	class, err := l.registry.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.TeacherID != requestedBy {
		return nil, apperr.ErrNotOwner
	}
	return l.store.ListSessions(ctx, classID)
}

func generateCode(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
