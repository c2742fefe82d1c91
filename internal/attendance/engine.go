package attendance

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/apperr"
	"geoattend/internal/ctxlog"
	"geoattend/internal/geo"
	"geoattend/internal/metrics"
)

// Submission is one student check-in attempt. StudentID comes from the
// authenticated caller, never from the request body.
type Submission struct {
	StudentID   string
	SessionID   string
	Code        string
	Coordinates geo.Coordinate
	Device      DeviceSignature
}

// Result describes an accepted check-in.
type Result struct {
	RecordID       string    `json:"record_id"`
	MarkedAt       time.Time `json:"marked_at"`
	DistanceMeters float64   `json:"distance_meters"`
}

// Engine verifies submissions and records present marks.
//
// Checks run in a fixed order and stop at the first failure:
// session active, student enrolled, code match, no prior present record,
// inside geofence. Rejections return an error and write nothing; every
// outcome on an existing session is published to the EventSink.
type Engine struct {
	store    Store
	registry Registry
	events   EventSink
	now      func() time.Time
}

// NewEngine creates an engine. A nil sink discards attempts.
func NewEngine(store Store, registry Registry, events EventSink) *Engine {
	if events == nil {
		events = discardSink{}
	}
	return &Engine{store: store, registry: registry, events: events, now: time.Now}
}

// Submit validates sub and, when every check passes, writes exactly one
// present record.
func (e *Engine) Submit(ctx context.Context, sub Submission) (Result, error) {
	now := e.now().UTC()
	logger := ctxlog.FromContext(ctx).With("session_id", sub.SessionID, "student_id", sub.StudentID)
	attempt := Attempt{
		SessionID:  sub.SessionID,
		StudentID:  sub.StudentID,
		DeviceHash: sub.Device.Digest(),
		At:         now,
	}

	sess, err := e.store.GetSession(ctx, sub.SessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrSessionNotFound) {
			metrics.Submissions.WithLabelValues(string(apperr.KindSessionClosed)).Inc()
			logger.Info("submission rejected", "reason", apperr.KindSessionClosed, "detail", "unknown session")
			return Result{}, apperr.New(apperr.KindSessionClosed, "attendance session not found or inactive")
		}
		return Result{}, err
	}
	if !sess.ActiveAt(now) {
		return Result{}, e.reject(ctx, attempt, apperr.ErrSessionClosed)
	}

	enrolled, err := e.registry.IsEnrolled(ctx, sub.StudentID, sess.ClassID)
	if err != nil {
		return Result{}, err
	}
	if !enrolled {
		return Result{}, e.reject(ctx, attempt, apperr.ErrNotEnrolled)
	}

	if subtle.ConstantTimeCompare([]byte(sub.Code), []byte(sess.Code)) != 1 {
		return Result{}, e.reject(ctx, attempt, apperr.ErrBadCode)
	}

	dup, err := e.store.HasPresent(ctx, sess.ID, sub.StudentID)
	if err != nil {
		return Result{}, err
	}
	if dup {
		return Result{}, e.reject(ctx, attempt, apperr.ErrDuplicateSubmission)
	}

	class, err := e.registry.GetClass(ctx, sess.ClassID)
	if err != nil {
		return Result{}, err
	}
	inside, dist, err := geo.Within(sub.Coordinates, class.Center, class.RadiusMeters)
	if err != nil {
		return Result{}, e.reject(ctx, attempt, err)
	}
	attempt.DistanceMeters = &dist
	if !inside {
		return Result{}, e.reject(ctx, attempt, apperr.New(apperr.KindOutsideGeofence,
			"you are %.1fm from the class, allowed radius is %.1fm", dist, class.RadiusMeters))
	}

	rec, err := e.store.InsertPresent(ctx, Record{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		StudentID:      sub.StudentID,
		Status:         StatusPresent,
		Coordinates:    sub.Coordinates,
		DistanceMeters: dist,
		Device:         sub.Device,
		DeviceHash:     attempt.DeviceHash,
		MarkedAt:       now,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateSubmission) {
			// lost the race against a concurrent submission for the same pair
			return Result{}, e.reject(ctx, attempt, err)
		}
		return Result{}, err
	}

	attempt.Status = StatusPresent
	attempt.RecordID = rec.ID
	metrics.Submissions.WithLabelValues(string(StatusPresent)).Inc()
	e.publish(ctx, attempt)
	logger.Info("attendance marked", "record_id", rec.ID, "distance_m", dist)

	return Result{RecordID: rec.ID, MarkedAt: rec.MarkedAt, DistanceMeters: dist}, nil
}

func (e *Engine) reject(ctx context.Context, a Attempt, err error) error {
	kind := apperr.KindOf(err)
	a.Reason = kind
	a.Status = rejectionStatus(kind)
	metrics.Submissions.WithLabelValues(string(kind)).Inc()
	e.publish(ctx, a)
	ctxlog.FromContext(ctx).Info("submission rejected",
		"session_id", a.SessionID, "student_id", a.StudentID, "reason", kind)
	return err
}

func (e *Engine) publish(ctx context.Context, a Attempt) {
	if err := e.events.PublishAttempt(ctx, a); err != nil {
		ctxlog.FromContext(ctx).Warn("audit publish failed", "session_id", a.SessionID, "err", err)
	}
}
