package attendance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"geoattend/internal/apperr"
	"geoattend/internal/classes"
	"geoattend/internal/geo"
)

// SessionStatus is the stored lifecycle state of a session. Whether a
// session is active also depends on the clock; see Session.ActiveAt.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is a time-boxed attendance window for one class.
type Session struct {
	ID        string        `json:"id"`
	ClassID   string        `json:"class_id"`
	CreatedBy string        `json:"created_by"`
	Code      string        `json:"code"`
	StartsAt  time.Time     `json:"starts_at"`
	EndsAt    time.Time     `json:"ends_at"`
	Status    SessionStatus `json:"status"`
	ClosedAt  *time.Time    `json:"closed_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ActiveAt reports whether check-ins are accepted at now: the session is
// open and now falls in [StartsAt, EndsAt).
func (s Session) ActiveAt(now time.Time) bool {
	return s.Status == SessionOpen && !now.Before(s.StartsAt) && now.Before(s.EndsAt)
}

// BlocksStart reports whether s prevents another session for the same class
// from being started at now. Open sessions scheduled for later count.
func (s Session) BlocksStart(now time.Time) bool {
	return s.Status == SessionOpen && now.Before(s.EndsAt)
}

// RecordStatus is the outcome of one submission.
type RecordStatus string

const (
	StatusPresent                 RecordStatus = "present"
	StatusRejectedDuplicate       RecordStatus = "rejected_duplicate"
	StatusRejectedOutsideGeofence RecordStatus = "rejected_outside_geofence"
	StatusRejectedBadCode         RecordStatus = "rejected_bad_code"
	StatusRejectedSessionClosed   RecordStatus = "rejected_session_closed"
)

// rejectionStatus maps an engine error kind to its record status. Kinds
// without a record status (not_enrolled, invalid_coordinate) return "".
func rejectionStatus(kind apperr.Kind) RecordStatus {
	switch kind {
	case apperr.KindDuplicateSubmission:
		return StatusRejectedDuplicate
	case apperr.KindOutsideGeofence:
		return StatusRejectedOutsideGeofence
	case apperr.KindBadCode:
		return StatusRejectedBadCode
	case apperr.KindSessionClosed:
		return StatusRejectedSessionClosed
	}
	return ""
}

// DeviceSignature is client-reported device metadata. It is stored for
// audit and never consulted when accepting or rejecting a submission.
type DeviceSignature struct {
	UserAgent  string `json:"user_agent,omitempty"`
	ScreenSize string `json:"screen_size,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Language   string `json:"language,omitempty"`
	IPSubnet   string `json:"ip_subnet,omitempty"`
}

// Digest returns a stable SHA-256 fingerprint of the signature.
func (d DeviceSignature) Digest() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{d.UserAgent, d.ScreenSize, d.Timezone, d.Language, d.IPSubnet}, "|")))
	return hex.EncodeToString(sum[:])
}

// Record is a stored attendance mark.
type Record struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	StudentID      string          `json:"student_id"`
	Status         RecordStatus    `json:"status"`
	Coordinates    geo.Coordinate  `json:"coordinates"`
	DistanceMeters float64         `json:"distance_meters"`
	Device         DeviceSignature `json:"device"`
	DeviceHash     string          `json:"device_hash"`
	MarkedAt       time.Time       `json:"marked_at"`
}

// Attempt describes one submission outcome for the audit log.
type Attempt struct {
	SessionID      string       `json:"session_id"`
	StudentID      string       `json:"student_id"`
	Status         RecordStatus `json:"status,omitempty"`
	Reason         apperr.Kind  `json:"reason,omitempty"`
	RecordID       string       `json:"record_id,omitempty"`
	DistanceMeters *float64     `json:"distance_meters,omitempty"`
	DeviceHash     string       `json:"device_hash"`
	At             time.Time    `json:"at"`
}

// Registry is the read-only view of classes the core depends on.
type Registry interface {
	GetClass(ctx context.Context, id string) (classes.Class, error)
	IsEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

// EventSink receives submission attempts. Delivery is best effort.
type EventSink interface {
	PublishAttempt(ctx context.Context, a Attempt) error
}

type discardSink struct{}

func (discardSink) PublishAttempt(context.Context, Attempt) error { return nil }
