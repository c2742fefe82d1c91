package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"geoattend/internal/classes"
	"geoattend/internal/geo"
)

var (
	bengaluru = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	// about 200m north of bengaluru
	twoHundredMetersAway = geo.Coordinate{Latitude: 12.9734, Longitude: 77.5946}
)

const (
	teacherID = "teacher-1"
	studentID = "student-1"
)

type recordingSink struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (s *recordingSink) PublishAttempt(_ context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, a)
	return nil
}

func (s *recordingSink) all() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.attempts...)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	registry *classes.Service
	store    Store
	mem      *MemoryStore
	sink     *recordingSink
	lc       *Lifecycle
	engine   *Engine
	class    classes.Class
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore wires the controllers over store, or over a fresh
// MemoryStore when store is nil.
func newFixtureWithStore(t *testing.T, store Store) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		registry: classes.NewService(classes.NewMemoryRepository()),
		mem:      NewMemoryStore(),
		sink:     &recordingSink{},
	}
	f.store = f.mem
	if store != nil {
		f.store = store
	}
	clock := func() time.Time { return f.now }
	f.lc = NewLifecycle(f.store, f.registry, 6)
	f.lc.now = clock
	f.engine = NewEngine(f.store, f.registry, f.sink)
	f.engine.now = clock
	f.class = f.newClass(teacherID, bengaluru, 50)
	f.enroll(studentID, f.class.ID)
	return f
}

func (f *fixture) newClass(teacher string, center geo.Coordinate, radius float64) classes.Class {
	f.t.Helper()
	c, err := f.registry.CreateClass(f.ctx, classes.NewClass{
		TeacherID:    teacher,
		Name:         "Physics",
		Latitude:     center.Latitude,
		Longitude:    center.Longitude,
		RadiusMeters: radius,
	})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) enroll(student, classID string) {
	f.t.Helper()
	_, err := f.registry.Enroll(f.ctx, student, classID)
	require.NoError(f.t, err)
}

// openSession starts a session on classID with window now±1h.
func (f *fixture) openSession(classID, code string) Session {
	f.t.Helper()
	s, err := f.lc.StartSession(f.ctx, StartRequest{
		ClassID:     classID,
		Code:        code,
		StartsAt:    f.now.Add(-time.Hour),
		EndsAt:      f.now.Add(time.Hour),
		RequestedBy: teacherID,
	})
	require.NoError(f.t, err)
	return s
}

func (f *fixture) submission(sessionID, code string, at geo.Coordinate) Submission {
	return Submission{
		StudentID:   studentID,
		SessionID:   sessionID,
		Code:        code,
		Coordinates: at,
		Device: DeviceSignature{
			UserAgent:  "Mozilla/5.0",
			ScreenSize: "1920x1080",
			Timezone:   "Asia/Kolkata",
			Language:   "en-IN",
			IPSubnet:   "web",
		},
	}
}
