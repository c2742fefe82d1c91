package classes

import (
	"time"

	"geoattend/internal/geo"
)

// Class is a teacher-owned course with a fixed circular geofence.
type Class struct {
	ID           string         `json:"id"`
	TeacherID    string         `json:"teacher_id"`
	Name         string         `json:"name"`
	Center       geo.Coordinate `json:"center"`
	RadiusMeters float64        `json:"radius_meters"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Enrollment links a student to a class. A pair exists at most once.
type Enrollment struct {
	StudentID  string    `json:"student_id"`
	ClassID    string    `json:"class_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// NewClass is the input for CreateClass.
type NewClass struct {
	TeacherID    string  `validate:"required"`
	Name         string  `validate:"required,max=150"`
	Latitude     float64 `validate:"gte=-90,lte=90"`
	Longitude    float64 `validate:"gte=-180,lte=180"`
	RadiusMeters float64 `validate:"gt=0"`
}
