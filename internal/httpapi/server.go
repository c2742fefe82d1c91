package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/audit"
	"geoattend/internal/auth"
	"geoattend/internal/classes"
	"geoattend/internal/geo"
)

const defaultAttemptLimit = 100

// Server holds the handlers' dependencies.
type Server struct {
	classes   *classes.Service
	lifecycle *attendance.Lifecycle
	engine    *attendance.Engine
	attempts  audit.Log
	loc       *time.Location
}

// NewServer wires the handlers. loc is used for timestamps without an offset.
func NewServer(cls *classes.Service, lc *attendance.Lifecycle, engine *attendance.Engine, attempts audit.Log, loc *time.Location) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{classes: cls, lifecycle: lc, engine: engine, attempts: attempts, loc: loc}
}

// Mount registers the API routes on g, which must already authenticate.
func (s *Server) Mount(g *gin.RouterGroup) {
	teacher := auth.RequireRole(auth.RoleTeacher)
	student := auth.RequireRole(auth.RoleStudent)

	g.POST("/classes", teacher, s.createClass)
	g.GET("/classes", s.listClasses)
	g.POST("/classes/:id/enroll", student, s.enroll)
	g.GET("/classes/:id/sessions", teacher, s.listSessions)

	g.POST("/attendance/start", teacher, s.startSession)
	g.POST("/attendance/end", teacher, s.endSession)
	g.GET("/attendance/active", s.activeSession)
	g.POST("/attendance/submit", student, s.submit)
	g.GET("/attendance/sessions/:id/records", teacher, s.records)
	g.GET("/attendance/sessions/:id/attempts", teacher, s.attemptLog)
}

func caller(c *gin.Context) auth.Claims {
	claims, _ := auth.FromGin(c)
	return claims
}

type createClassRequest struct {
	Name         string   `json:"name" binding:"required"`
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	RadiusMeters float64  `json:"radius_meters"`
}

func (s *Server) createClass(c *gin.Context) {
	var req createClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	class, err := s.classes.CreateClass(c.Request.Context(), classes.NewClass{
		TeacherID:    caller(c).Subject,
		Name:         req.Name,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		RadiusMeters: req.RadiusMeters,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"class_id": class.ID, "class": class})
}

func (s *Server) listClasses(c *gin.Context) {
	who := caller(c)
	var (
		list []classes.Class
		err  error
	)
	if who.Role == auth.RoleTeacher {
		list, err = s.classes.ListForTeacher(c.Request.Context(), who.Subject)
	} else {
		list, err = s.classes.ListForStudent(c.Request.Context(), who.Subject)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []classes.Class{}
	}
	c.JSON(http.StatusOK, gin.H{"classes": list})
}

func (s *Server) enroll(c *gin.Context) {
	classID := c.Param("id")
	studentID := caller(c).Subject
	created, err := s.classes.Enroll(c.Request.Context(), studentID, classID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"class_id": classID, "student_id": studentID, "created": created})
}

// sessionSummary is the public view of a session. Code is only filled in
// for the class teacher.
type sessionSummary struct {
	SessionID string                   `json:"session_id"`
	ClassID   string                   `json:"class_id"`
	StartsAt  time.Time                `json:"starts_at"`
	EndsAt    time.Time                `json:"ends_at"`
	Status    attendance.SessionStatus `json:"status"`
	ClosedAt  *time.Time               `json:"closed_at,omitempty"`
	Code      string                   `json:"code,omitempty"`
}

func summarize(sess attendance.Session, withCode bool) sessionSummary {
	out := sessionSummary{
		SessionID: sess.ID,
		ClassID:   sess.ClassID,
		StartsAt:  sess.StartsAt,
		EndsAt:    sess.EndsAt,
		Status:    sess.Status,
		ClosedAt:  sess.ClosedAt,
	}
	if withCode {
		out.Code = sess.Code
	}
	return out
}

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.lifecycle.Sessions(c.Request.Context(), c.Param("id"), caller(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]sessionSummary, 0, len(list))
	for _, sess := range list {
		out = append(out, summarize(sess, true))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

type startRequest struct {
	ClassID  string `json:"class_id" binding:"required"`
	Code     string `json:"code"`
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	startsAt, err := parseTimestamp("starts_at", req.StartsAt, s.loc)
	if err != nil {
		writeError(c, err)
		return
	}
	endsAt, err := parseTimestamp("ends_at", req.EndsAt, s.loc)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := s.lifecycle.StartSession(c.Request.Context(), attendance.StartRequest{
		ClassID:     req.ClassID,
		Code:        req.Code,
		StartsAt:    startsAt,
		EndsAt:      endsAt,
		RequestedBy: caller(c).Subject,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":    "Attendance session started",
		"session_id": sess.ID,
		"code":       sess.Code,
		"starts_at":  sess.StartsAt,
		"ends_at":    sess.EndsAt,
	})
}

type endRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (s *Server) endSession(c *gin.Context) {
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := s.lifecycle.EndSession(c.Request.Context(), req.SessionID, caller(c).Subject); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) activeSession(c *gin.Context) {
	classID := c.Query("class_id")
	if classID == "" {
		writeError(c, badRequestf("class_id query parameter required"))
		return
	}
	class, err := s.classes.GetClass(c.Request.Context(), classID)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, ok, err := s.lifecycle.ActiveSession(c.Request.Context(), classID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": summarize(sess, class.TeacherID == caller(c).Subject)})
}

type submitRequest struct {
	SessionID  string                     `json:"session_id" binding:"required"`
	Latitude   *float64                   `json:"latitude" binding:"required"`
	Longitude  *float64                   `json:"longitude" binding:"required"`
	Code       string                     `json:"code"`
	DeviceInfo attendance.DeviceSignature `json:"device_info"`
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	res, err := s.engine.Submit(c.Request.Context(), attendance.Submission{
		StudentID:   caller(c).Subject,
		SessionID:   req.SessionID,
		Code:        req.Code,
		Coordinates: geo.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Device:      req.DeviceInfo,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":         "Attendance recorded successfully",
		"record_id":       res.RecordID,
		"marked_at":       res.MarkedAt,
		"distance_meters": res.DistanceMeters,
	})
}

type recordView struct {
	ID             string                  `json:"id"`
	StudentID      string                  `json:"student_id"`
	Status         attendance.RecordStatus `json:"status"`
	DistanceMeters float64                 `json:"distance_meters"`
	DeviceHash     string                  `json:"device_hash"`
	MarkedAt       time.Time               `json:"marked_at"`
}

func (s *Server) records(c *gin.Context) {
	sessionID := c.Param("id")
	list, err := s.lifecycle.Records(c.Request.Context(), sessionID, caller(c).Subject)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]recordView, 0, len(list))
	for _, r := range list {
		out = append(out, recordView{
			ID:             r.ID,
			StudentID:      r.StudentID,
			Status:         r.Status,
			DistanceMeters: r.DistanceMeters,
			DeviceHash:     r.DeviceHash,
			MarkedAt:       r.MarkedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "count": len(out), "records": out})
}

func (s *Server) attemptLog(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.lifecycle.OwnedSession(c.Request.Context(), sessionID, caller(c).Subject); err != nil {
		writeError(c, err)
		return
	}
	limit := defaultAttemptLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(c, badRequestf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	list, err := s.attempts.List(c.Request.Context(), sessionID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []attendance.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "attempts": list})
}
