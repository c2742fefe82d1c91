// Package audit ships submission attempts through the queue into a capped
// per-session attempt log.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"geoattend/internal/attendance"
	"geoattend/internal/ctxlog"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

// MessageType tags attempt messages on the queue.
const MessageType = "attempt"

// QueueSink publishes attempts to a queue. It implements attendance.EventSink.
type QueueSink struct {
	q queue.Queue
}

// NewQueueSink wraps q.
func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

func (s *QueueSink) PublishAttempt(ctx context.Context, a attendance.Attempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode attempt")
	}
	return s.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Log stores the most recent attempts per session, newest first.
type Log interface {
	Append(ctx context.Context, a attendance.Attempt) error
	List(ctx context.Context, sessionID string, limit int) ([]attendance.Attempt, error)
}

// Run consumes attempt messages from q into log until ctx is done.
func Run(ctx context.Context, q queue.Queue, log Log) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume attempts")
	}
	logger := ctxlog.FromContext(ctx)
	for msg := range msgs {
		if msg.Type != MessageType {
			continue
		}
		var a attendance.Attempt
		if err := json.Unmarshal(msg.Body, &a); err != nil {
			metrics.AttemptsLogged.WithLabelValues("malformed").Inc()
			logger.Warn("dropping malformed attempt", "err", err)
			continue
		}
		if err := log.Append(ctx, a); err != nil {
			metrics.AttemptsLogged.WithLabelValues("error").Inc()
			logger.Error("append attempt failed", "session_id", a.SessionID, "err", err)
			continue
		}
		metrics.AttemptsLogged.WithLabelValues("ok").Inc()
		logger.Debug("attempt logged", "session_id", a.SessionID, "student_id", a.StudentID, "status", a.Status, "reason", a.Reason)
	}
	return nil
}

// RedisLog keeps each session's attempts in a capped Redis list.
type RedisLog struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
}

// NewRedisLog keeps at most size attempts per session for ttl after the
// latest append.
func NewRedisLog(client *redis.Client, size int, ttl time.Duration) *RedisLog {
	if size <= 0 {
		size = 500
	}
	return &RedisLog{client: client, size: int64(size), ttl: ttl}
}

func attemptsKey(sessionID string) string { return "attendance:attempts:" + sessionID }

func (l *RedisLog) Append(ctx context.Context, a attendance.Attempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode attempt")
	}
	key := attemptsKey(a.SessionID)
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, body)
	pipe.LTrim(ctx, key, 0, l.size-1)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "append attempt")
}

func (l *RedisLog) List(ctx context.Context, sessionID string, limit int) ([]attendance.Attempt, error) {
	if limit <= 0 || int64(limit) > l.size {
		limit = int(l.size)
	}
	raw, err := l.client.LRange(ctx, attemptsKey(sessionID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list attempts")
	}
	out := make([]attendance.Attempt, 0, len(raw))
	for _, s := range raw {
		var a attendance.Attempt
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// MemoryLog is the in-process Log.
type MemoryLog struct {
	mu   sync.RWMutex
	size int
	data map[string][]attendance.Attempt
}

// NewMemoryLog keeps at most size attempts per session.
func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = 500
	}
	return &MemoryLog{size: size, data: make(map[string][]attendance.Attempt)}
}

func (l *MemoryLog) Append(_ context.Context, a attendance.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append([]attendance.Attempt{a}, l.data[a.SessionID]...)
	if len(list) > l.size {
		list = list[:l.size]
	}
	l.data[a.SessionID] = list
	return nil
}

func (l *MemoryLog) List(_ context.Context, sessionID string, limit int) ([]attendance.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	list := l.data[sessionID]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return append([]attendance.Attempt(nil), list...), nil
}
