// Package eventlog records teacher interactions without ever slowing them down.
package eventlog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action kinds used by the scoring interface.
const (
	KindClick       = "click"
	KindWhyClick    = "why_click"
	KindScoreChange = "score_change"
	KindNavigate    = "navigate"
	KindUpload      = "upload"
	KindSubmit      = "submit"
)

// Action is one logged interaction.
type Action struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Kind       string         `json:"kind"`
	Label      string         `json:"label"`
	Attributes map[string]any `json:"attributes,omitempty"`
	At         time.Time      `json:"at"`
}

// StudentID returns the "student_id" attribute, or -1 if there is none.
func (a Action) StudentID() int {
	switch v := a.Attributes["student_id"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return int(n)
		}
	case string:
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return -1
}

// Sink stores actions.
type Sink interface {
	Write(ctx context.Context, a Action) error
}

// SlogSink writes actions to the structured log at Level.
type SlogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (s SlogSink) Write(ctx context.Context, a Action) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Log(ctx, s.Level, "user action",
		"id", a.ID,
		"session_id", a.SessionID,
		"kind", a.Kind,
		"label", a.Label,
		"attributes", a.Attributes,
		"at", a.At,
	)
	return nil
}

// Multi fans an action out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, a Action) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("write action %s: %w", a.ID, err)
	}
	return nil
}

// Logger delivers actions to a sink from a single background goroutine.
// Log never blocks; when the buffer is full the action is dropped.
type Logger struct {
	sink    Sink
	queue   chan Action
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewLogger starts a logger with the given buffer size.
func NewLogger(sink Sink, buffer int) *Logger {
	l := &Logger{
		sink:    sink,
		queue:   make(chan Action, buffer),
		timeout: 5 * time.Second,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Log queues an action. Missing ID and timestamp are filled in.
func (l *Logger) Log(sessionID, kind, label string, attrs map[string]any) {
	a := Action{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Kind:       kind,
		Label:      label,
		Attributes: attrs,
		At:         l.now(),
	}
	l.Enqueue(a)
}

// Enqueue queues a prepared action.
func (l *Logger) Enqueue(a Action) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = l.now()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		slog.Debug("action dropped after close", "kind", a.Kind)
		return
	}
	select {
	case l.queue <- a:
	default:
		slog.Debug("action dropped, queue full", "kind", a.Kind, "label", a.Label)
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for a := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if err := l.sink.Write(ctx, a); err != nil {
			slog.Debug("failed to log action", "kind", a.Kind, "label", a.Label, "error", err)
		}
		cancel()
	}
}

// Close stops accepting actions and waits until queued ones are written.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

// WriteCSV writes actions in the analytics download layout.
func WriteCSV(w io.Writer, actions []Action) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Timestamp", "Student ID", "Event Type", "Details"}); err != nil {
		return err
	}
	for _, a := range actions {
		sid := ""
		if id := a.StudentID(); id >= 0 {
			sid = strconv.Itoa(id)
		}
		if err := cw.Write([]string{a.At.UTC().Format(time.RFC3339), sid, a.Kind, a.Label}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
