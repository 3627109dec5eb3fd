package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlanCreated          EventType = "plan_created"
	EventTypePlanFinished         EventType = "plan_finished"
	EventTypePlanSuspended        EventType = "plan_suspended"
	EventTypeBatch                EventType = "batch"
	EventTypeActionStarted        EventType = "action_started"
	EventTypeActionCompleted      EventType = "action_completed"
	EventTypeActionRetry          EventType = "action_retry"
	EventTypeActionFailed         EventType = "action_failed"
	EventTypeActionCancelled      EventType = "action_cancelled"
	EventTypeConfirmationRequest  EventType = "confirmation_requested"
	EventTypeConfirmationResolved EventType = "confirmation_resolved"
	EventTypeHeartbeat            EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	PlanID    string    `json:"plan_id,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. Every event goes to out; plan-level
// events are also appended to a rotating JSONL file when FilePath is set.
type Logger struct {
	mu       sync.Mutex
	out      io.Writer
	filePath string
	maxSize  int64
}

// NewLogger logs to stdout and logs/events.jsonl.
func NewLogger() *Logger {
	return &Logger{
		out:      os.Stdout,
		filePath: filepath.Join("logs", "events.jsonl"),
		maxSize:  10 * 1024 * 1024, // 10MB
	}
}

// NewFileLogger logs to w and appends plan-level events to path. An empty
// path disables the file.
func NewFileLogger(w io.Writer, path string) *Logger {
	return &Logger{out: w, filePath: path, maxSize: 10 * 1024 * 1024}
}

// NewWriterLogger logs to w only. Tests pass io.Discard or a buffer.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: w}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": \"failed to marshal event: %v\"}", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if l.filePath != "" && isPlanLevel(evt.Type) {
		l.writeToFile(data)
	}
}

func isPlanLevel(t EventType) bool {
	switch t {
	case EventTypePlanCreated, EventTypePlanFinished, EventTypePlanSuspended,
		EventTypeConfirmationRequest, EventTypeConfirmationResolved:
		return true
	default:
		return false
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.filePath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.filePath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.filePath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.filePath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(t EventType, planID, userID string, data any) {
	l.Log(Event{
		Type:   t,
		PlanID: planID,
		UserID: userID,
		Data:   data,
	})
}

func (l *Logger) LogAction(t EventType, planID, actionID string, data any) {
	l.Log(Event{
		Type:     t,
		PlanID:   planID,
		ActionID: actionID,
		Data:     data,
	})
}

func (l *Logger) LogHeartbeat(stats Stats) {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: stats,
	})
}
