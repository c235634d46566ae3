package scheduler

import (
	"time"

	"github.com/goodtune/autokey/internal/auth"
)

// Severity is the color hint attached to a status line.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityOK    Severity = "ok"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// EventType identifies scheduler events.
type EventType string

const (
	EventStatus   EventType = "status"
	EventStarted  EventType = "started"
	EventStopped  EventType = "stopped"
	EventAction   EventType = "action"
	EventProgress EventType = "progress"
	EventNotice   EventType = "notice"
)

// Stop reasons
const (
	ReasonManual   = "manual"
	ReasonAutoStop = "autostop"
	ReasonReset    = "reset"
)

// Event is emitted to subscribers on every observable change.
type Event struct {
	Type     EventType
	At       time.Time
	Message  string
	Severity Severity

	Token string
	Count int64

	Elapsed       time.Duration
	Remaining     time.Duration
	AutoStopArmed bool

	Reason string
}

// Snapshot is the read-only state dump backing the status command.
type Snapshot struct {
	Now               time.Time     `json:"now"`
	Running           bool          `json:"running"`
	ActionCount       int64         `json:"action_count"`
	Elapsed           time.Duration `json:"elapsed"`
	AutoStopArmed     bool          `json:"autostop_armed"`
	AutoStopRemaining time.Duration `json:"autostop_remaining,omitempty"`
	Authorization     auth.Status   `json:"authorization"`
	Deadline          string        `json:"deadline,omitempty"`
	Status            string        `json:"status"`
	Severity          Severity      `json:"severity"`
}

func verdictSeverity(s auth.Status) Severity {
	switch s {
	case auth.Verified:
		return SeverityOK
	case auth.Pending:
		return SeverityWarn
	default:
		return SeverityError
	}
}
