package auth

import "time"

// Status is the outcome class of one authorization check.
type Status int

const (
	Pending Status = iota
	Verified
	Disabled
	Expired
	NetworkError
	ParseError
	Timeout
)

var statusNames = map[Status]string{
	Pending:      "pending",
	Verified:     "verified",
	Disabled:     "disabled",
	Expired:      "expired",
	NetworkError: "network_error",
	ParseError:   "parse_error",
	Timeout:      "timeout",
}

var statusLines = map[Status]string{
	Pending:      "Waiting for verification",
	Verified:     "Verified - ready",
	Disabled:     "Under maintenance",
	Expired:      "Authorization expired",
	NetworkError: "Network error",
	ParseError:   "Parse error",
	Timeout:      "Verification timed out",
}

// String returns the machine-readable name used in metrics and JSON.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// StatusLine returns the operator-facing status text.
func (s Status) StatusLine() string {
	if line, ok := statusLines[s]; ok {
		return line
	}
	return "Unknown authorization state"
}

// Blocking reports whether the status needs explicit operator acknowledgement.
func (s Status) Blocking() bool {
	return s == Disabled || s == Expired
}

// Failed reports whether the status is a terminal check failure.
func (s Status) Failed() bool {
	return s != Pending && s != Verified
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return Pending, false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, _ := ParseStatus(string(text))
	*s = parsed
	return nil
}

// Verdict is the immutable result of one check. A re-check replaces it.
type Verdict struct {
	Status       Status     `json:"status"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	DeadlineText string     `json:"deadline_text,omitempty"`
	Notice       string     `json:"notice,omitempty"`
	Detail       string     `json:"detail,omitempty"`
	CheckedAt    time.Time  `json:"checked_at,omitempty"`
}

// Authorized reports whether the verdict allows a run to start at now.
func (v Verdict) Authorized(now time.Time) bool {
	if v.Status != Verified {
		return false
	}
	return v.Deadline == nil || now.Before(*v.Deadline)
}

// BlockingNotice returns the text that must be shown to the operator, or ""
// when the verdict carries nothing that needs acknowledging.
func (v Verdict) BlockingNotice() string {
	switch v.Status {
	case Disabled:
		notice := v.Notice
		if notice == "" {
			notice = "temporarily unavailable"
		}
		return "Maintenance notice: " + notice
	case Expired:
		return "Authorization expired on " + v.DeadlineText
	default:
		return ""
	}
}
