// Package ledger records integrity violations for a monitored session.
//
// The ledger is the single source of truth for what happened during an
// assessment attempt. Violations are appended in detection order and are
// never mutated or removed once recorded. Risk scoring is derived from
// the accumulated severities and saturates at 100.
package ledger

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Kind identifies the monitored rule that was broken.
type Kind string

const (
	KindTabSwitch       Kind = "tab_switch"
	KindFaceNotDetected Kind = "face_not_detected"
	KindMultipleFaces   Kind = "multiple_faces"
	KindFullscreenExit  Kind = "fullscreen_exit"
	KindAudioSuspicious Kind = "audio_suspicious"
	KindWindowBlur      Kind = "window_blur"
	KindRightClick      Kind = "right_click"
	KindKeyCombination  Kind = "key_combination"
	KindCopyPaste       Kind = "copy_paste"
)

// Severity orders violations by how strongly they suggest cheating.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the string representation of a severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity parses a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return SeverityLow, errors.New("ledger: unknown severity: " + s)
	}
}

// MarshalJSON encodes a severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Weight returns the risk-score contribution of a severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	default:
		return 0
	}
}

// Violation is an immutable record that a monitored rule was broken.
type Violation struct {
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
}

// MaxRiskScore is the saturation bound for a session risk score.
const MaxRiskScore = 100

// ErrSessionEnded is returned when appending to a closed ledger.
var ErrSessionEnded = errors.New("ledger: session has ended")

// Ledger is the append-only violation log for one session.
//
// Exactly one writer (the violation detector) appends; the report
// builder and host may read concurrently.
type Ledger struct {
	mu sync.RWMutex

	startedAt      time.Time
	endedAt        time.Time
	ended          bool
	violations     []Violation
	tabSwitchCount int
}

// New creates a ledger for a session starting now.
func New(startedAt time.Time) *Ledger {
	return &Ledger{startedAt: startedAt}
}

// StartedAt returns the session start time.
func (l *Ledger) StartedAt() time.Time {
	return l.startedAt
}

// Append records a violation. Returns ErrSessionEnded after End.
func (l *Ledger) Append(v Violation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ended {
		return ErrSessionEnded
	}

	l.violations = append(l.violations, v)
	if v.Kind == KindTabSwitch {
		l.tabSwitchCount++
	}
	return nil
}

// End freezes the ledger. Further appends fail; reads keep working.
// End is idempotent.
func (l *Ledger) End(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ended {
		return
	}
	l.ended = true
	l.endedAt = at
}

// Ended reports whether the session has been closed.
func (l *Ledger) Ended() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ended
}

// EndedAt returns the session end time (zero if still active).
func (l *Ledger) EndedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endedAt
}

// Violations returns a snapshot of the recorded violations in
// detection order.
func (l *Ledger) Violations() []Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Violation, len(l.violations))
	copy(out, l.violations)
	return out
}

// Len returns the number of recorded violations.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.violations)
}

// TabSwitchCount returns how many tab_switch violations were recorded.
func (l *Ledger) TabSwitchCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tabSwitchCount
}

// RiskScore computes the bounded risk score for the recorded
// violations. It is monotonically non-decreasing as violations
// accumulate and saturates at MaxRiskScore.
func (l *Ledger) RiskScore() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Score(l.violations)
}

// Score computes the bounded risk score for a violation sequence.
func Score(violations []Violation) int {
	score := 0
	for _, v := range violations {
		score += v.Severity.Weight()
		if score >= MaxRiskScore {
			return MaxRiskScore
		}
	}
	return score
}
