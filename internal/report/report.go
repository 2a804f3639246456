// Package report builds the immutable end-of-session summary.
package report

import (
	"encoding/json"
	"time"

	"proctord/internal/ledger"
)

// Report is the derived, immutable summary of one monitored session.
// Building it twice from the same ledger and the same now yields
// byte-identical output.
type Report struct {
	SessionStartedAt       time.Time          `json:"session_started_at"`
	Violations             []ledger.Violation `json:"violations"`
	TotalViolations        int                `json:"total_violations"`
	RiskScore              int                `json:"risk_score"`
	SessionDurationMinutes float64            `json:"session_duration_minutes"`
	CameraUptimeMinutes    float64            `json:"camera_uptime_minutes"`
	TabSwitches            int                `json:"tab_switches"`
	SuspiciousActivity     bool               `json:"suspicious_activity"`
}

// Build derives a report from the ledger at the given instant.
//
// Camera uptime is modeled as "active for the whole session or not at
// all": there is no partial-interval tracking, so a camera toggled
// mid-session over- or under-counts. Known simplification, kept as-is.
func Build(led *ledger.Ledger, cameraActive bool, now time.Time) *Report {
	violations := led.Violations()

	duration := now.Sub(led.StartedAt()).Minutes()
	if duration < 0 {
		duration = 0
	}

	uptime := 0.0
	if cameraActive {
		uptime = duration
	}

	suspicious := false
	for _, v := range violations {
		if v.Severity == ledger.SeverityHigh {
			suspicious = true
			break
		}
	}

	return &Report{
		SessionStartedAt:       led.StartedAt(),
		Violations:             violations,
		TotalViolations:        len(violations),
		RiskScore:              ledger.Score(violations),
		SessionDurationMinutes: duration,
		CameraUptimeMinutes:    uptime,
		TabSwitches:            led.TabSwitchCount(),
		SuspiciousActivity:     suspicious,
	}
}

// Encode serializes the report to indented JSON. The encoding is
// deterministic: struct field order is fixed and timestamps keep
// their location, so identical reports encode identically.
func (r *Report) Encode() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Decode deserializes a report from JSON.
func Decode(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
