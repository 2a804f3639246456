package ledger

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestSeverityWeight(t *testing.T) {
	tests := []struct {
		severity Severity
		weight   int
	}{
		{SeverityLow, 5},
		{SeverityMedium, 15},
		{SeverityHigh, 30},
	}
	for _, tt := range tests {
		if got := tt.severity.Weight(); got != tt.weight {
			t.Errorf("%s weight = %d, want %d", tt.severity, got, tt.weight)
		}
	}
}

func TestSeverityJSONRoundTrip(t *testing.T) {
	for _, sev := range []Severity{SeverityLow, SeverityMedium, SeverityHigh} {
		data, err := json.Marshal(sev)
		if err != nil {
			t.Fatalf("marshal %s: %v", sev, err)
		}
		if string(data) != `"`+sev.String()+`"` {
			t.Errorf("marshal %s = %s, want string form", sev, data)
		}
		var back Severity
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != sev {
			t.Errorf("round trip %s = %s", sev, back)
		}
	}

	var sev Severity
	if err := json.Unmarshal([]byte(`"critical"`), &sev); err == nil {
		t.Error("expected error for unknown severity name")
	}
}

func TestScoreAccumulatesAndSaturates(t *testing.T) {
	v := func(s Severity) Violation {
		return Violation{Kind: KindTabSwitch, Severity: s, Timestamp: time.Now()}
	}

	tests := []struct {
		name       string
		violations []Violation
		want       int
	}{
		{"empty", nil, 0},
		{"single low", []Violation{v(SeverityLow)}, 5},
		{"mixed", []Violation{v(SeverityHigh), v(SeverityMedium), v(SeverityLow)}, 50},
		{"exact hundred", []Violation{v(SeverityHigh), v(SeverityHigh), v(SeverityHigh), v(SeverityLow), v(SeverityLow)}, 100},
		{"saturates", []Violation{v(SeverityHigh), v(SeverityHigh), v(SeverityHigh), v(SeverityHigh)}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.violations); got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	led := New(time.Now())
	prev := led.RiskScore()
	severities := []Severity{SeverityLow, SeverityHigh, SeverityMedium, SeverityHigh, SeverityHigh, SeverityLow}
	for _, s := range severities {
		if err := led.Append(Violation{Kind: KindWindowBlur, Severity: s, Timestamp: time.Now()}); err != nil {
			t.Fatalf("append: %v", err)
		}
		score := led.RiskScore()
		if score < prev {
			t.Fatalf("risk score decreased: %d -> %d", prev, score)
		}
		if score > MaxRiskScore {
			t.Fatalf("risk score exceeded bound: %d", score)
		}
		prev = score
	}
}

func TestAppendOrderPreserved(t *testing.T) {
	led := New(time.Now())
	kinds := []Kind{KindFullscreenExit, KindTabSwitch, KindFaceNotDetected, KindTabSwitch}
	for _, k := range kinds {
		if err := led.Append(Violation{Kind: k, Severity: SeverityHigh, Timestamp: time.Now()}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := led.Violations()
	if len(got) != len(kinds) {
		t.Fatalf("Violations() len = %d, want %d", len(got), len(kinds))
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("violation[%d].Kind = %s, want %s", i, got[i].Kind, k)
		}
	}

	if led.TabSwitchCount() != 2 {
		t.Errorf("TabSwitchCount() = %d, want 2", led.TabSwitchCount())
	}
}

func TestViolationsSnapshotIsolated(t *testing.T) {
	led := New(time.Now())
	led.Append(Violation{Kind: KindWindowBlur, Severity: SeverityMedium, Timestamp: time.Now()})

	snap := led.Violations()
	snap[0].Kind = KindCopyPaste

	if led.Violations()[0].Kind != KindWindowBlur {
		t.Error("mutating snapshot affected the ledger")
	}
}

func TestEndFreezesLedger(t *testing.T) {
	led := New(time.Now())
	if led.Ended() {
		t.Fatal("new ledger reports ended")
	}

	end := time.Now()
	led.End(end)
	if !led.Ended() {
		t.Fatal("ledger not ended after End")
	}
	if !led.EndedAt().Equal(end) {
		t.Errorf("EndedAt() = %v, want %v", led.EndedAt(), end)
	}

	err := led.Append(Violation{Kind: KindTabSwitch, Severity: SeverityHigh, Timestamp: time.Now()})
	if !errors.Is(err, ErrSessionEnded) {
		t.Errorf("append after end: got %v, want ErrSessionEnded", err)
	}
	if led.Len() != 0 {
		t.Errorf("Len() = %d after rejected append, want 0", led.Len())
	}

	// End is idempotent: a second call must not move the end time.
	led.End(end.Add(time.Hour))
	if !led.EndedAt().Equal(end) {
		t.Error("second End moved the end timestamp")
	}
}
