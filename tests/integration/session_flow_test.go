//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"proctord/internal/ledger"
	"proctord/internal/monitor"
	"proctord/internal/sensor"
	"proctord/internal/signer"
	"proctord/internal/store"
)

// TestFullSessionFlow exercises the complete session workflow:
// 1. Start a strict monitored session on simulated sensors
// 2. Drive environment events and record violations
// 3. Stop the session and build the report
// 4. Sign the report and archive the session
// 5. Read the archive back and verify the signature
func TestFullSessionFlow(t *testing.T) {
	tmpDir := t.TempDir()

	provider := sensor.NewSimProvider()
	source := sensor.NewSimSource()

	violations := make(chan ledger.Violation, 100)
	cfg := monitor.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.AcquireRetryDelay = time.Millisecond
	cfg.OnViolation = func(v ledger.Violation) { violations <- v }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mon, err := monitor.New(cfg, provider, source, source, logger)
	if err != nil {
		t.Fatalf("create monitor: %v", err)
	}
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	waitFor := func(kind ledger.Kind) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case v := <-violations:
				if v.Kind == kind {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", kind)
			}
		}
	}

	t.Run("violations_recorded", func(t *testing.T) {
		if err := mon.RequestFullscreen(context.Background()); err != nil {
			t.Fatalf("request fullscreen: %v", err)
		}
		source.PushFullscreen(false)
		waitFor(ledger.KindFullscreenExit)

		source.PushVisibility(true)
		waitFor(ledger.KindTabSwitch)

		source.PushKey(sensor.KeyEvent{Key: "c", Ctrl: true})
		waitFor(ledger.KindKeyCombination)

		if score := mon.Ledger().RiskScore(); score != 75 {
			t.Fatalf("risk score = %d, want 75", score)
		}
	})

	if err := mon.Stop(); err != nil {
		t.Fatalf("stop session: %v", err)
	}

	rep := mon.Report(time.Now())

	t.Run("report_built", func(t *testing.T) {
		if rep.TotalViolations != 3 {
			t.Errorf("total violations = %d, want 3", rep.TotalViolations)
		}
		if !rep.SuspiciousActivity {
			t.Error("high-severity violations should flag suspicious activity")
		}
		if rep.TabSwitches != 1 {
			t.Errorf("tab switches = %d, want 1", rep.TabSwitches)
		}
		if rep.CameraUptimeMinutes != rep.SessionDurationMinutes {
			t.Error("camera uptime should survive session teardown")
		}
	})

	reportJSON, err := rep.Encode()
	if err != nil {
		t.Fatalf("encode report: %v", err)
	}

	pub, priv, err := signer.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signature := signer.SignReport(priv, reportJSON)

	st, err := store.Open(filepath.Join(tmpDir, "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	id, err := st.ArchiveSession(mon.Ledger(), rep, true, signature)
	if err != nil {
		t.Fatalf("archive session: %v", err)
	}

	t.Run("archive_verifies", func(t *testing.T) {
		sess, err := st.GetSession(id)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if sess == nil {
			t.Fatal("archived session missing")
		}
		if !signer.VerifyReport(pub, sess.ReportJSON, sess.Signature) {
			t.Error("stored report signature does not verify")
		}

		stored, err := st.GetViolations(id)
		if err != nil {
			t.Fatalf("get violations: %v", err)
		}
		if len(stored) != 3 {
			t.Fatalf("stored violations = %d, want 3", len(stored))
		}
		if stored[0].Kind != ledger.KindFullscreenExit {
			t.Error("detection order lost in archive")
		}
	})

	t.Run("tampered_report_rejected", func(t *testing.T) {
		sess, err := st.GetSession(id)
		if err != nil || sess == nil {
			t.Fatalf("get session: %v", err)
		}
		tampered := append([]byte{}, sess.ReportJSON...)
		tampered[len(tampered)/2] ^= 0x01
		if signer.VerifyReport(pub, tampered, sess.Signature) {
			t.Error("tampered report verified")
		}
	})
}
