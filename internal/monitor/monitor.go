// Package monitor runs the exam-integrity monitoring session.
//
// The monitor fuses the asynchronous sensor channels (camera frames,
// audio level, window focus, page visibility, fullscreen state,
// keyboard intent) into one ordered violation ledger. Push events are
// consumed from a single channel so cross-channel ordering is explicit;
// face and audio classification run on a fixed poll cadence instead of
// per frame.
//
// Violations are domain events, not errors: they are appended to the
// ledger and surfaced through the OnViolation callback, never returned
// as an error from any method. Capability failures are non-fatal: a
// session without a camera keeps running, it just reports not-ready.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/classify"
	"proctord/internal/ledger"
	"proctord/internal/report"
	"proctord/internal/sensor"
)

var (
	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("monitor: already running")

	// ErrNotRunning is returned for operations requiring an active session.
	ErrNotRunning = errors.New("monitor: not running")
)

// Config controls session policy.
type Config struct {
	// StrictMode enables the stricter rule subset: fullscreen-exit,
	// right-click, and audio monitoring. Default true.
	StrictMode bool

	// PollInterval is the face/audio sampling cadence.
	PollInterval time.Duration

	// AcquireRetryDelay is the backoff before the single automatic
	// capture acquisition retry.
	AcquireRetryDelay time.Duration

	// OnViolation is invoked synchronously at emission time. The host
	// must not block long inside it: it runs on the sensor loops.
	OnViolation func(ledger.Violation)

	// OnReadinessChanged is invoked whenever the readiness gate output
	// changes.
	OnReadinessChanged func(ready bool)
}

// DefaultConfig returns the default session policy.
func DefaultConfig() Config {
	return Config{
		StrictMode:        true,
		PollInterval:      2 * time.Second,
		AcquireRetryDelay: time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("monitor: poll interval must be positive")
	}
	if c.AcquireRetryDelay < 0 {
		return errors.New("monitor: acquire retry delay cannot be negative")
	}
	return nil
}

// Monitor owns one monitored session from Start to Stop.
type Monitor struct {
	mu sync.Mutex

	config   Config
	logger   *slog.Logger
	provider sensor.Provider
	source   sensor.Source
	fsctl    sensor.FullscreenController

	state *sensor.State
	led   *ledger.Ledger

	video sensor.VideoDevice
	audio sensor.AudioDevice

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running       bool
	sessionActive bool
	cameraAtEnd   bool // camera state latched at Stop, before handle release

	// Per-channel previous states for edge detection.
	facePresent  bool
	focused      bool
	hidden       bool
	fullscreen   bool
	lastReady    bool
	fsRequested  bool
	cameraStatus error // last capture acquisition failure, nil when healthy
}

// New creates a monitor over the given sensor adapters.
func New(cfg Config, provider sensor.Provider, source sensor.Source, fsctl sensor.FullscreenController, logger *slog.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if fsctl == nil {
		fsctl = sensor.UnsupportedFullscreen{}
	}
	return &Monitor{
		config:   cfg,
		logger:   logger.With("component", "monitor"),
		provider: provider,
		source:   source,
		fsctl:    fsctl,
		state:    sensor.NewState(),
	}, nil
}

// State returns the live sensor state.
func (m *Monitor) State() *sensor.State { return m.state }

// Ledger returns the session ledger. Nil before the first Start.
func (m *Monitor) Ledger() *ledger.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.led
}

// Report builds the session report from the ledger as of now. Callable
// at any time during or after a session; nil before the first Start.
// After Stop the camera state latched at session end is used, so the
// pulled report matches the archived one.
func (m *Monitor) Report(now time.Time) *report.Report {
	m.mu.Lock()
	led := m.led
	cameraAtEnd := m.cameraAtEnd
	m.mu.Unlock()
	if led == nil {
		return nil
	}

	cameraActive := m.state.CameraActive()
	if led.Ended() {
		cameraActive = cameraAtEnd
	}
	return report.Build(led, cameraActive, now)
}

// Running reports whether a session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start begins a monitored session: starts the event source, acquires
// capture devices (camera failure is non-fatal), and starts the poll
// loop. Violations are recorded from this point until Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.led = ledger.New(time.Now())
	m.running = true
	m.sessionActive = true

	// Channel edge-detection baselines: the session starts with the
	// surface focused and visible, nothing else established yet.
	m.facePresent = true
	m.focused = true
	m.hidden = false
	m.fullscreen = false
	m.lastReady = false
	m.fsRequested = false
	m.cameraAtEnd = false
	m.mu.Unlock()

	if err := m.source.Start(m.ctx); err != nil {
		m.logger.Warn("event source unavailable", "error", err)
	}

	// Camera acquisition: one bounded retry, then the host must
	// explicitly re-invoke via StartCamera.
	if err := m.StartCamera(m.ctx); err != nil {
		m.logger.Warn("camera unavailable, session continues without it", "error", err)
	}

	if m.config.StrictMode {
		if err := m.startAudio(m.ctx); err != nil {
			m.logger.Info("audio capture unavailable", "error", err)
		}
	}

	m.wg.Add(2)
	go m.eventLoop()
	go m.pollLoop()

	m.recomputeReadiness()

	m.logger.Info("session started",
		"strict_mode", m.config.StrictMode,
		"poll_interval", m.config.PollInterval,
	)
	return nil
}

// StartCamera acquires the video capture device, retrying once after
// the configured backoff when the failure is retryable. Safe to call
// again after a failure (the host's "Start Camera" action).
func (m *Monitor) StartCamera(ctx context.Context) error {
	video, err := m.provider.AcquireVideo(ctx)
	if err != nil {
		var capErr *sensor.CaptureError
		if errors.As(err, &capErr) && capErr.Retryable() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.config.AcquireRetryDelay):
			}
			video, err = m.provider.AcquireVideo(ctx)
		}
	}

	m.mu.Lock()
	if err != nil {
		m.cameraStatus = err
		m.mu.Unlock()
		return err
	}
	if m.video != nil {
		m.video.Release()
	}
	m.video = video
	m.cameraStatus = nil
	m.mu.Unlock()

	m.state.SetCameraActive(true)
	m.recomputeReadiness()
	return nil
}

// CameraStatus returns the last capture acquisition failure, or nil.
func (m *Monitor) CameraStatus() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraStatus
}

// startAudio acquires the optional audio device. No retry: audio is
// optional and absence degrades gracefully.
func (m *Monitor) startAudio(ctx context.Context) error {
	audio, err := m.provider.AcquireAudio(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.audio = audio
	m.mu.Unlock()
	return nil
}

// RequestFullscreen asks the platform to enter fullscreen. The state
// transition arrives over the event stream.
func (m *Monitor) RequestFullscreen(ctx context.Context) error {
	if err := m.fsctl.Request(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.fsRequested = true
	m.mu.Unlock()
	return nil
}

// Stop ends the session. Teardown order: poll/event loops first, then
// push listeners, then capture handles, then fullscreen if this
// session requested it. After Stop returns no callback fires, even for
// a poll tick that was in flight.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.sessionActive = false
	m.mu.Unlock()

	// (a) stop the polling timer and event loop
	m.cancel()
	m.wg.Wait()

	// (b) unsubscribe push listeners
	if err := m.source.Stop(); err != nil {
		m.logger.Warn("event source stop failed", "error", err)
	}

	// (c) release capture handles, latching the end-of-session camera
	// state first so Report stays correct after teardown
	m.mu.Lock()
	video, audio := m.video, m.audio
	m.video, m.audio = nil, nil
	fsRequested := m.fsRequested
	m.cameraAtEnd = m.state.CameraActive()
	m.mu.Unlock()

	if video != nil {
		video.Release()
	}
	if audio != nil {
		audio.Release()
	}
	m.state.SetCameraActive(false)

	// (d) leave fullscreen if still active due to this session
	if fsRequested && m.state.FullscreenActive() {
		if err := m.fsctl.Exit(context.Background()); err != nil {
			m.logger.Warn("fullscreen exit failed", "error", err)
		}
	}

	m.led.End(time.Now())
	m.logger.Info("session ended",
		"violations", m.led.Len(),
		"risk_score", m.led.RiskScore(),
	)
	return nil
}

// eventLoop consumes the ordered push-event stream.
func (m *Monitor) eventLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-m.source.Events():
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Monitor) handleEvent(ev sensor.Event) {
	switch ev.Type {
	case sensor.EventFocusChanged:
		m.state.SetWindowFocused(ev.Focused)
		m.mu.Lock()
		wasFocused := m.focused
		m.focused = ev.Focused
		m.mu.Unlock()
		if wasFocused && !ev.Focused {
			m.emit(ledger.KindWindowBlur, ledger.SeverityMedium, "assessment window lost focus")
		}

	case sensor.EventVisibilityChanged:
		m.mu.Lock()
		wasHidden := m.hidden
		m.hidden = ev.Hidden
		m.mu.Unlock()
		if !wasHidden && ev.Hidden {
			m.emit(ledger.KindTabSwitch, ledger.SeverityHigh, "assessment surface hidden (tab switch)")
		}

	case sensor.EventFullscreenChanged:
		m.state.SetFullscreenActive(ev.Active)
		m.mu.Lock()
		wasFullscreen := m.fullscreen
		m.fullscreen = ev.Active
		strict := m.config.StrictMode
		m.mu.Unlock()
		if wasFullscreen && !ev.Active && strict {
			m.emit(ledger.KindFullscreenExit, ledger.SeverityHigh, "exited fullscreen during assessment")
		}
		m.recomputeReadiness()

	case sensor.EventKeyPressed:
		m.HandleKey(ev.Key)

	case sensor.EventContextMenu:
		m.HandleContextMenu()
	}
}

// HandleKey classifies a keyboard event, records a violation for a
// suspicious combination, and reports whether the host should suppress
// the default action. Hosts with synchronous key hooks call this
// directly; event sources push the same events over the stream.
func (m *Monitor) HandleKey(ev sensor.KeyEvent) (suppress bool) {
	action, matched := classify.KeyCombination(ev)
	if !matched {
		return false
	}
	m.emit(ledger.KindKeyCombination, ledger.SeverityMedium, action.Label)
	return true
}

// HandleContextMenu records a right-click violation in strict mode and
// reports whether the host should suppress the menu.
func (m *Monitor) HandleContextMenu() (suppress bool) {
	m.mu.Lock()
	strict := m.config.StrictMode
	m.mu.Unlock()
	if !strict {
		return false
	}
	m.emit(ledger.KindRightClick, ledger.SeverityLow, "context menu opened during assessment")
	return true
}

// pollLoop samples face presence and audio on the fixed cadence for
// the lifetime of cameraActive && sessionActive.
func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.pollTick()
		}
	}
}

func (m *Monitor) pollTick() {
	m.mu.Lock()
	video, audio := m.video, m.audio
	active := m.sessionActive
	strict := m.config.StrictMode
	m.mu.Unlock()

	if !active {
		return
	}

	if video != nil {
		frame, err := video.Frame(m.ctx)
		if err == nil {
			present := classify.FacePresent(frame)
			m.state.SetFacePresent(present)

			m.mu.Lock()
			wasPresent := m.facePresent
			m.facePresent = present
			m.mu.Unlock()

			if wasPresent && !present {
				m.emit(ledger.KindFaceNotDetected, ledger.SeverityHigh, "no face detected in frame")
			}
		}
		// A frame read failure is "no data this tick", never evidence.
	}

	// Audio monitoring only runs in strict mode.
	if strict && audio != nil {
		level, err := audio.Level(m.ctx)
		if err == nil {
			m.state.SetAudioLevel(level)
			if classify.AudioSuspicious(level) {
				m.emit(ledger.KindAudioSuspicious, ledger.SeverityMedium, "suspicious ambient audio level")
			}
		}
	}
}

// emit appends a violation and invokes the host callback. Emission is
// gated on sessionActive: nothing is recorded outside a session.
func (m *Monitor) emit(kind ledger.Kind, severity ledger.Severity, description string) {
	m.mu.Lock()
	if !m.sessionActive {
		m.mu.Unlock()
		return
	}
	led := m.led
	cb := m.config.OnViolation
	m.mu.Unlock()

	v := ledger.Violation{
		Kind:        kind,
		Timestamp:   time.Now(),
		Description: description,
		Severity:    severity,
	}
	if err := led.Append(v); err != nil {
		return
	}

	m.logger.Info("violation recorded",
		"kind", string(kind),
		"severity", severity.String(),
	)
	if cb != nil {
		cb(v)
	}
}

// IsReady derives the readiness gate from live sensor state:
// the camera must be active, and either fullscreen is active or
// strict mode is off. Purely a function of current state.
func (m *Monitor) IsReady() bool {
	snap := m.state.Snapshot()
	m.mu.Lock()
	strict := m.config.StrictMode
	m.mu.Unlock()
	return snap.CameraActive && (snap.FullscreenActive || !strict)
}

// recomputeReadiness invokes OnReadinessChanged on output edges only.
func (m *Monitor) recomputeReadiness() {
	ready := m.IsReady()

	m.mu.Lock()
	changed := ready != m.lastReady
	m.lastReady = ready
	active := m.sessionActive
	cb := m.config.OnReadinessChanged
	m.mu.Unlock()

	if changed && active && cb != nil {
		cb(ready)
	}
}
