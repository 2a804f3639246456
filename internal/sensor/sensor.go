// Package sensor acquires and normalizes the environmental capabilities
// the monitor observes: video capture, audio capture, window focus,
// page visibility, fullscreen state, and keyboard input.
//
// Adapters isolate the rest of the system from capability-specific
// failure modes. Acquisition calls are asynchronous and may be retried
// by the caller; adapters themselves never retry. A missing capability
// degrades the session (readiness reports false, evidence is thinner)
// but never crashes the monitoring loop.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CaptureErrorKind classifies why a capture device could not be acquired.
type CaptureErrorKind int

const (
	// ErrKindUnsupported indicates the platform exposes no capture API.
	ErrKindUnsupported CaptureErrorKind = iota
	// ErrKindPermissionDenied indicates the user or OS denied access.
	ErrKindPermissionDenied
	// ErrKindDeviceNotFound indicates no matching device exists.
	ErrKindDeviceNotFound
	// ErrKindDeviceBusy indicates another process holds the device.
	ErrKindDeviceBusy
)

// String returns a human-readable name for the error kind.
func (k CaptureErrorKind) String() string {
	switch k {
	case ErrKindUnsupported:
		return "unsupported"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindDeviceNotFound:
		return "device_not_found"
	case ErrKindDeviceBusy:
		return "device_busy"
	default:
		return "unknown"
	}
}

// CaptureError reports a failed capability acquisition.
type CaptureError struct {
	Kind   CaptureErrorKind
	Device string
	Err    error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensor: %s: %s: %v", e.Device, e.Kind, e.Err)
	}
	return fmt.Sprintf("sensor: %s: %s", e.Device, e.Kind)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error { return e.Err }

// Retryable reports whether a second acquisition attempt can succeed.
// Unsupported platforms and denied permissions do not heal on retry.
func (e *CaptureError) Retryable() bool {
	return e.Kind == ErrKindDeviceBusy || e.Kind == ErrKindDeviceNotFound
}

var (
	// ErrNoFrame indicates no frame data was available this tick.
	// Callers treat it as "no data", never as evidence of absence.
	ErrNoFrame = errors.New("sensor: no frame available")

	// ErrReleased is returned when using a released device handle.
	ErrReleased = errors.New("sensor: device released")

	// ErrFullscreenUnavailable indicates fullscreen control is not
	// possible on this platform.
	ErrFullscreenUnavailable = errors.New("sensor: fullscreen control unavailable")
)

// Frame is one sampled video frame in RGBA order, 4 bytes per pixel.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// VideoDevice is a live video capture handle.
type VideoDevice interface {
	// Frame samples the current frame. Returns ErrNoFrame when no
	// data is available this tick.
	Frame(ctx context.Context) (*Frame, error)

	// Release stops all capture streams. Idempotent.
	Release() error
}

// AudioDevice is a live audio capture handle.
type AudioDevice interface {
	// Level samples the instantaneous energy level, normalized 0-255.
	Level(ctx context.Context) (int, error)

	// Release stops the capture stream. Idempotent.
	Release() error
}

// Provider acquires capture devices for the current platform.
type Provider interface {
	// AcquireVideo requests a video capture device. Failures are
	// returned as *CaptureError.
	AcquireVideo(ctx context.Context) (VideoDevice, error)

	// AcquireAudio requests an audio capture device. Audio is an
	// optional capability; absence degrades gracefully.
	AcquireAudio(ctx context.Context) (AudioDevice, error)
}

// EventType distinguishes environment event types.
type EventType int

const (
	// EventFocusChanged fires on every window focus/blur transition.
	EventFocusChanged EventType = iota
	// EventVisibilityChanged fires when the host surface is hidden or shown.
	EventVisibilityChanged
	// EventFullscreenChanged fires when fullscreen state flips.
	EventFullscreenChanged
	// EventKeyPressed carries a keyboard event for intent classification.
	EventKeyPressed
	// EventContextMenu fires on a context-menu invocation.
	EventContextMenu
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventFocusChanged:
		return "focus_changed"
	case EventVisibilityChanged:
		return "visibility_changed"
	case EventFullscreenChanged:
		return "fullscreen_changed"
	case EventKeyPressed:
		return "key_pressed"
	case EventContextMenu:
		return "context_menu"
	default:
		return "unknown"
	}
}

// KeyEvent describes a single keyboard event.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool
}

// Event is one environment notification. All push channels feed a
// single ordered stream so the detector sees events in arrival order.
type Event struct {
	Type      EventType
	Focused   bool
	Hidden    bool
	Active    bool // fullscreen state for EventFullscreenChanged
	Key       KeyEvent
	Timestamp time.Time
}

// Source delivers environment events for the current platform.
// Implementations follow the monitor lifecycle: Start once, events
// until Stop, nothing after.
type Source interface {
	// Start begins delivering events.
	Start(ctx context.Context) error

	// Stop stops delivery and closes internal resources.
	Stop() error

	// Events returns the ordered event stream.
	Events() <-chan Event

	// Available reports whether this source can operate here, with a
	// reason when it cannot.
	Available() (bool, string)
}

// FullscreenController requests and abandons fullscreen state.
type FullscreenController interface {
	// Request enters fullscreen. May fail with ErrFullscreenUnavailable.
	Request(ctx context.Context) error

	// Exit leaves fullscreen. Idempotent.
	Exit(ctx context.Context) error
}

// UnsupportedFullscreen is the controller for platforms where the host
// surface owns fullscreen and the daemon can only observe it.
type UnsupportedFullscreen struct{}

// Request implements FullscreenController.
func (UnsupportedFullscreen) Request(ctx context.Context) error {
	return ErrFullscreenUnavailable
}

// Exit implements FullscreenController.
func (UnsupportedFullscreen) Exit(ctx context.Context) error { return nil }

// State holds the most recent sample per sensor channel. It is not
// historical: each write overwrites the previous sample.
//
// Exactly one writer (the monitor pipeline) updates it; readers
// tolerate seeing one field a tick stale.
type State struct {
	mu sync.RWMutex

	cameraActive     bool
	facePresent      bool
	fullscreenActive bool
	windowFocused    bool
	audioLevel       int
}

// Snapshot is a point-in-time copy of the sensor state.
type Snapshot struct {
	CameraActive     bool `json:"camera_active"`
	FacePresent      bool `json:"face_present"`
	FullscreenActive bool `json:"fullscreen_active"`
	WindowFocused    bool `json:"window_focused"`
	AudioLevel       int  `json:"audio_level"`
}

// NewState returns a sensor state with everything inactive. Window
// focus starts true: the session begins with the assessment surface
// in front of the user.
func NewState() *State {
	return &State{windowFocused: true}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CameraActive:     s.cameraActive,
		FacePresent:      s.facePresent,
		FullscreenActive: s.fullscreenActive,
		WindowFocused:    s.windowFocused,
		AudioLevel:       s.audioLevel,
	}
}

// SetCameraActive records camera liveness.
func (s *State) SetCameraActive(active bool) {
	s.mu.Lock()
	s.cameraActive = active
	s.mu.Unlock()
}

// SetFacePresent records the latest face-presence classification.
func (s *State) SetFacePresent(present bool) {
	s.mu.Lock()
	s.facePresent = present
	s.mu.Unlock()
}

// SetFullscreenActive records the latest fullscreen state.
func (s *State) SetFullscreenActive(active bool) {
	s.mu.Lock()
	s.fullscreenActive = active
	s.mu.Unlock()
}

// SetWindowFocused records the latest window focus state.
func (s *State) SetWindowFocused(focused bool) {
	s.mu.Lock()
	s.windowFocused = focused
	s.mu.Unlock()
}

// SetAudioLevel records the latest normalized audio level.
func (s *State) SetAudioLevel(level int) {
	s.mu.Lock()
	s.audioLevel = level
	s.mu.Unlock()
}

// CameraActive returns the latest camera liveness sample.
func (s *State) CameraActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cameraActive
}

// FullscreenActive returns the latest fullscreen sample.
func (s *State) FullscreenActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fullscreenActive
}
