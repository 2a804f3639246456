//go:build !linux && !windows

package sensor

import (
	"context"
	"time"
)

// PlatformOptions tunes the platform event source. No fields are used
// on this platform; the struct exists for config symmetry.
type PlatformOptions struct {
	WindowClass       string
	FocusPollInterval time.Duration
	VideoDevicePath   string
	FrameWidth        int
	FrameHeight       int
}

// DefaultPlatformOptions returns sensible platform defaults.
func DefaultPlatformOptions() PlatformOptions {
	return PlatformOptions{
		WindowClass:       "proctord",
		FocusPollInterval: time.Second,
	}
}

type stubSource struct {
	events chan Event
}

// NewPlatformSource returns a source that delivers no events.
func NewPlatformSource(opts PlatformOptions) Source {
	return &stubSource{events: make(chan Event)}
}

func (s *stubSource) Start(ctx context.Context) error { return nil }
func (s *stubSource) Stop() error                     { return nil }
func (s *stubSource) Events() <-chan Event            { return s.events }

func (s *stubSource) Available() (bool, string) {
	return false, "environment monitoring not implemented on this platform"
}

type stubProvider struct{}

// NewPlatformProvider returns a provider with no capture capability.
func NewPlatformProvider(opts PlatformOptions) Provider {
	return stubProvider{}
}

func (stubProvider) AcquireVideo(ctx context.Context) (VideoDevice, error) {
	return nil, &CaptureError{Kind: ErrKindUnsupported, Device: "video"}
}

func (stubProvider) AcquireAudio(ctx context.Context) (AudioDevice, error) {
	return nil, &CaptureError{Kind: ErrKindUnsupported, Device: "audio"}
}
