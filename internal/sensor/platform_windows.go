//go:build windows

package sensor

// Windows sensor adapters.
//
// Focus detection polls GetForegroundWindow and compares the window
// title against the tracked assessment surface. Fullscreen state is
// inferred with SHQueryUserNotificationState. Capture devices need a
// Media Foundation binding this daemon does not carry, so video and
// audio acquisition report Unsupported here.

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32  = windows.NewLazySystemDLL("user32.dll")
	shell32 = windows.NewLazySystemDLL("shell32.dll")

	procGetForegroundWindow          = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW               = user32.NewProc("GetWindowTextW")
	procSHQueryUserNotificationState = shell32.NewProc("SHQueryUserNotificationState")
)

// QUNS_BUSY is returned while a fullscreen application is active.
const qunsBusy = 2

// PlatformOptions tunes the platform event source.
type PlatformOptions struct {
	// WindowClass matches against the foreground window title.
	WindowClass string

	// FocusPollInterval is how often the foreground window is sampled.
	FocusPollInterval time.Duration

	// Unused on Windows, present for config symmetry.
	VideoDevicePath string
	FrameWidth      int
	FrameHeight     int
}

// DefaultPlatformOptions returns sensible platform defaults.
func DefaultPlatformOptions() PlatformOptions {
	return PlatformOptions{
		WindowClass:       "proctord",
		FocusPollInterval: time.Second,
	}
}

type windowsSource struct {
	mu      sync.Mutex
	opts    PlatformOptions
	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	lastFocused    bool
	lastFullscreen bool
}

// NewPlatformSource creates the Windows event source.
func NewPlatformSource(opts PlatformOptions) Source {
	if opts.FocusPollInterval <= 0 {
		opts.FocusPollInterval = time.Second
	}
	return &windowsSource{
		opts:   opts,
		events: make(chan Event, 100),
	}
}

// Start implements Source.
func (s *windowsSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("sensor: source already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.lastFocused = true

	go s.pollLoop()
	return nil
}

// Stop implements Source.
func (s *windowsSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	return nil
}

// Events implements Source.
func (s *windowsSource) Events() <-chan Event { return s.events }

// Available implements Source.
func (s *windowsSource) Available() (bool, string) {
	return true, ""
}

func (s *windowsSource) pollLoop() {
	ticker := time.NewTicker(s.opts.FocusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *windowsSource) sample() {
	focused := s.foregroundMatches()
	fullscreen := queryFullscreen()

	s.mu.Lock()
	focusChanged := focused != s.lastFocused
	fsChanged := fullscreen != s.lastFullscreen
	s.lastFocused = focused
	s.lastFullscreen = fullscreen
	s.mu.Unlock()

	now := time.Now()
	if focusChanged {
		s.emit(Event{Type: EventFocusChanged, Focused: focused, Timestamp: now})
	}
	if fsChanged {
		s.emit(Event{Type: EventFullscreenChanged, Active: fullscreen, Timestamp: now})
	}
}

func (s *windowsSource) foregroundMatches() bool {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return false
	}

	var buf [256]uint16
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return false
	}
	title := windows.UTF16ToString(buf[:n])
	return strings.Contains(title, s.opts.WindowClass)
}

func queryFullscreen() bool {
	var state uint32
	ret, _, _ := procSHQueryUserNotificationState.Call(uintptr(unsafe.Pointer(&state)))
	if ret != 0 {
		return false
	}
	return state == qunsBusy
}

func (s *windowsSource) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

type windowsProvider struct{}

// NewPlatformProvider creates the Windows capture provider.
func NewPlatformProvider(opts PlatformOptions) Provider {
	return windowsProvider{}
}

// AcquireVideo implements Provider.
func (windowsProvider) AcquireVideo(ctx context.Context) (VideoDevice, error) {
	return nil, &CaptureError{Kind: ErrKindUnsupported, Device: "video"}
}

// AcquireAudio implements Provider.
func (windowsProvider) AcquireAudio(ctx context.Context) (AudioDevice, error) {
	return nil, &CaptureError{Kind: ErrKindUnsupported, Device: "audio"}
}
