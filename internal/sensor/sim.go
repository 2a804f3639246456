// Simulated sensor suite.
//
// The simulated provider and source drive the monitor without any
// platform capability: tests script exact event sequences, and
// `proctord run --simulate` exercises the full pipeline on machines
// with no camera.
package sensor

import (
	"context"
	"sync"
	"time"
)

// SimProvider is a scriptable capture provider.
type SimProvider struct {
	mu sync.Mutex

	// FailVideo queues acquisition errors, consumed one per attempt.
	// Once drained, AcquireVideo succeeds.
	failVideo []*CaptureError

	// audioUnsupported makes AcquireAudio fail with ErrKindUnsupported.
	audioUnsupported bool

	video *SimVideoDevice
	audio *SimAudioDevice
}

// NewSimProvider returns a provider whose acquisitions succeed.
func NewSimProvider() *SimProvider {
	return &SimProvider{
		video: NewSimVideoDevice(64, 48),
		audio: &SimAudioDevice{},
	}
}

// FailVideoNext queues errors returned by the next AcquireVideo calls.
func (p *SimProvider) FailVideoNext(errs ...*CaptureError) {
	p.mu.Lock()
	p.failVideo = append(p.failVideo, errs...)
	p.mu.Unlock()
}

// SetAudioUnsupported toggles audio capability.
func (p *SimProvider) SetAudioUnsupported(unsupported bool) {
	p.mu.Lock()
	p.audioUnsupported = unsupported
	p.mu.Unlock()
}

// Video returns the simulated video device for scripting frames.
func (p *SimProvider) Video() *SimVideoDevice { return p.video }

// Audio returns the simulated audio device for scripting levels.
func (p *SimProvider) Audio() *SimAudioDevice { return p.audio }

// AcquireVideo implements Provider.
func (p *SimProvider) AcquireVideo(ctx context.Context) (VideoDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failVideo) > 0 {
		err := p.failVideo[0]
		p.failVideo = p.failVideo[1:]
		return nil, err
	}
	p.video.reset()
	return p.video, nil
}

// AcquireAudio implements Provider.
func (p *SimProvider) AcquireAudio(ctx context.Context) (AudioDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audioUnsupported {
		return nil, &CaptureError{Kind: ErrKindUnsupported, Device: "audio"}
	}
	p.audio.reset()
	return p.audio, nil
}

// SimVideoDevice serves a scriptable frame.
type SimVideoDevice struct {
	mu       sync.Mutex
	frame    *Frame
	released bool
}

// NewSimVideoDevice creates a device serving a black frame.
func NewSimVideoDevice(width, height int) *SimVideoDevice {
	return &SimVideoDevice{frame: BlankFrame(width, height)}
}

// SetFrame replaces the frame served to samplers. A nil frame makes
// Frame return ErrNoFrame (a transient classification error).
func (d *SimVideoDevice) SetFrame(f *Frame) {
	d.mu.Lock()
	d.frame = f
	d.mu.Unlock()
}

// Frame implements VideoDevice.
func (d *SimVideoDevice) Frame(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil, ErrReleased
	}
	if d.frame == nil {
		return nil, ErrNoFrame
	}
	return d.frame, nil
}

// Release implements VideoDevice. Idempotent.
func (d *SimVideoDevice) Release() error {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
	return nil
}

// Released reports whether the device has been released.
func (d *SimVideoDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *SimVideoDevice) reset() {
	d.mu.Lock()
	d.released = false
	d.mu.Unlock()
}

// SimAudioDevice serves a scriptable level.
type SimAudioDevice struct {
	mu       sync.Mutex
	level    int
	released bool
}

// SetLevel sets the level returned by Level.
func (d *SimAudioDevice) SetLevel(level int) {
	d.mu.Lock()
	d.level = level
	d.mu.Unlock()
}

// Level implements AudioDevice.
func (d *SimAudioDevice) Level(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return 0, ErrReleased
	}
	return d.level, nil
}

// Release implements AudioDevice. Idempotent.
func (d *SimAudioDevice) Release() error {
	d.mu.Lock()
	d.released = true
	d.mu.Unlock()
	return nil
}

// Released reports whether the device has been released.
func (d *SimAudioDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

func (d *SimAudioDevice) reset() {
	d.mu.Lock()
	d.released = false
	d.mu.Unlock()
}

// SimSource is a scriptable event source and fullscreen controller.
type SimSource struct {
	mu      sync.Mutex
	events  chan Event
	running bool

	fullscreen bool
}

// NewSimSource creates a simulated source.
func NewSimSource() *SimSource {
	return &SimSource{events: make(chan Event, 100)}
}

// Start implements Source.
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

// Stop implements Source.
func (s *SimSource) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Events implements Source.
func (s *SimSource) Events() <-chan Event { return s.events }

// Available implements Source.
func (s *SimSource) Available() (bool, string) { return true, "" }

// Push delivers an event to the stream, stamping it if unstamped.
func (s *SimSource) Push(e Event) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events <- e
}

// PushFocus pushes a focus transition.
func (s *SimSource) PushFocus(focused bool) {
	s.Push(Event{Type: EventFocusChanged, Focused: focused})
}

// PushVisibility pushes a visibility transition.
func (s *SimSource) PushVisibility(hidden bool) {
	s.Push(Event{Type: EventVisibilityChanged, Hidden: hidden})
}

// PushFullscreen pushes a fullscreen transition.
func (s *SimSource) PushFullscreen(active bool) {
	s.mu.Lock()
	s.fullscreen = active
	s.mu.Unlock()
	s.Push(Event{Type: EventFullscreenChanged, Active: active})
}

// PushKey pushes a keyboard event.
func (s *SimSource) PushKey(k KeyEvent) {
	s.Push(Event{Type: EventKeyPressed, Key: k})
}

// PushContextMenu pushes a context-menu invocation.
func (s *SimSource) PushContextMenu() {
	s.Push(Event{Type: EventContextMenu})
}

// Request implements FullscreenController.
func (s *SimSource) Request(ctx context.Context) error {
	s.PushFullscreen(true)
	return nil
}

// Exit implements FullscreenController. Idempotent.
func (s *SimSource) Exit(ctx context.Context) error {
	s.mu.Lock()
	active := s.fullscreen
	s.mu.Unlock()
	if active {
		s.PushFullscreen(false)
	}
	return nil
}

// Fullscreen reports the simulated fullscreen state.
func (s *SimSource) Fullscreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen
}

// BlankFrame returns an all-black RGBA frame.
func BlankFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}
