package playback

import "sync"

// Element is a media element the registry drives. Implementations must not call
// back into the Registry from these methods.
type Element interface {
	Play() error
	Pause()
	SetCurrentTime(seconds float64)
}

// Positioner is implemented by elements that can report their own position;
// the viewer prefers it over the registry's last known state on close.
type Positioner interface {
	CurrentTime() float64
	Paused() bool
}

// VirtualElement is an in-memory Element used by the headless bridge and tests.
type VirtualElement struct {
	mu      sync.Mutex
	playing bool
	time    float64
	plays   int
	pauses  int
	playErr error
}

func NewVirtualElement() *VirtualElement {
	return &VirtualElement{}
}

func (e *VirtualElement) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	e.plays++
	return nil
}

func (e *VirtualElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.pauses++
	}
	e.playing = false
}

func (e *VirtualElement) SetCurrentTime(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.time = seconds
}

func (e *VirtualElement) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time
}

func (e *VirtualElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// FailPlay makes subsequent Play calls return err (nil restores normal behaviour).
func (e *VirtualElement) FailPlay(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playErr = err
}

// Advance simulates playback progress.
func (e *VirtualElement) Advance(d float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playing {
		e.time += d
	}
	return e.time
}
