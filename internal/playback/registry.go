// Package playback owns the play/pause state of every audio and video message in
// one conversation view. The Registry is the only component allowed to start or
// stop an Element, which is what keeps at most one item playing at a time.
package playback

import (
	"math"
	"sync"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

type entry struct {
	state   model.PlaybackState
	mini    Element
	modal   Element
	gesture *SeekGesture
}

// element returns the element of the view that currently owns the item.
func (e *entry) element() Element {
	if e.modal != nil {
		return e.modal
	}
	return e.mini
}

type Registry struct {
	mu       sync.Mutex
	entries  map[model.ID]*entry
	active   model.ID
	gestures int
	closed   bool
	onSwitch func(from, to model.ID)
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.ID]*entry)}
}

// OnSwitch installs a callback fired after the playing item changes.
// It runs with the registry lock held and must not call back into the Registry.
func (r *Registry) OnSwitch(fn func(from, to model.ID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSwitch = fn
}

// Register binds the miniature element of a media message. Registering an id again
// (remount) swaps the element and keeps the state.
func (r *Registry) Register(id model.ID, kind model.AttachmentKind, el Element) error {
	if kind != model.AttachmentAudio && kind != model.AttachmentVideo {
		return apperr.New(apperr.KindValidation, "playback.Register", "only audio and video have playback state")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperr.New(apperr.KindMediaUnavailable, "playback.Register", "registry closed")
	}
	e, ok := r.entries[id]
	if !ok {
		e = &entry{state: model.PlaybackState{MessageID: id, Kind: kind, View: model.ViewMiniature}}
		r.entries[id] = e
	}
	e.mini = el
	return nil
}

// Unregister destroys the state of a removed message.
func (r *Registry) Unregister(id model.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.gesture != nil {
		e.gesture.detach()
		r.gestures--
	}
	if el := e.element(); el != nil && e.state.IsPlaying {
		el.Pause()
	}
	if r.active == id {
		r.setActive("")
	}
	delete(r.entries, id)
}

// Play pauses every other registered element, audio and video alike, then starts id.
// The whole sequence runs under one lock so no observer sees two items playing.
func (r *Registry) Play(id model.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playLocked(id)
}

func (r *Registry) playLocked(id model.ID) error {
	e, ok := r.entries[id]
	if !ok {
		return apperr.New(apperr.KindMediaUnavailable, "playback.Play", "media "+string(id)+" is not mounted")
	}
	el := e.element()
	if el == nil {
		return apperr.New(apperr.KindMediaUnavailable, "playback.Play", "media "+string(id)+" has no element")
	}
	r.pauseOthersLocked(id)
	if err := el.Play(); err != nil {
		e.state.IsPlaying = false
		if r.active == id {
			r.setActive("")
		}
		return apperr.Wrap(apperr.KindMediaUnavailable, "playback.Play", err)
	}
	e.state.IsPlaying = true
	r.setActive(id)
	return nil
}

func (r *Registry) pauseOthersLocked(id model.ID) {
	for otherID, other := range r.entries {
		if otherID == id {
			continue
		}
		if el := other.element(); el != nil {
			el.Pause()
		}
		other.state.IsPlaying = false
	}
}

func (r *Registry) setActive(id model.ID) {
	if r.active == id {
		return
	}
	from := r.active
	r.active = id
	if r.onSwitch != nil {
		r.onSwitch(from, id)
	}
}

func (r *Registry) Pause(id model.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseLocked(id)
}

func (r *Registry) pauseLocked(id model.ID) error {
	e, ok := r.entries[id]
	if !ok {
		return apperr.New(apperr.KindMediaUnavailable, "playback.Pause", "media "+string(id)+" is not mounted")
	}
	if el := e.element(); el != nil {
		el.Pause()
	}
	e.state.IsPlaying = false
	if r.active == id {
		r.setActive("")
	}
	return nil
}

func (r *Registry) Toggle(id model.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return apperr.New(apperr.KindMediaUnavailable, "playback.Toggle", "media "+string(id)+" is not mounted")
	}
	if e.state.IsPlaying {
		return r.pauseLocked(id)
	}
	return r.playLocked(id)
}

// Seek jumps to percent of the duration in one step (a zero-length gesture).
func (r *Registry) Seek(id model.ID, percent float64) error {
	g, err := r.BeginSeek(id, percent)
	if err != nil {
		return err
	}
	return g.Release()
}

// OnTimeUpdate records progress reported by the miniature element. Ignored while
// a seek gesture is active or while the fullscreen viewer owns the item.
func (r *Registry) OnTimeUpdate(id model.ID, seconds float64) {
	r.timeUpdate(id, model.ViewMiniature, seconds)
}

func (r *Registry) timeUpdate(id model.ID, view model.MediaView, seconds float64) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.state.IsSeeking || e.state.View != view {
		return
	}
	e.state.CurrentTime = seconds
}

// OnLoadedMetadata stores the element's duration; unusable values are stored as 0.
func (r *Registry) OnLoadedMetadata(id model.ID, duration float64) {
	if !validDuration(duration) {
		duration = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.state.Duration = duration
	}
}

// OnEnded rewinds the item and clears its playing flag.
func (r *Registry) OnEnded(id model.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.state.IsPlaying = false
	e.state.CurrentTime = 0
	if r.active == id {
		r.setActive("")
	}
}

// GetState returns a copy of the item's state; unknown ids yield a zero state for that id.
func (r *Registry) GetState(id model.ID) model.PlaybackState {
	s, _ := r.State(id)
	return s
}

func (r *Registry) State(id model.ID) (model.PlaybackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.PlaybackState{MessageID: id, View: model.ViewMiniature}, false
	}
	return copyState(e.state), true
}

func copyState(s model.PlaybackState) model.PlaybackState {
	if s.SeekPosition != nil {
		p := *s.SeekPosition
		s.SeekPosition = &p
	}
	return s
}

func (r *Registry) States() []model.PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.PlaybackState, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, copyState(e.state))
	}
	return out
}

// Active returns the id of the playing item, if any.
func (r *Registry) Active() (model.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// ActiveGestures is the number of seek gestures still holding pointer listeners.
func (r *Registry) ActiveGestures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gestures
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close pauses everything and drops all state; called when the view unmounts.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.gesture != nil {
			e.gesture.detach()
		}
		if e.mini != nil {
			e.mini.Pause()
		}
		if e.modal != nil {
			e.modal.Pause()
		}
	}
	r.entries = make(map[model.ID]*entry)
	r.gestures = 0
	r.setActive("")
	r.closed = true
}
