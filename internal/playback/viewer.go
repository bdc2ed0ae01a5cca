package playback

import (
	"sync"

	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

// Handoff is what the fullscreen viewer reports back when it closes.
type Handoff struct {
	MessageID   model.ID `json:"message_id"`
	CurrentTime float64  `json:"current_time"`
	IsPlaying   bool     `json:"is_playing"`
}

// Viewer is the single fullscreen modal. The modal element is created once and
// reused; opening another item while open replaces the content in place.
type Viewer struct {
	reg   *Registry
	modal Element

	mu      sync.Mutex
	current *model.Message
}

func NewViewer(reg *Registry, modal Element) *Viewer {
	return &Viewer{reg: reg, modal: modal}
}

// Open shows msg fullscreen. For audio and video the modal element takes over the
// item's PlaybackState: the miniature is paused, the modal starts at the miniature's
// last known time and autoplays only if the miniature was playing.
func (v *Viewer) Open(msg model.Message) error {
	if msg.Attachment == nil {
		return apperr.New(apperr.KindValidation, "viewer.Open", "message has no attachment")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current != nil {
		if v.current.ID == msg.ID {
			return nil
		}
		v.closeLocked()
	}
	if msg.Attachment.IsMedia() {
		if err := v.reg.handOver(msg.ID, msg.Attachment.Kind, v.modal); err != nil {
			return err
		}
	}
	m := msg.Clone()
	v.current = &m
	return nil
}

// Close hides the viewer and hands the modal's final position and play state back to
// the miniature. ok is false when nothing was open.
func (v *Viewer) Close() (Handoff, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return Handoff{}, false
	}
	return v.closeLocked(), true
}

func (v *Viewer) closeLocked() Handoff {
	msg := v.current
	v.current = nil
	h := Handoff{MessageID: msg.ID}
	if !msg.Attachment.IsMedia() {
		return h
	}
	return v.reg.takeBack(msg.ID, v.modal)
}

func (v *Viewer) Current() (model.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return model.Message{}, false
	}
	return v.current.Clone(), true
}

func (v *Viewer) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current != nil
}

// OnTimeUpdate records progress reported by the modal element.
func (v *Viewer) OnTimeUpdate(seconds float64) {
	v.mu.Lock()
	cur := v.current
	v.mu.Unlock()
	if cur == nil || !cur.Attachment.IsMedia() {
		return
	}
	v.reg.timeUpdate(cur.ID, model.ViewModal, seconds)
}

// handOver moves ownership of id from its miniature to the modal element.
func (r *Registry) handOver(id model.ID, kind model.AttachmentKind, modal Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return apperr.New(apperr.KindMediaUnavailable, "viewer.Open", "registry closed")
	}
	e, ok := r.entries[id]
	if !ok {
		// Opened before the miniature mounted: create the state lazily.
		e = &entry{state: model.PlaybackState{MessageID: id, Kind: kind, View: model.ViewMiniature}}
		r.entries[id] = e
	}
	if e.gesture != nil {
		e.gesture.cancelLocked(e)
	}
	wasPlaying := e.state.IsPlaying
	if e.mini != nil {
		e.mini.Pause()
	}
	e.state.IsPlaying = false
	e.modal = modal
	e.state.View = model.ViewModal
	modal.SetCurrentTime(e.state.CurrentTime)
	if wasPlaying {
		return r.playLocked(id)
	}
	if r.active == id {
		r.setActive("")
	}
	return nil
}

// takeBack returns ownership to the miniature and applies the modal's final state
// to it, including the miniature element's own time.
func (r *Registry) takeBack(id model.ID, modal Element) Handoff {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Handoff{MessageID: id}
	e, ok := r.entries[id]
	if !ok || e.modal == nil {
		modal.Pause()
		return h
	}
	h.CurrentTime = e.state.CurrentTime
	h.IsPlaying = e.state.IsPlaying
	if p, ok := modal.(Positioner); ok {
		h.CurrentTime = p.CurrentTime()
		h.IsPlaying = !p.Paused()
	}
	modal.Pause()
	e.modal = nil
	e.state.View = model.ViewMiniature
	e.state.CurrentTime = h.CurrentTime
	e.state.IsPlaying = false
	if r.active == id {
		r.setActive("")
	}
	if e.mini != nil {
		e.mini.SetCurrentTime(h.CurrentTime)
	}
	if h.IsPlaying {
		if err := r.playLocked(id); err != nil {
			h.IsPlaying = false
		}
	}
	return h
}
