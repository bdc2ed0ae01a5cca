package playback

import (
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/model"
)

// SeekGesture is one drag on a seek bar. While it is active the element is paused
// and IsPlaying reads false, SeekPosition follows the pointer and time updates from
// the element are ignored. The item stays the registry's active one, so playback
// resumes on Release unless another item started or the item was paused meanwhile.
// Release or Cancel ends it; later calls are no-ops.
type SeekGesture struct {
	r          *Registry
	id         model.ID
	wasPlaying bool
	done       bool
}

// BeginSeek starts a gesture at percent. A gesture already running on the same
// item is cancelled first.
func (r *Registry) BeginSeek(id model.ID, percent float64) (*SeekGesture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, apperr.New(apperr.KindMediaUnavailable, "playback.BeginSeek", "media "+string(id)+" is not mounted")
	}
	if e.gesture != nil {
		e.gesture.cancelLocked(e)
	}
	g := &SeekGesture{r: r, id: id, wasPlaying: e.state.IsPlaying}
	if g.wasPlaying {
		if el := e.element(); el != nil {
			el.Pause()
		}
		e.state.IsPlaying = false
	}
	p := clampPercent(percent)
	e.state.IsSeeking = true
	e.state.SeekPosition = &p
	e.gesture = g
	r.gestures++
	return g, nil
}

func (g *SeekGesture) MessageID() model.ID { return g.id }

// WasPlaying reports whether the item was playing when the gesture began.
func (g *SeekGesture) WasPlaying() bool { return g.wasPlaying }

func (g *SeekGesture) Done() bool {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	return g.done
}

// Move updates the transient seek position without committing currentTime.
func (g *SeekGesture) Move(percent float64) {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	e := g.owner()
	if e == nil {
		return
	}
	p := clampPercent(percent)
	e.state.SeekPosition = &p
}

// Release commits the position: currentTime = seekPosition/100 * duration, the element
// is moved there, and playback resumes if it was playing before the gesture and no
// other item has taken over in the meantime.
func (g *SeekGesture) Release() error {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	e := g.owner()
	if e == nil {
		return nil
	}
	g.finishLocked(e)
	pos := 0.0
	if e.state.SeekPosition != nil {
		pos = *e.state.SeekPosition
	}
	t := TimeAt(pos, e.state.Duration)
	e.state.CurrentTime = t
	e.state.SeekPosition = nil
	if el := e.element(); el != nil {
		el.SetCurrentTime(t)
	}
	if g.resumeLocked() {
		return g.r.playLocked(g.id)
	}
	return nil
}

// Cancel abandons the gesture without moving the playhead.
func (g *SeekGesture) Cancel() {
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	if e := g.owner(); e != nil {
		g.cancelLocked(e)
	}
}

func (g *SeekGesture) cancelLocked(e *entry) {
	g.finishLocked(e)
	e.state.SeekPosition = nil
	if g.resumeLocked() {
		_ = g.r.playLocked(g.id)
	}
}

// resumeLocked reports whether playback interrupted by the gesture should restart:
// any Play or Pause during the drag moves the active item away from it.
func (g *SeekGesture) resumeLocked() bool {
	return g.wasPlaying && g.r.active == g.id
}

// owner returns the entry if this gesture is still the live one for it.
func (g *SeekGesture) owner() *entry {
	if g.done {
		return nil
	}
	e, ok := g.r.entries[g.id]
	if !ok || e.gesture != g {
		g.done = true
		return nil
	}
	return e
}

func (g *SeekGesture) finishLocked(e *entry) {
	g.done = true
	e.gesture = nil
	e.state.IsSeeking = false
	g.r.gestures--
}

// detach marks the gesture finished when its entry is dropped; the caller fixes the counter.
func (g *SeekGesture) detach() {
	g.done = true
}
