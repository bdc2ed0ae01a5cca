package session

import (
	"github.com/convsession/internal/apperr"
	"github.com/convsession/internal/logger"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/playback"
)

// mountMedia registers a virtual element for every audio or video message not yet
// known to the registry, as a rendered bubble would on mount.
func (m *Manager) mountMedia(v *view, msgs []model.Message) {
	for _, msg := range msgs {
		if !msg.Attachment.IsMedia() || msg.Pending {
			continue
		}
		if _, ok := v.registry.State(msg.ID); ok {
			continue
		}
		if err := v.registry.Register(msg.ID, msg.Attachment.Kind, playback.NewVirtualElement()); err != nil {
			logger.Debugf("session: mount media %s: %v", msg.ID, err)
		}
	}
}

// MountMedia binds a real element to a media message, replacing the virtual one.
func (m *Manager) MountMedia(id model.ID, el playback.Element) error {
	v, msg, err := m.message("session.MountMedia", id)
	if err != nil {
		return err
	}
	if !msg.Attachment.IsMedia() {
		return apperr.New(apperr.KindValidation, "session.MountMedia", "message "+string(id)+" has no audio or video")
	}
	return v.registry.Register(id, msg.Attachment.Kind, el)
}

// Registry exposes the active view's playback registry for element callbacks.
func (m *Manager) Registry() (*playback.Registry, error) {
	v, err := m.current("session.Registry")
	if err != nil {
		return nil, err
	}
	return v.registry, nil
}

func (m *Manager) Play(id model.ID) error {
	v, err := m.current("session.Play")
	if err != nil {
		return m.report("play", err)
	}
	return m.report("play", v.registry.Play(id))
}

func (m *Manager) Pause(id model.ID) error {
	v, err := m.current("session.Pause")
	if err != nil {
		return m.report("pause", err)
	}
	return m.report("pause", v.registry.Pause(id))
}

func (m *Manager) Toggle(id model.ID) error {
	v, err := m.current("session.Toggle")
	if err != nil {
		return m.report("toggle", err)
	}
	return m.report("toggle", v.registry.Toggle(id))
}

func (m *Manager) Seek(id model.ID, percent float64) error {
	v, err := m.current("session.Seek")
	if err != nil {
		return m.report("seek", err)
	}
	return m.report("seek", v.registry.Seek(id, percent))
}

// MediaState returns the playback state of id; ok is false when it is not mounted.
func (m *Manager) MediaState(id model.ID) (model.PlaybackState, bool) {
	v, err := m.current("session.MediaState")
	if err != nil {
		return model.PlaybackState{}, false
	}
	return v.registry.State(id)
}

// OpenViewer shows a message's attachment fullscreen.
func (m *Manager) OpenViewer(id model.ID) error {
	v, msg, err := m.message("session.OpenViewer", id)
	if err != nil {
		return m.report("viewer_open", err)
	}
	return m.report("viewer_open", v.viewer.Open(msg))
}

// CloseViewer closes the fullscreen viewer and reports what was handed back to the miniature.
func (m *Manager) CloseViewer() (playback.Handoff, bool) {
	v, err := m.current("session.CloseViewer")
	if err != nil {
		return playback.Handoff{}, false
	}
	return v.viewer.Close()
}

// ViewerMessage returns the message shown fullscreen, if any.
func (m *Manager) ViewerMessage() (model.Message, bool) {
	v, err := m.current("session.ViewerMessage")
	if err != nil {
		return model.Message{}, false
	}
	return v.viewer.Current()
}
