package session

import (
	"time"

	"github.com/convsession/internal/legacy"
	"github.com/convsession/internal/model"
	"github.com/convsession/internal/moderation"
	"github.com/convsession/internal/playback"
)

type ViewKind string

const (
	ViewSystem  ViewKind = "system"
	ViewMessage ViewKind = "message"
)

// MediaView is the render data of an audio or video attachment.
type MediaView struct {
	State    model.PlaybackState `json:"state"`
	Percent  float64             `json:"percent"`
	Elapsed  string              `json:"elapsed"`
	Duration string              `json:"duration"`
}

// MessageView is one renderable row of the conversation.
type MessageView struct {
	Kind       ViewKind                `json:"kind"`
	ID         model.ID                `json:"id"`
	SystemType model.SystemMessageType `json:"system_type,omitempty"`
	Sender     *model.User             `json:"sender,omitempty"`
	Content    string                  `json:"content"`
	Attachment *model.Attachment       `json:"attachment,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
	IsOwn      bool                    `json:"is_own"`
	IsRead     bool                    `json:"is_read"`
	Pending    bool                    `json:"pending"`
	Editing    bool                    `json:"editing"`
	Draft      string                  `json:"draft,omitempty"`
	Media      *MediaView              `json:"media,omitempty"`
}

// RenderMessages returns the active list in display order, system and user rows alike.
func (m *Manager) RenderMessages() []MessageView {
	v, err := m.current("session.RenderMessages")
	if err != nil {
		return nil
	}
	edit := v.editor.State()
	msgs := v.list.Messages()
	out := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		if msg.IsSystem {
			out = append(out, MessageView{
				Kind:       ViewSystem,
				ID:         msg.ID,
				SystemType: legacy.Resolve(msg),
				Content:    msg.Content,
				Timestamp:  msg.Timestamp,
			})
			continue
		}
		row := MessageView{
			Kind:       ViewMessage,
			ID:         msg.ID,
			Sender:     msg.Sender,
			Content:    msg.Content,
			Attachment: msg.Attachment,
			Timestamp:  msg.Timestamp,
			IsOwn:      msg.IsOwn,
			IsRead:     msg.IsRead,
			Pending:    msg.Pending,
		}
		if edit.Mode == moderation.ModeEditing && edit.MessageID == msg.ID {
			row.Editing = true
			row.Draft = edit.Draft
		}
		if st, ok := v.registry.State(msg.ID); ok {
			row.Media = &MediaView{
				State:    st,
				Percent:  playback.Percent(st),
				Elapsed:  playback.FormatTime(st.CurrentTime),
				Duration: playback.FormatTime(st.Duration),
			}
		}
		out = append(out, row)
	}
	return out
}
