package model

import (
	"encoding/json"
	"path"
	"time"
)

type Message struct {
	ID             ID
	ConversationID ID
	Sender         *User
	Content        string
	Attachment     *Attachment
	Timestamp      time.Time
	IsRead         bool
	IsSystem       bool
	SystemType     SystemMessageType

	// Local-only fields, never sent to the backend.
	IsOwn   bool
	Pending bool
}

func (m *Message) SenderID() string {
	if m == nil {
		return ""
	}
	return m.Sender.IDString()
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (m Message) Clone() Message {
	if m.Sender != nil {
		s := *m.Sender
		m.Sender = &s
	}
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}

// wireMessage is the backend's JSON shape for a message.
type wireMessage struct {
	ID                ID        `json:"id"`
	Conversation      ID        `json:"conversation,omitempty"`
	Sender            *User     `json:"sender,omitempty"`
	Content           *string   `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	IsRead            bool      `json:"is_read"`
	Image             *string   `json:"image,omitempty"`
	File              *string   `json:"file,omitempty"`
	ImageURL          *string   `json:"image_url"`
	FileURL           *string   `json:"file_url"`
	FileType          *string   `json:"file_type"`
	IsSystemMessage   bool      `json:"is_system_message"`
	SystemMessageType *string   `json:"system_message_type"`
	MessageType       string    `json:"message_type,omitempty"`
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:             w.ID,
		ConversationID: w.Conversation,
		Sender:         w.Sender,
		Content:        strOrEmpty(w.Content),
		Timestamp:      w.Timestamp,
		IsRead:         w.IsRead,
		IsSystem:       w.IsSystemMessage || w.MessageType == "system",
		SystemType:     SystemMessageType(strOrEmpty(w.SystemMessageType)),
	}
	// A set system_message_type alone also marks a system message, as the client always did.
	if m.SystemType != "" {
		m.IsSystem = true
	}
	m.Attachment = attachmentFromWire(&w)
	return nil
}

func attachmentFromWire(w *wireMessage) *Attachment {
	if url := strOrEmpty(w.ImageURL); url != "" {
		name := strOrEmpty(w.Image)
		if name == "" {
			name = url
		}
		return &Attachment{Kind: AttachmentImage, URL: url, FileName: path.Base(name)}
	}
	url := strOrEmpty(w.FileURL)
	if url == "" {
		return nil
	}
	name := strOrEmpty(w.File)
	if name == "" {
		name = url
	}
	name = path.Base(name)
	kind, ok := kindFromFileType(strOrEmpty(w.FileType))
	if !ok {
		kind = KindFromFileName(name)
	}
	return &Attachment{Kind: kind, URL: url, FileName: name}
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:              m.ID,
		Conversation:    m.ConversationID,
		Sender:          m.Sender,
		Content:         strPtr(m.Content),
		Timestamp:       m.Timestamp,
		IsRead:          m.IsRead,
		IsSystemMessage: m.IsSystem,
		MessageType:     "user",
	}
	if m.IsSystem {
		w.MessageType = "system"
		w.SystemMessageType = strPtr(string(m.SystemType))
	}
	if a := m.Attachment; a != nil {
		kind := string(a.Kind)
		if a.Kind == AttachmentImage {
			w.Image = strPtr(a.FileName)
			w.ImageURL = strPtr(a.URL)
		} else {
			w.File = strPtr(a.FileName)
			w.FileURL = strPtr(a.URL)
		}
		w.FileType = &kind
	}
	return json.Marshal(w)
}
