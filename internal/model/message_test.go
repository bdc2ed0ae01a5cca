package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_DecodesNumbersAndStrings(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": " 7 ", "c": null}`), &v))
	assert.Equal(t, ID("42"), v.A)
	assert.Equal(t, ID("7"), v.B)
	assert.Equal(t, ID(""), v.C)
}

func TestMessage_DecodeUserMessage(t *testing.T) {
	raw := `{
		"id": 15, "conversation": 3,
		"sender": {"id": 2, "username": "bob"},
		"content": "hi", "timestamp": "2024-03-01T12:00:00Z", "is_read": true,
		"image_url": null, "file_url": "http://cdn/files/voice.ogg", "file": "files/voice.ogg", "file_type": "audio"
	}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, ID("15"), m.ID)
	assert.Equal(t, ID("3"), m.ConversationID)
	assert.Equal(t, "2", m.SenderID())
	assert.Equal(t, "hi", m.Content)
	assert.True(t, m.IsRead)
	assert.False(t, m.IsSystem)
	require.NotNil(t, m.Attachment)
	assert.Equal(t, AttachmentAudio, m.Attachment.Kind)
	assert.Equal(t, "voice.ogg", m.Attachment.FileName)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), m.Timestamp.UTC())
}

func TestMessage_DecodeSystemMessage(t *testing.T) {
	cases := map[string]string{
		"flag":      `{"id": 1, "content": "x", "is_system_message": true, "system_message_type": "user_added"}`,
		"type only": `{"id": 1, "content": "x", "system_message_type": "user_added"}`,
		"kind":      `{"id": 1, "content": "x", "message_type": "system", "system_message_type": "user_added"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(raw), &m))
			assert.True(t, m.IsSystem)
			assert.Equal(t, SystemUserAdded, m.SystemType)
			assert.Nil(t, m.Sender)
			assert.Equal(t, "", m.SenderID())
		})
	}
}

func TestMessage_DecodeAttachmentKinds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want AttachmentKind
	}{
		{"image url", `{"id":1,"image_url":"http://cdn/p.png","image":"p.png"}`, AttachmentImage},
		{"file type video", `{"id":1,"file_url":"http://cdn/clip","file_type":"video"}`, AttachmentVideo},
		{"file type pdf", `{"id":1,"file_url":"http://cdn/doc.mp3","file_type":"pdf"}`, AttachmentFile},
		{"extension fallback", `{"id":1,"file_url":"http://cdn/song.MP3?x=1"}`, AttachmentAudio},
		{"webm is video", `{"id":1,"file_url":"http://cdn/rec.webm"}`, AttachmentVideo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &m))
			require.NotNil(t, m.Attachment)
			assert.Equal(t, tc.want, m.Attachment.Kind)
		})
	}

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"content":"text"}`), &m))
	assert.Nil(t, m.Attachment)
}

func TestMessage_EncodeWireShape(t *testing.T) {
	m := Message{
		ID:         "5",
		Sender:     &User{ID: "1", Username: "alice"},
		Attachment: &Attachment{Kind: AttachmentImage, URL: "http://cdn/a.png", FileName: "a.png"},
		IsOwn:      true,
		Pending:    true,
	}
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "http://cdn/a.png", out["image_url"])
	assert.Equal(t, "image", out["file_type"])
	assert.Nil(t, out["content"])
	assert.Equal(t, "user", out["message_type"])
	assert.NotContains(t, out, "IsOwn")
	assert.NotContains(t, out, "Pending")

	sys := Message{ID: "6", IsSystem: true, SystemType: SystemGroupCreated, Content: "created"}
	b, err = json.Marshal(sys)
	require.NoError(t, err)
	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.IsSystem)
	assert.Equal(t, SystemGroupCreated, back.SystemType)
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := Message{Sender: &User{ID: "1"}, Attachment: &Attachment{URL: "a"}}
	c := m.Clone()
	c.Sender.ID = "2"
	c.Attachment.URL = "b"
	assert.Equal(t, ID("1"), m.Sender.ID)
	assert.Equal(t, "a", m.Attachment.URL)
}

func TestAttachment_IsMedia(t *testing.T) {
	var nilAtt *Attachment
	assert.False(t, nilAtt.IsMedia())
	assert.True(t, (&Attachment{Kind: AttachmentAudio}).IsMedia())
	assert.True(t, (&Attachment{Kind: AttachmentVideo}).IsMedia())
	assert.False(t, (&Attachment{Kind: AttachmentImage}).IsMedia())
	assert.Equal(t, AttachmentFile, KindFromFileName("archive"))
}

func TestSystemMessageType_Valid(t *testing.T) {
	assert.True(t, SystemOwnershipTransferred.Valid())
	assert.False(t, SystemMessageType("chat_renamed").Valid())
}
