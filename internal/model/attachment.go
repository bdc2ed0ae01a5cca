package model

import (
	"path"
	"strings"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentVideo AttachmentKind = "video"
)

// Attachment is immutable once the message is created; edits never touch it.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url"`
	FileName string         `json:"file_name"`
}

// IsMedia reports whether the attachment has playback state (audio or video).
func (a *Attachment) IsMedia() bool {
	return a != nil && (a.Kind == AttachmentAudio || a.Kind == AttachmentVideo)
}

var (
	imageExt = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "bmp": {}, "svg": {}}
	videoExt = map[string]struct{}{"mp4": {}, "mov": {}, "avi": {}, "mkv": {}, "webm": {}, "flv": {}, "wmv": {}, "m4v": {}}
	audioExt = map[string]struct{}{"mp3": {}, "wav": {}, "ogg": {}, "m4a": {}, "flac": {}, "aac": {}}
)

// KindFromFileName guesses the attachment kind from the file extension.
// webm is treated as video, matching the backend's file_type order.
func KindFromFileName(name string) AttachmentKind {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return AttachmentFile
	}
	if _, ok := imageExt[ext]; ok {
		return AttachmentImage
	}
	if _, ok := videoExt[ext]; ok {
		return AttachmentVideo
	}
	if _, ok := audioExt[ext]; ok {
		return AttachmentAudio
	}
	return AttachmentFile
}

// kindFromFileType maps the backend's file_type field; unknown values (pdf, document) become file.
func kindFromFileType(fileType string) (AttachmentKind, bool) {
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "image":
		return AttachmentImage, true
	case "video":
		return AttachmentVideo, true
	case "audio":
		return AttachmentAudio, true
	case "":
		return "", false
	default:
		return AttachmentFile, true
	}
}
