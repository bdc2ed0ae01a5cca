package model

// MediaView is the presentational binding currently driving a media item.
type MediaView string

const (
	ViewMiniature MediaView = "miniature"
	ViewModal     MediaView = "modal"
)

// PlaybackState is the single source of truth for one media-bearing message,
// shared by its miniature and modal views.
type PlaybackState struct {
	MessageID    ID             `json:"message_id"`
	Kind         AttachmentKind `json:"kind"`
	IsPlaying    bool           `json:"is_playing"`
	CurrentTime  float64        `json:"current_time"`
	Duration     float64        `json:"duration"`
	IsSeeking    bool           `json:"is_seeking"`
	SeekPosition *float64       `json:"seek_position"`
	View         MediaView      `json:"view"`
}
