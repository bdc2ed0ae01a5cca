// Package feed delivers server-side changes of one conversation to the session.
// A Poller refetches the whole list on an interval; a Subscriber listens to the
// backend's websocket events. Both hand the session the same Event values, so the
// merge logic does not depend on where the changes came from.
package feed

import (
	"context"

	"github.com/convsession/internal/model"
)

type EventKind string

const (
	// EventSnapshot is a full message list; merged by diffing ids.
	EventSnapshot EventKind = "snapshot"
	EventNew      EventKind = "new"
	EventEdited   EventKind = "edited"
	EventDeleted  EventKind = "deleted"
	// EventFailed reports a failed fetch or a dropped stream connection.
	EventFailed EventKind = "failed"
)

type Event struct {
	Kind           EventKind
	ConversationID model.ID
	Messages       []model.Message
	MessageID      model.ID
	Content        string
	Err            error
}

// Handler receives events in order from a single goroutine.
type Handler func(Event)

// Source runs until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}
