package caja

import (
	"context"
	"time"

	"gymspace/internal/core"
)

type EventType string

const (
	EventOpened EventType = "caja.opened"
	EventClosed EventType = "caja.closed"
)

// Event describes a confirmed session transition.
type Event struct {
	Type          EventType
	Shift         core.Shift
	SessionID     string
	Responsible   string
	InitialAmount string
	Settlement    *core.Settlement // set for EventClosed
	OccurredAt    time.Time
}

// EventPublisher forwards transitions to other services. Publishing is best
// effort: a failure is logged and never undoes the transition.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}
