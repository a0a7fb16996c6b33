package event

import "time"

type Type string

const TypeMailRequested Type = "mail.requested"

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type Bus interface {
	// Publish returns how many subscribers accepted the event.
	Publish(e Event) int
	Subscribe() (<-chan Event, func())
}
