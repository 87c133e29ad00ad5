// Package events defines the wire payloads exchanged over Kafka between the
// API server, the background consumers and the websocket delivery nodes.
package events

import (
	"encoding/json"
	"time"
)

// EventKind identifies the payload carried by an Envelope.
type EventKind string

const (
	KindDirectMessage EventKind = "direct_message"
	KindGroupMessage  EventKind = "group_message"
	KindNotification  EventKind = "notification"
	KindPresence      EventKind = "presence"
)

// ConnectionRequested is published by the API server when a connection
// request passes validation; the consumer persists the pending connection and
// derives the receiver's notification.
type ConnectionRequested struct {
	RequesterID string    `json:"requesterId"`
	ReceiverID  string    `json:"receiverId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Envelope is the unit pushed to the outgoing topic. Recipients lists the
// user ids a delivery node should push the payload to; a node silently skips
// recipients not connected to it.
type Envelope struct {
	Kind       EventKind       `json:"kind"`
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(kind EventKind, recipients []string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Kind:       kind,
		Recipients: recipients,
		Payload:    raw,
		Timestamp:  time.Now(),
	}, nil
}
