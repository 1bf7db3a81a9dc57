package bus

import "time"

// Kind names an event. Kinds are dot-separated so subscribers can filter by
// prefix ("frame." receives every inbound frame).
type Kind string

const (
	KindStateChanged     Kind = "conn.state_changed"
	KindReconnectPending Kind = "conn.reconnect_pending"

	// Inbound frames are published as "frame." + wire type.
	KindFramePrefix Kind = "frame."

	KindChatListUpdated Kind = "chatlist.updated"
	KindResetUnread     Kind = "chatlist.reset_unread"
	KindThreadUpdated   Kind = "thread.updated"

	KindOutboxQueued    Kind = "outbox.queued"
	KindOutboxSent      Kind = "outbox.sent"
	KindOutboxConfirmed Kind = "outbox.confirmed"
	KindOutboxFailed    Kind = "outbox.failed"
)

// FrameKind returns the bus kind for an inbound wire type.
func FrameKind(wireType string) Kind {
	return KindFramePrefix + Kind(wireType)
}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind Kind, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
