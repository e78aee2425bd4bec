package core

// Frame is a raw encoded message.
type Frame []byte

// ConnID names one low-level signaling connection. It changes on reconnect.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type EventType string

const (
	EventRoomCreated              EventType = "room.created"
	EventRoomListUpdated          EventType = "room.listUpdated"
	EventParticipantJoined        EventType = "room.participantJoined"
	EventParticipantLeft          EventType = "room.participantLeft"
	EventParticipantStatusUpdated EventType = "room.participantStatusUpdated"
	EventHostTransferred          EventType = "room.hostTransferred"
	EventRoomEnded                EventType = "room.ended"
	EventNewProducerAvailable     EventType = "media.newProducerAvailable"
	EventProducerClosed           EventType = "media.producerClosed"
	EventConsumerClosed           EventType = "media.consumerClosed"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// Publisher fans events out to connections. Implementations must not block.
type Publisher interface {
	Publish(to []ConnID, ev Event)
	PublishAll(ev Event)
}
