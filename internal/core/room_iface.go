package core

import (
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

// UnknownHost is shown in listings while a room momentarily has no host.
const UnknownHost = "Unknown"

// ParticipantView is a read-only view for APIs (no transport fields).
type ParticipantView struct {
	Identity       domain.UserID `json:"identity"`
	DisplayName    string        `json:"displayName"`
	Email          string        `json:"email,omitempty"`
	IsHost         bool          `json:"isHost"`
	IsMuted        bool          `json:"isMuted"`
	IsVideoEnabled bool          `json:"isVideoEnabled"`
	JoinedAt       time.Time     `json:"joinedAt"`
}

// RoomView merges the archived fields of a room with its runtime state.
type RoomView struct {
	Code             domain.RoomCode   `json:"code"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	CreatedBy        domain.UserID     `json:"createdBy"`
	CreatedAt        time.Time         `json:"createdAt"`
	Status           domain.RoomStatus `json:"status"`
	MaxParticipants  int               `json:"maxParticipants"`
	ParticipantCount int               `json:"participantCount"`
	HostName         string            `json:"hostName"`
	Participants     []ParticipantView `json:"participants,omitempty"`
}

// ProducerInfo is the stable descriptor of a flowing media stream.
type ProducerInfo struct {
	ProducerID string        `json:"producerId"`
	Kind       MediaKind     `json:"kind"`
	Identity   domain.UserID `json:"identity"`
	Tag        string        `json:"tag,omitempty"`
}
