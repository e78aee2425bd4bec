package orch

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type RoomListData struct {
	Rooms []core.RoomView `json:"rooms"`
}

type RoomCreatedData struct {
	Room core.RoomView `json:"room"`
}

type ParticipantJoinedData struct {
	Code         domain.RoomCode        `json:"code"`
	Participant  core.ParticipantView   `json:"participant"`
	Participants []core.ParticipantView `json:"participants"`
	CurrentMedia []core.ProducerInfo    `json:"currentMedia"`
	Reconnected  bool                   `json:"reconnected"`
}

type ParticipantLeftData struct {
	Code         domain.RoomCode        `json:"code"`
	Identity     domain.UserID          `json:"identity"`
	DisplayName  string                 `json:"displayName"`
	Reason       string                 `json:"reason"`
	Participants []core.ParticipantView `json:"participants"`
}

type ParticipantStatusData struct {
	Code        domain.RoomCode      `json:"code"`
	Participant core.ParticipantView `json:"participant"`
}

type HostTransferredData struct {
	Code         domain.RoomCode      `json:"code"`
	Host         core.ParticipantView `json:"host"`
	PreviousHost domain.UserID        `json:"previousHost"`
}

type RoomEndedData struct {
	Code   domain.RoomCode `json:"code"`
	Reason string          `json:"reason"`
}

type ProducerEventData struct {
	Code domain.RoomCode `json:"code"`
	core.ProducerInfo
}

type ConsumerClosedData struct {
	Code       domain.RoomCode `json:"code"`
	ConsumerID string          `json:"consumerId"`
	ProducerID string          `json:"producerId"`
}

// Reasons carried by participantLeft and room.ended.
const (
	ReasonLeft         = "left"
	ReasonDisconnected = "disconnected"
	ReasonHostEnded    = "host_ended"
	ReasonEmpty        = "empty"
)

func (o *Orchestrator) publish(to []core.ConnID, ev core.Event) {
	if len(to) == 0 || o.Publisher == nil {
		return
	}
	o.Publisher.Publish(to, ev)
	o.Metrics.EventPublished(string(ev.Type))
}

func (o *Orchestrator) publishAll(ev core.Event) {
	if o.Publisher == nil {
		return
	}
	o.Publisher.PublishAll(ev)
	o.Metrics.EventPublished(string(ev.Type))
}

// broadcastRoomListLocked republishes the active room list to every observer.
func (o *Orchestrator) broadcastRoomListLocked() {
	o.publishAll(core.Event{
		Type: core.EventRoomListUpdated,
		Data: RoomListData{Rooms: o.roomListLocked()},
	})
	o.observeLocked()
}

func (o *Orchestrator) roomListLocked() []core.RoomView {
	out := make([]core.RoomView, 0)
	for _, room := range o.Registry.List() {
		if room.Meta.Ongoing() {
			out = append(out, roomView(room, false))
		}
	}
	return out
}

func roomView(room *core.RoomState, withParticipants bool) core.RoomView {
	v := core.RoomView{
		Code:             room.Meta.Code,
		Title:            room.Meta.Title,
		Description:      room.Meta.Description,
		CreatedBy:        room.Meta.CreatedBy,
		CreatedAt:        room.Meta.CreatedAt,
		Status:           room.Meta.Status,
		MaxParticipants:  room.Meta.MaxParticipants,
		ParticipantCount: room.PeerCount(),
		HostName:         hostName(room),
	}
	if withParticipants {
		v.Participants = rosterView(room)
	}
	return v
}

func hostName(room *core.RoomState) string {
	if host, ok := room.Host(); ok {
		return host.Meta.DisplayName
	}
	return core.UnknownHost
}

func rosterView(room *core.RoomState) []core.ParticipantView {
	peers := room.PeersByJoin()
	out := make([]core.ParticipantView, 0, len(peers))
	for _, p := range peers {
		out = append(out, participantView(p))
	}
	return out
}

func participantView(p *core.PeerState) core.ParticipantView {
	return core.ParticipantView{
		Identity:       p.Meta.ID,
		DisplayName:    p.Meta.DisplayName,
		Email:          p.Meta.Email,
		IsHost:         p.Meta.IsHost,
		IsMuted:        p.Meta.IsMuted,
		IsVideoEnabled: p.Meta.IsVideoEnabled,
		JoinedAt:       p.Meta.JoinedAt,
	}
}
