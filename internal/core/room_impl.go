package core

import (
	"slices"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
)

// RoomState is an in-memory room and its peer directory.
// It is not safe for concurrent use; the coordinator serializes access.
// It never closes engine-owned resources by itself.
type RoomState struct {
	Meta   *domain.Room
	Router Router
	peers  map[domain.UserID]*PeerState
	gen    uint64
}

func NewRoomState(meta *domain.Room, router Router, gen uint64) *RoomState {
	return &RoomState{
		Meta:   meta,
		Router: router,
		peers:  make(map[domain.UserID]*PeerState),
		gen:    gen,
	}
}

// Generation distinguishes this value from any later room reusing the code.
func (r *RoomState) Generation() uint64 { return r.gen }

func (r *RoomState) PeerCount() int { return len(r.peers) }

func (r *RoomState) Peer(id domain.UserID) (*PeerState, bool) {
	p, ok := r.peers[id]
	return p, ok
}

func (r *RoomState) AddPeer(p *PeerState) {
	r.peers[p.Meta.ID] = p
}

func (r *RoomState) RemovePeer(id domain.UserID) (*PeerState, bool) {
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
	}
	return p, ok
}

// Host scans the directory for the peer holding host authority.
func (r *RoomState) Host() (*PeerState, bool) {
	for _, p := range r.peers {
		if p.Meta.IsHost {
			return p, true
		}
	}
	return nil, false
}

// PeersByJoin returns the peers ordered by join time.
func (r *RoomState) PeersByJoin() []*PeerState {
	out := make([]*PeerState, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *PeerState) int {
		switch {
		case a.Meta.JoinedBefore(b.Meta):
			return -1
		case b.Meta.JoinedBefore(a.Meta):
			return 1
		}
		return 0
	})
	return out
}

// Conns lists the connections of every peer except the given identities.
func (r *RoomState) Conns(except ...domain.UserID) []ConnID {
	out := make([]ConnID, 0, len(r.peers))
	for id, p := range r.peers {
		if slices.Contains(except, id) || p.Conn == "" {
			continue
		}
		out = append(out, p.Conn)
	}
	return out
}

// FindProducer locates a producer and its owner.
func (r *RoomState) FindProducer(id string) (Producer, *PeerState, bool) {
	for _, p := range r.peers {
		if prod, ok := p.Producers[id]; ok {
			return prod, p, true
		}
	}
	return nil, nil, false
}

// Producers returns every producer of the room in join order of their owners.
func (r *RoomState) Producers() []ProducerInfo {
	var out []ProducerInfo
	for _, p := range r.PeersByJoin() {
		out = append(out, p.ProducerInfos()...)
	}
	return out
}

// PeerState binds domain.Member, its current connection and the engine
// handles it owns. Handles are references only; the engine closes them.
type PeerState struct {
	Meta       *domain.Member
	Conn       ConnID
	Caps       *RTPCapabilities
	Transports map[string]Transport
	Producers  map[string]Producer
	Consumers  map[string]Consumer
}

func NewPeerState(meta *domain.Member, conn ConnID) *PeerState {
	return &PeerState{
		Meta:       meta,
		Conn:       conn,
		Transports: make(map[string]Transport),
		Producers:  make(map[string]Producer),
		Consumers:  make(map[string]Consumer),
	}
}

func (p *PeerState) ProducerInfos() []ProducerInfo {
	out := make([]ProducerInfo, 0, len(p.Producers))
	for _, prod := range p.Producers {
		out = append(out, ProducerInfo{
			ProducerID: prod.ID(),
			Kind:       prod.Kind(),
			Identity:   p.Meta.ID,
			Tag:        prod.Tag(),
		})
	}
	slices.SortFunc(out, func(a, b ProducerInfo) int {
		return strings.Compare(a.ProducerID, b.ProducerID)
	})
	return out
}
