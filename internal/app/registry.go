package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// PeerRef addresses one peer of one room.
type PeerRef struct {
	Code domain.RoomCode
	ID   domain.UserID
}

// Registry is the process-wide store of rooms keyed by code, plus the
// reverse index from a signaling connection to the peers it carries.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomCode]*core.RoomState
	conns map[core.ConnID]map[PeerRef]struct{}
	gen   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomCode]*core.RoomState),
		conns: make(map[core.ConnID]map[PeerRef]struct{}),
	}
}

// NextGeneration hands out a number no other room value will carry.
func (r *Registry) NextGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	return r.gen
}

func (r *Registry) Get(code domain.RoomCode) (*core.RoomState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	return room, ok
}

func (r *Registry) Has(code domain.RoomCode) bool {
	_, ok := r.Get(code)
	return ok
}

func (r *Registry) Put(room *core.RoomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.Meta.Code] = room
	log.Info().Str("module", "app.registry").Str("room", string(room.Meta.Code)).Uint64("gen", room.Generation()).Msg("room stored")
}

// Delete removes code only while it still maps to generation gen.
func (r *Registry) Delete(code domain.RoomCode, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok || room.Generation() != gen {
		return false
	}
	delete(r.rooms, code)
	log.Info().Str("module", "app.registry").Str("room", string(code)).Uint64("gen", gen).Msg("room removed")
	return true
}

// List returns all rooms ordered by creation time, code breaking ties.
func (r *Registry) List() []*core.RoomState {
	r.mu.RLock()
	out := make([]*core.RoomState, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b *core.RoomState) int {
		if c := a.Meta.CreatedAt.Compare(b.Meta.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.Meta.Code), string(b.Meta.Code))
	})
	return out
}

func (r *Registry) BindConn(conn core.ConnID, ref PeerRef) {
	if conn == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.conns[conn]
	if !ok {
		refs = make(map[PeerRef]struct{})
		r.conns[conn] = refs
	}
	refs[ref] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(ref.Code)).Str("peer", string(ref.ID)).Msg("bound connection")
}

func (r *Registry) UnbindConn(conn core.ConnID, ref PeerRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs, ok := r.conns[conn]
	if !ok {
		return
	}
	delete(refs, ref)
	if len(refs) == 0 {
		delete(r.conns, conn)
	}
	log.Debug().Str("module", "app.registry").Str("conn", string(conn)).Str("room", string(ref.Code)).Str("peer", string(ref.ID)).Msg("unbound connection")
}

// ConnRefs lists the peers carried by conn in a stable order.
func (r *Registry) ConnRefs(conn core.ConnID) []PeerRef {
	r.mu.RLock()
	out := make([]PeerRef, 0, len(r.conns[conn]))
	for ref := range r.conns[conn] {
		out = append(out, ref)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b PeerRef) int {
		if c := strings.Compare(string(a.Code), string(b.Code)); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}
