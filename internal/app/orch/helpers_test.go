package orch

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/domain"
)

type sent struct {
	to  []core.ConnID
	all bool
	ev  core.Event
}

// recorder is a core.Publisher that keeps every event.
type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Publish(to []core.ConnID, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: slices.Clone(to), ev: ev})
}

func (r *recorder) PublishAll(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{all: true, ev: ev})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// received lists the events of type t that reached conn.
func (r *recorder) received(conn core.ConnID, t core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, s := range r.sent {
		if s.ev.Type != t {
			continue
		}
		if s.all || slices.Contains(s.to, conn) {
			out = append(out, s.ev)
		}
	}
	return out
}

func (r *recorder) ofType(t core.EventType) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sent {
		if s.ev.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// stepClock advances one second per reading so join order is strict.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	o   *Orchestrator
	eng *coretest.Engine
	pub *recorder
}

func newFixture(t *testing.T, store core.RoomStore, opts Options) *fixture {
	t.Helper()
	if opts.Clock == nil {
		clk := &stepClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
		opts.Clock = clk.Now
	}
	f := &fixture{eng: coretest.NewEngine(), pub: &recorder{}}
	f.o = New(app.NewRegistry(), f.eng, store, f.pub, nil, opts)
	t.Cleanup(f.o.Close)
	return f
}

func requester(id string) Requester {
	return Requester{
		ID:      domain.UserID(id),
		Profile: domain.Profile{DisplayName: id + "-name"},
		Conn:    core.ConnID("conn-" + id),
	}
}

func profile(id string) domain.Profile {
	return domain.Profile{DisplayName: id + "-name"}
}

func conn(id string) core.ConnID { return core.ConnID("conn-" + id) }

func hosts(v core.RoomView) []domain.UserID {
	var out []domain.UserID
	for _, p := range v.Participants {
		if p.IsHost {
			out = append(out, p.Identity)
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
