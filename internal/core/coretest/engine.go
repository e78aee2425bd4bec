// Package coretest provides an in-memory media engine for tests.
package coretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/huddle/internal/core"
)

var seq atomic.Uint64

func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
}

var Capabilities = core.RTPCapabilities{Codecs: []core.RTPCodec{
	{MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{MimeType: "video/VP8", ClockRate: 90000},
}}

func codecFor(kind core.MediaKind) core.RTPCodec {
	if kind == core.KindAudio {
		return Capabilities.Codecs[0]
	}
	return Capabilities.Codecs[1]
}

// Engine operations that can be held with Hold.
const (
	OpCreateTransport = "createTransport"
	OpProduce         = "produce"
	OpConsume         = "consume"
)

// Gate parks one engine call until Release.
type Gate struct {
	entered chan struct{}
	release chan struct{}
}

// Entered is closed once the held call is parked.
func (g *Gate) Entered() <-chan struct{} { return g.entered }

func (g *Gate) Release() { close(g.release) }

// Engine records what the orchestrator asked of it.
type Engine struct {
	mu      sync.Mutex
	routers []*Router
	fatal   chan error
	gates   map[string]*Gate

	// FailCreate, when set, fails every CreateRouter call.
	FailCreate error
}

var _ core.Engine = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{fatal: make(chan error, 1), gates: make(map[string]*Gate)}
}

// Hold parks the next call of op until the returned gate is released.
func (e *Engine) Hold(op string) *Gate {
	g := &Gate{entered: make(chan struct{}), release: make(chan struct{})}
	e.mu.Lock()
	e.gates[op] = g
	e.mu.Unlock()
	return g
}

func (e *Engine) wait(op string) {
	e.mu.Lock()
	g := e.gates[op]
	delete(e.gates, op)
	e.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.release
	}
}

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailCreate != nil {
		return nil, e.FailCreate
	}
	r := &Router{id: nextID("router"), eng: e, producers: make(map[string]*Producer)}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

func (e *Engine) Fatal() <-chan error { return e.fatal }

// Die simulates the loss of the engine's worker.
func (e *Engine) Die(err error) { e.fatal <- err }

func (e *Engine) Close() error { return nil }

// notifier runs close callbacks once; late registrations run immediately.
type notifier struct {
	mu     sync.Mutex
	closed bool
	fns    []func()
}

func (n *notifier) OnClose(fn func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		fn()
		return
	}
	n.fns = append(n.fns, fn)
	n.mu.Unlock()
}

func (n *notifier) close() bool {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	n.closed = true
	fns := n.fns
	n.fns = nil
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

func (n *notifier) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

type Router struct {
	notifier
	id  string
	eng *Engine

	mu         sync.Mutex
	transports []*Transport
	producers  map[string]*Producer
}

func (r *Router) ID() string { return r.id }

func (r *Router) Capabilities() core.RTPCapabilities { return Capabilities }

func (r *Router) CreateTransport(ctx context.Context, dir core.Direction) (core.Transport, error) {
	r.eng.wait(OpCreateTransport)
	if r.Closed() {
		return nil, core.Errorf(core.KindInvalidState, "router closed")
	}
	t := &Transport{id: nextID("transport"), dir: dir, router: r}
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
	return t, nil
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}

func (r *Router) CanConsume(caps core.RTPCapabilities, producerID string) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	return ok && caps.Supports(codecFor(p.kind).MimeType)
}

func (r *Router) Close() {
	r.mu.Lock()
	ts := append([]*Transport(nil), r.transports...)
	r.mu.Unlock()
	if !r.close() {
		return
	}
	for _, t := range ts {
		t.Close()
	}
}

type Transport struct {
	notifier
	id     string
	dir    core.Direction
	router *Router

	mu        sync.Mutex
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() core.Direction { return t.dir }

func (t *Transport) Params() core.TransportParams {
	return core.TransportParams{ID: t.id, Direction: t.dir}
}

func (t *Transport) Connect(ctx context.Context, p core.ConnectParams) (core.ConnectResult, error) {
	if p.Type == "offer" {
		return core.ConnectResult{Type: "answer", SDP: "answer-for-" + t.id}, nil
	}
	return core.ConnectResult{}, nil
}

func (t *Transport) Produce(ctx context.Context, p core.ProduceParams) (core.Producer, error) {
	t.router.eng.wait(OpProduce)
	if t.dir != core.DirectionSend {
		return nil, core.Errorf(core.KindInvalidState, "not a send transport")
	}
	prod := &Producer{id: nextID("producer"), kind: p.Kind, tag: p.Tag, router: t.router}
	t.mu.Lock()
	t.producers = append(t.producers, prod)
	t.mu.Unlock()
	t.router.mu.Lock()
	t.router.producers[prod.id] = prod
	t.router.mu.Unlock()
	return prod, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string) (core.Consumer, error) {
	t.router.eng.wait(OpConsume)
	if t.dir != core.DirectionRecv {
		return nil, core.Errorf(core.KindInvalidState, "not a recv transport")
	}
	t.router.mu.Lock()
	prod, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, core.Errorf(core.KindNotFound, "producer %s not found", producerID)
	}
	c := &Consumer{id: nextID("consumer"), producer: prod}
	prod.mu.Lock()
	prod.consumers = append(prod.consumers, c)
	prod.mu.Unlock()
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) Producers() []*Producer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Producer(nil), t.producers...)
}

func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) Close() {
	t.mu.Lock()
	ps := append([]*Producer(nil), t.producers...)
	cs := append([]*Consumer(nil), t.consumers...)
	t.mu.Unlock()
	if !t.close() {
		return
	}
	for _, p := range ps {
		p.Close()
	}
	for _, c := range cs {
		c.Close()
	}
}

type Producer struct {
	notifier
	id     string
	kind   core.MediaKind
	tag    string
	router *Router

	mu        sync.Mutex
	consumers []*Consumer
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) Tag() string { return p.tag }

func (p *Producer) Close() {
	p.mu.Lock()
	cs := append([]*Consumer(nil), p.consumers...)
	p.mu.Unlock()
	if !p.close() {
		return
	}
	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()
	for _, c := range cs {
		c.Close()
	}
}

type Consumer struct {
	notifier
	id       string
	producer *Producer
	resumed  atomic.Bool
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producer.id }

func (c *Consumer) Kind() core.MediaKind { return c.producer.kind }

func (c *Consumer) Parameters() core.ConsumerParams {
	return core.ConsumerParams{
		ProducerID: c.producer.id,
		Kind:       c.producer.kind,
		Codec:      codecFor(c.producer.kind),
		Type:       "offer",
		SDP:        "offer-for-" + c.id,
	}
}

func (c *Consumer) Resume() error {
	if c.Closed() {
		return core.Errorf(core.KindInvalidState, "consumer closed")
	}
	c.resumed.Store(true)
	return nil
}

func (c *Consumer) Resumed() bool { return c.resumed.Load() }

func (c *Consumer) Close() { c.close() }
