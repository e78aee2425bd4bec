package core

import (
	"context"
	"strings"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool { return d == DirectionSend || d == DirectionRecv }

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

type RTPCodec struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

// Kind derives the media kind from the mime type ("audio/opus" -> audio).
func (c RTPCodec) Kind() MediaKind {
	kind, _, _ := strings.Cut(strings.ToLower(c.MimeType), "/")
	return MediaKind(kind)
}

// RTPCapabilities is a capability descriptor: the encodings a side can handle.
type RTPCapabilities struct {
	Codecs []RTPCodec `json:"codecs"`
}

func (c RTPCapabilities) Supports(mimeType string) bool {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}

type TransportParams struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	ICEServers []string  `json:"iceServers,omitempty"`
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnectParams carries the client half of a transport negotiation.
type ConnectParams struct {
	Type       string         `json:"type,omitempty"` // "offer" or "answer"
	SDP        string         `json:"sdp,omitempty"`
	Candidates []ICECandidate `json:"candidates,omitempty"`
}

// ConnectResult is non-empty when the engine answered a client offer.
type ConnectResult struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp,omitempty"`
}

type ProduceParams struct {
	Kind    MediaKind `json:"kind"`
	TrackID string    `json:"trackId,omitempty"`
	Tag     string    `json:"tag,omitempty"`
}

// ConsumerParams is what the receiving client needs to render a consumer.
type ConsumerParams struct {
	ProducerID string    `json:"producerId"`
	Kind       MediaKind `json:"kind"`
	Codec      RTPCodec  `json:"codec"`
	Type       string    `json:"type,omitempty"`
	SDP        string    `json:"sdp,omitempty"`
}

// Engine is the selective forwarding media engine.
// Its internal types never cross this boundary.
type Engine interface {
	CreateRouter(ctx context.Context) (Router, error)
	// Fatal yields an error when the engine's foundational worker dies.
	Fatal() <-chan error
	Close() error
}

// Router is the routing context of one room.
type Router interface {
	ID() string
	Capabilities() RTPCapabilities
	CreateTransport(ctx context.Context, dir Direction) (Transport, error)
	CanConsume(caps RTPCapabilities, producerID string) bool
	Close()
}

type Transport interface {
	ID() string
	Direction() Direction
	Params() TransportParams
	Connect(ctx context.Context, p ConnectParams) (ConnectResult, error)
	Produce(ctx context.Context, p ProduceParams) (Producer, error)
	Consume(ctx context.Context, producerID string) (Consumer, error)
	// OnClose registers a callback fired once, outside engine locks.
	OnClose(func())
	Close()
}

type Producer interface {
	ID() string
	Kind() MediaKind
	Tag() string
	OnClose(func())
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	Parameters() ConsumerParams
	Resume() error
	OnClose(func())
	Close()
}
