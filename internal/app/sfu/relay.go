package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// sink is one consumer's leg of a relay. The sequence fields belong to the
// relay loop and are never touched elsewhere.
type sink struct {
	out   *OutTrack
	write func(*rtp.Packet) error

	started   bool
	paused    bool // packets were dropped since the last write
	lastSeq   uint16
	seqOffset uint16
}

// renumber hides the packets a paused consumer never saw, so its receiver
// sees a continuous sequence instead of a loss burst.
func (s *sink) renumber(pkt *rtp.Packet) *rtp.Packet {
	if s.paused && s.started {
		s.seqOffset = pkt.SequenceNumber - s.lastSeq - 1
	}
	s.paused = false
	out := *pkt
	out.SequenceNumber = pkt.SequenceNumber - s.seqOffset
	s.started = true
	s.lastSeq = out.SequenceNumber
	return &out
}

// Relay reads one producer's remote track and fans packets out to its
// consumers. A consumer that starts or resumes triggers one keyframe request
// so it can decode from its first packet.
type Relay struct {
	Src *webrtc.TrackRemote

	requestKeyframe func()

	mu    sync.RWMutex
	sinks map[string]*sink

	cancel context.CancelFunc
}

// NewRelay builds a relay for src. requestKeyframe may be nil (audio).
func NewRelay(src *webrtc.TrackRemote, cancel context.CancelFunc, requestKeyframe func()) *Relay {
	return &Relay{
		Src:             src,
		requestKeyframe: requestKeyframe,
		sinks:           make(map[string]*sink),
		cancel:          cancel,
	}
}

// loop reads RTP packets from the source track until ctx is done or the
// source stops.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, dropping consumers")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended, stopping")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []string
	keyframe := false
	for consumerID, s := range snapshot {
		switch s.out.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
			s.paused = true
		case TrackStateOk:
			if !s.started || s.paused {
				keyframe = true
			}
			if err := s.write(s.renumber(pkt)); err != nil {
				logger.Error().
					Err(err).
					Str("consumer", consumerID).
					Msg("relay write RTP error, dropping consumer")
				s.out.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	if keyframe && r.requestKeyframe != nil {
		r.requestKeyframe()
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.sinks, id)
		}
		r.mu.Unlock()
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		s.out.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.attach(consumerID, ot, ot.Track.WriteRTP)
}

func (r *Relay) attach(consumerID string, ot *OutTrack, write func(*rtp.Packet) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[consumerID] = &sink{out: ot, write: write}
}

func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.markAllDelete()
}
