package sfu

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	seqs []uint16
	err  error
}

func (c *capture) write(pkt *rtp.Packet) error {
	if c.err != nil {
		return c.err
	}
	c.seqs = append(c.seqs, pkt.SequenceNumber)
	return nil
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: []byte{1}}
}

func TestRelayRenumbersAcrossPause(t *testing.T) {
	keyframes := 0
	r := NewRelay(nil, nil, func() { keyframes++ })
	logger := zerolog.Nop()

	ot := NewOutTrack(nil, true)
	var got capture
	r.attach("c1", ot, got.write)

	r.forward(packet(10), &logger)
	r.forward(packet(11), &logger)
	assert.Empty(t, got.seqs)
	assert.Zero(t, keyframes)

	ot.MarkOk()
	r.forward(packet(12), &logger)
	r.forward(packet(13), &logger)
	assert.Equal(t, 1, keyframes)

	ot.MarkMuted()
	for seq := uint16(14); seq <= 16; seq++ {
		r.forward(packet(seq), &logger)
	}
	ot.MarkOk()
	r.forward(packet(17), &logger)
	r.forward(packet(18), &logger)

	assert.Equal(t, []uint16{12, 13, 14, 15}, got.seqs)
	assert.Equal(t, 2, keyframes)
}

func TestRelayRenumberWraps(t *testing.T) {
	r := NewRelay(nil, nil, nil)
	logger := zerolog.Nop()
	ot := NewOutTrack(nil, false)
	var got capture
	r.attach("c1", ot, got.write)

	r.forward(packet(65535), &logger)
	ot.MarkMuted()
	r.forward(packet(2), &logger)
	ot.MarkOk()
	r.forward(packet(5), &logger)

	assert.Equal(t, []uint16{65535, 0}, got.seqs)
}

func TestRelayConsumersAreIndependent(t *testing.T) {
	r := NewRelay(nil, nil, nil)
	logger := zerolog.Nop()
	live, paused := NewOutTrack(nil, false), NewOutTrack(nil, true)
	var a, b capture
	r.attach("live", live, a.write)
	r.attach("paused", paused, b.write)

	r.forward(packet(100), &logger)
	paused.MarkOk()
	r.forward(packet(101), &logger)

	assert.Equal(t, []uint16{100, 101}, a.seqs)
	assert.Equal(t, []uint16{101}, b.seqs)
}

func TestRelayDropsDeadConsumers(t *testing.T) {
	r := NewRelay(nil, nil, nil)
	logger := zerolog.Nop()

	closed := NewOutTrack(nil, false)
	closed.MarkDelete()
	var c capture
	r.attach("closed", closed, c.write)

	broken := NewOutTrack(nil, false)
	failing := capture{err: errors.New("binding gone")}
	r.attach("broken", broken, failing.write)

	r.forward(packet(1), &logger)
	assert.Empty(t, c.seqs)
	assert.Equal(t, TrackStateDelete, broken.GetState())
	r.mu.RLock()
	defer r.mu.RUnlock()
	require.Empty(t, r.sinks)
}

func TestRelayStopMarksConsumers(t *testing.T) {
	cancelled := false
	r := NewRelay(nil, func() { cancelled = true }, nil)
	ot := NewOutTrack(nil, false)
	r.attach("c1", ot, (&capture{}).write)

	r.Stop()
	assert.True(t, cancelled)
	assert.Equal(t, TrackStateDelete, ot.GetState())
}
