package orch

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/core/coretest"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mediaRoom is a room with host "h" sending one stream and member "p" ready
// to receive it.
type mediaRoom struct {
	*fixture
	code     domain.RoomCode
	producer string
	recv     string
}

func newMediaRoom(t *testing.T, kind core.MediaKind) *mediaRoom {
	t.Helper()
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	view, err := f.o.CreateRoom(ctx, CreateRoomRequest{Title: "media"}, requester("h"))
	require.NoError(t, err)
	_, err = f.o.JoinRoom(ctx, view.Code, "p", profile("p"), conn("p"))
	require.NoError(t, err)

	send, err := f.o.CreateTransport(ctx, view.Code, "h", core.DirectionSend)
	require.NoError(t, err)
	pid, err := f.o.Produce(ctx, view.Code, "h", send.ID, core.ProduceParams{Kind: kind})
	require.NoError(t, err)
	recv, err := f.o.CreateTransport(ctx, view.Code, "p", core.DirectionRecv)
	require.NoError(t, err)

	return &mediaRoom{fixture: f, code: view.Code, producer: pid, recv: recv.ID}
}

func (m *mediaRoom) consumer(t *testing.T, id domain.UserID, cid string) *coretest.Consumer {
	t.Helper()
	m.o.mu.Lock()
	defer m.o.mu.Unlock()
	room, ok := m.o.Registry.Get(m.code)
	require.True(t, ok)
	peer, ok := room.Peer(id)
	require.True(t, ok)
	c, ok := peer.Consumers[cid]
	if !ok {
		return nil
	}
	return c.(*coretest.Consumer)
}

func (m *mediaRoom) transportCount(t *testing.T, id domain.UserID) int {
	t.Helper()
	m.o.mu.Lock()
	defer m.o.mu.Unlock()
	room, _ := m.o.Registry.Get(m.code)
	peer, ok := room.Peer(id)
	require.True(t, ok)
	return len(peer.Transports)
}

func TestConsumeRequiresCapabilities(t *testing.T) {
	m := newMediaRoom(t, core.KindVideo)
	ctx := context.Background()

	_, err := m.o.CreateConsumer(ctx, m.code, "p", m.producer, m.recv)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	assert.ErrorIs(t, m.o.SetCapabilities(ctx, m.code, "p", core.RTPCapabilities{}), core.ErrBadRequest)
}

func TestConsumeUnsupportedCodec(t *testing.T) {
	m := newMediaRoom(t, core.KindVideo)
	ctx := context.Background()

	opusOnly := core.RTPCapabilities{Codecs: []core.RTPCodec{{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}}
	require.NoError(t, m.o.SetCapabilities(ctx, m.code, "p", opusOnly))
	// the first descriptor wins
	require.NoError(t, m.o.SetCapabilities(ctx, m.code, "p", coretest.Capabilities))

	_, err := m.o.CreateConsumer(ctx, m.code, "p", m.producer, m.recv)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestConsumeAndResume(t *testing.T) {
	m := newMediaRoom(t, core.KindAudio)
	ctx := context.Background()
	require.NoError(t, m.o.SetCapabilities(ctx, m.code, "p", coretest.Capabilities))

	_, err := m.o.CreateConsumer(ctx, m.code, "p", "nope", m.recv)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = m.o.CreateConsumer(ctx, m.code, "p", m.producer, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	info, err := m.o.CreateConsumer(ctx, m.code, "p", m.producer, m.recv)
	require.NoError(t, err)
	assert.Equal(t, m.producer, info.ProducerID)
	assert.Equal(t, core.KindAudio, info.Kind)
	assert.Equal(t, "audio/opus", info.Parameters.Codec.MimeType)
	assert.Equal(t, "offer", info.Parameters.Type)

	c := m.consumer(t, "p", info.ID)
	require.NotNil(t, c)
	assert.False(t, c.Resumed(), "consumers start paused")

	require.NoError(t, m.o.ResumeConsumer(ctx, m.code, "p", info.ID))
	assert.True(t, c.Resumed())
	assert.ErrorIs(t, m.o.ResumeConsumer(ctx, m.code, "p", "nope"), core.ErrNotFound)
}

func TestTransportDirectionIsEnforced(t *testing.T) {
	m := newMediaRoom(t, core.KindAudio)
	ctx := context.Background()

	_, err := m.o.Produce(ctx, m.code, "p", m.recv, core.ProduceParams{Kind: core.KindAudio})
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = m.o.Produce(ctx, m.code, "h", m.recv, core.ProduceParams{Kind: core.KindAudio})
	assert.ErrorIs(t, err, core.ErrNotFound, "transport belongs to another peer")

	send, err := m.o.CreateTransport(ctx, m.code, "p", core.DirectionSend)
	require.NoError(t, err)
	_, err = m.o.CreateConsumer(ctx, m.code, "p", m.producer, send.ID)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = m.o.Produce(ctx, m.code, "p", m.recv, core.ProduceParams{Kind: "smell"})
	assert.ErrorIs(t, err, core.ErrBadRequest)

	_, err = m.o.CreateTransport(ctx, m.code, "p", core.Direction("sideways"))
	assert.ErrorIs(t, err, core.ErrBadRequest)

	res, err := m.o.ConnectTransport(ctx, m.code, "p", send.ID, core.ConnectParams{Type: "offer", SDP: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Type)
}

func TestCloseProducerClosesConsumers(t *testing.T) {
	m := newMediaRoom(t, core.KindVideo)
	ctx := context.Background()
	require.NoError(t, m.o.SetCapabilities(ctx, m.code, "p", coretest.Capabilities))
	info, err := m.o.CreateConsumer(ctx, m.code, "p", m.producer, m.recv)
	require.NoError(t, err)
	m.pub.reset()

	assert.ErrorIs(t, m.o.CloseProducer(ctx, m.code, "p", m.producer), core.ErrNotFound, "only the owner may close")
	require.NoError(t, m.o.CloseProducer(ctx, m.code, "h", m.producer))

	closed := m.pub.ofType(core.EventProducerClosed)
	require.Len(t, closed, 1)
	assert.ElementsMatch(t, []core.ConnID{conn("h"), conn("p")}, closed[0].to)

	assert.Eventually(t, func() bool {
		return len(m.pub.received(conn("p"), core.EventConsumerClosed)) == 1
	}, time.Second, 5*time.Millisecond)
	ev := m.pub.received(conn("p"), core.EventConsumerClosed)[0].Data.(ConsumerClosedData)
	assert.Equal(t, info.ID, ev.ConsumerID)
	assert.Equal(t, m.producer, ev.ProducerID)
	assert.Nil(t, m.consumer(t, "p", info.ID))

	// the engine's own close notification must not repeat producerClosed
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, m.pub.ofType(core.EventProducerClosed), 1)
}

func TestEngineClosedTransportIsForgotten(t *testing.T) {
	m := newMediaRoom(t, core.KindAudio)
	require.Equal(t, 1, m.transportCount(t, "p"))

	m.o.mu.Lock()
	room, _ := m.o.Registry.Get(m.code)
	peer, _ := room.Peer("p")
	tr := peer.Transports[m.recv]
	m.o.mu.Unlock()

	tr.Close()
	assert.Eventually(t, func() bool { return m.transportCount(t, "p") == 0 }, time.Second, 5*time.Millisecond)

	_, err := m.o.ConnectTransport(context.Background(), m.code, "p", m.recv, core.ConnectParams{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJoinOffersCurrentMedia(t *testing.T) {
	m := newMediaRoom(t, core.KindAudio)

	res, err := m.o.JoinRoom(context.Background(), m.code, "late", profile("late"), conn("late"))
	require.NoError(t, err)
	require.Len(t, res.CurrentMedia, 1)
	assert.Equal(t, m.producer, res.CurrentMedia[0].ProducerID)
	assert.Equal(t, domain.UserID("h"), res.CurrentMedia[0].Identity)
	assert.Equal(t, coretest.Capabilities, res.RTPCapabilities)
}
