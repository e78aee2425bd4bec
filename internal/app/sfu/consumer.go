package sfu

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/pion/webrtc/v4"
)

// Consumer forwards one producer to one recv transport.
// It starts paused; Resume lets packets through.
type Consumer struct {
	id        string
	producer  *Producer
	out       *OutTrack
	sender    *webrtc.RTPSender
	transport *Transport
	notify    closeNotifier

	// set once before the consumer is handed out
	params core.ConsumerParams
}

var _ core.Consumer = (*Consumer)(nil)

func newConsumer(id string, prod *Producer, out *OutTrack, sender *webrtc.RTPSender, t *Transport) *Consumer {
	return &Consumer{
		id:        id,
		producer:  prod,
		out:       out,
		sender:    sender,
		transport: t,
	}
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producer.id }

func (c *Consumer) Kind() core.MediaKind { return c.producer.kind }

func (c *Consumer) Parameters() core.ConsumerParams { return c.params }

func (c *Consumer) Resume() error {
	if c.notify.isClosed() {
		return core.Errorf(core.KindInvalidState, "consumer %s closed", c.id)
	}
	c.out.MarkOk()
	return nil
}

func (c *Consumer) Paused() bool { return c.out.GetState() == TrackStateMuted }

func (c *Consumer) OnClose(fn func()) { c.notify.OnClose(fn) }

func (c *Consumer) Close() {
	fns, ok := c.notify.markClosed()
	if !ok {
		return
	}
	c.out.MarkDelete()
	c.producer.removeConsumer(c.id)
	c.transport.removeConsumer(c)
	c.transport.logger.Debug().Str("consumer", c.id).Str("producer", c.producer.id).Msg("consumer closed")
	fire(fns)
}
