package signal

import (
	"bytes"
	"encoding/json"

	"github.com/dkeye/huddle/internal/core"
)

// request is the client envelope: {"id", "type", "data"}.
type request struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ackError struct {
	Kind    core.Kind `json:"kind"`
	Message string    `json:"message"`
}

type ack struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *ackError `json:"error,omitempty"`
}

func ackOK(id string, data any) ack {
	return ack{Type: "ack", ID: id, OK: true, Data: data}
}

func ackErr(id string, err error) ack {
	return ack{Type: "ack", ID: id, Error: &ackError{Kind: core.KindOf(err), Message: core.Message(err)}}
}

// decode reads a request payload; an absent payload decodes as zero.
func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.Wrap(core.KindBadRequest, err, "malformed payload")
	}
	return nil
}

func encodeEvent(ev core.Event) (core.Frame, error) {
	return json.Marshal(ev)
}
