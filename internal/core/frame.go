package core

import "encoding/json"

// EventAck acknowledges a command received on a push link.
const EventAck = "cmd_ack"

// Frame is the envelope controllers send over push links (WebSocket,
// serial). Outbound frames are broadcast Events, which share the shape.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckPayload is the payload of a cmd_ack event.
type AckPayload struct {
	OK     bool `json:"ok"`
	Error  Code `json:"error,omitempty"`
	Queued bool `json:"queued,omitempty"`
}

// Ack builds the acknowledgement for a dispatched command.
func Ack(res *Result, err error) Event {
	p := AckPayload{OK: err == nil}
	if err != nil {
		p.Error = CodeOf(err)
	} else if res != nil {
		p.Queued = res.Queued
	}
	return Event{Type: EventAck, Payload: p}
}

// HandleFrame processes one inbound controller frame. Status frames replace
// the cached status; cmd frames are dispatched. The returned event, when
// non-nil, is the reply to send back on the same link.
func (d *Dispatcher) HandleFrame(data []byte) (*Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, Errorf(CodeInvalidJSON, "decode frame: %v", err)
	}
	switch f.Type {
	case EventStatus:
		st, err := DecodeStatus(f.Payload)
		if err != nil {
			return nil, err
		}
		_, err = d.hub.SetStatus(st)
		return nil, err
	case EventCommand:
		cmd, _, err := DecodeCommand(f.Payload)
		var res *Result
		if err == nil {
			res, err = d.Dispatch(cmd)
		}
		ack := Ack(res, err)
		return &ack, nil
	default:
		return nil, Errorf(CodeInvalidBody, "unknown frame type %q", f.Type)
	}
}
