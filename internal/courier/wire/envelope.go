package wire

import (
	"encoding/json"
	"fmt"
)

// Frame opcodes. TypeTaskBatch and TypeSignal are the two payload-bearing
// shapes the broker accepts on publish topics; the rest are link control.
const (
	TypeConnect     = 1
	TypeSubscribe   = 2
	TypeTaskBatch   = 3
	TypeSignal      = 4
	TypeUnsubscribe = 5
)

// Envelope is the JSON body shared by every frame on the tunnel. Payload is
// itself JSON and is frequently double-encoded as a string by the upstream
// service, so it must always go through DecodePayload.
type Envelope struct {
	AppID     string          `json:"app_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
	Type      int             `json:"type"`
}

// Frame is one inbound or outbound message on the tunnel: an envelope
// addressed to a topic.
type Frame struct {
	Topic string `json:"topic"`
	QoS   int    `json:"qos,omitempty"`
	Envelope
}

// Marshal encodes the frame for the wire.
func (f *Frame) Marshal() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame for topic %s: %w", f.Topic, err)
	}
	return data, nil
}

// ParseFrame decodes one raw websocket message into a Frame.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unparseable frame: %v", err)}
	}
	if f.Topic == "" {
		return nil, &ProtocolError{Reason: "frame missing topic"}
	}
	return &f, nil
}

// EncodePayload marshals v into the envelope payload slot. When doubleEncode
// is set, the JSON is wrapped in a JSON string, matching the shape the task
// queue expects.
func EncodePayload(v interface{}, doubleEncode bool) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if !doubleEncode {
		return inner, nil
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("failed to double-encode payload: %w", err)
	}
	return outer, nil
}

// DecodePayload unmarshals an envelope payload into v, unwrapping one level
// of string encoding when present.
func DecodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("failed to unwrap string payload: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
