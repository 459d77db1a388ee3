package commsutil

import (
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%s - empty payload", codecLogPrefix)
	}
	return json.Unmarshal(data, v)
}

// Respond encodes v and replies to msg. Messages without a reply subject are
// ignored.
func Respond(msg *comms.Msg, v interface{}) error {
	if msg.Reply == "" {
		return nil
	}
	data, err := EncodePayload(v)
	if err != nil {
		return fmt.Errorf("%s - failed to encode response: %w", codecLogPrefix, err)
	}
	if err := msg.Respond(data); err != nil {
		return fmt.Errorf("%s - failed to respond on %s: %w", codecLogPrefix, msg.Reply, err)
	}
	return nil
}
