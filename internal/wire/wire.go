// Package wire defines the JSON messages replicas exchange over any
// transport.
//
// Two actions exist:
//
//	{"action":"update","data":[<datum>...],"tombstones":[<identifier>...]}
//	{"action":"sendCompleteState"}
//
// A message without an action, or with an action this version does not
// know, decodes successfully and is ignored by receivers; only malformed
// JSON or a malformed update payload is an error.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/crdt"
)

// Action names the purpose of a message.
type Action string

const (
	// ActionUpdate carries datums and tombstones to apply.
	ActionUpdate Action = "update"

	// ActionSendCompleteState asks the far side to emit everything it has.
	ActionSendCompleteState Action = "sendCompleteState"
)

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("wire: malformed message")

// Message is one frame on the wire.
type Message struct {
	Action     Action
	Datums     []crdt.Datum
	Tombstones []crdt.Identifier
}

// Update builds an update message from an emitted batch.
func Update(b crdt.Batch) Message {
	return Message{Action: ActionUpdate, Datums: b.Datums, Tombstones: b.Tombstones}
}

// RequestCompleteState builds a sendCompleteState message.
func RequestCompleteState() Message {
	return Message{Action: ActionSendCompleteState}
}

// Known reports whether the action is one this package defines.
func (m Message) Known() bool {
	return m.Action == ActionUpdate || m.Action == ActionSendCompleteState
}

// Batch returns the update payload as a crdt.Batch.
func (m Message) Batch() crdt.Batch {
	return crdt.Batch{Datums: m.Datums, Tombstones: m.Tombstones}
}

type updateJSON struct {
	Action     Action            `json:"action"`
	Data       []crdt.Datum      `json:"data"`
	Tombstones []crdt.Identifier `json:"tombstones"`
}

type envelopeJSON struct {
	Action     Action          `json:"action"`
	Data       json.RawMessage `json:"data"`
	Tombstones json.RawMessage `json:"tombstones"`
}

// Encode serialises m. Update messages always carry both arrays, even when
// empty.
func Encode(m Message) ([]byte, error) {
	switch m.Action {
	case ActionUpdate:
		out := updateJSON{Action: m.Action, Data: m.Datums, Tombstones: m.Tombstones}
		if out.Data == nil {
			out.Data = []crdt.Datum{}
		}
		if out.Tombstones == nil {
			out.Tombstones = []crdt.Identifier{}
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode update: %w", err)
		}
		return data, nil
	case "":
		return nil, fmt.Errorf("encode: message has no action")
	default:
		return json.Marshal(struct {
			Action Action `json:"action"`
		}{m.Action})
	}
}

// Decode parses one frame. Update payloads are fully validated; a missing
// tombstones array is read as empty.
func Decode(data []byte) (Message, error) {
	var env envelopeJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := Message{Action: env.Action}
	if env.Action != ActionUpdate {
		return msg, nil
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Message{}, fmt.Errorf("%w: update without data", ErrMalformed)
	}
	if err := json.Unmarshal(env.Data, &msg.Datums); err != nil {
		return Message{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	if len(env.Tombstones) > 0 && string(env.Tombstones) != "null" {
		if err := json.Unmarshal(env.Tombstones, &msg.Tombstones); err != nil {
			return Message{}, fmt.Errorf("%w: tombstones: %v", ErrMalformed, err)
		}
	}
	return msg, nil
}
