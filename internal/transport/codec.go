package transport

import (
	"encoding/json"
	"fmt"

	"github.com/senutpal/synod/internal/paxos"
)

// Envelope is the wire form of a message: a type tag, the sending process,
// and the message body.
type Envelope struct {
	Type    paxos.MessageType `json:"type"`
	From    paxos.ProcessID   `json:"from"`
	Payload json.RawMessage   `json:"payload"`
}

// Encode wraps msg in an Envelope and marshals it.
func Encode(from paxos.ProcessID, msg paxos.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	return json.Marshal(Envelope{Type: msg.Type(), From: from, Payload: payload})
}

// Decode reverses Encode.
func Decode(data []byte) (paxos.ProcessID, paxos.Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	var (
		msg paxos.Message
		err error
	)
	switch env.Type {
	case paxos.MsgPrepare:
		var m paxos.Prepare
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case paxos.MsgPrepareResponse:
		var m paxos.PrepareResponse
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	case paxos.MsgPropose:
		var m paxos.Propose
		err = json.Unmarshal(env.Payload, &m)
		msg = m
	default:
		return "", nil, fmt.Errorf("decode: unknown message type %d", env.Type)
	}
	if err != nil {
		return "", nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return env.From, msg, nil
}
