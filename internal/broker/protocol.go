// Package broker implements component G of SPEC_FULL.md: the resource
// broker. Its registry of scope buckets and write-once resource slots
// lives inside the controller process (never re-exec'd); re-exec'd
// executor subprocesses reach it over a length-prefixed JSON protocol on
// a Unix domain socket (SPEC_FULL.md §4.7's process-model translation).
package broker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"lymbo/internal/model"
)

// SocketName is the broker's well-known socket filename, created inside
// the run's report directory so executor subprocesses can find it
// without a side channel.
const SocketName = "lymbo-broker.sock"

// messageKind tags the wire envelope so a single connection can carry
// every request type the protocol needs.
type messageKind string

const (
	kindBorrow    messageKind = "borrow"
	kindPoll      messageKind = "poll"
	kindDecrement messageKind = "decrement"
	kindStop      messageKind = "stop"
)

// envelope is the outer wire frame; payload is re-marshaled per kind by
// the caller so the protocol doesn't need one giant variant struct.
type envelope struct {
	Kind    messageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// BorrowRequest asks the broker to elect (or join) a scope/fingerprint
// slot, publishing a setup request if this is the election (spec.md
// §4.7's "Election").
type BorrowRequest struct {
	Category    model.ScopeCategory `json:"category"`
	ScopeID     string              `json:"scope_id"`
	FactoryName string              `json:"factory_name"`
	Args        model.Params        `json:"args"`
	Env         map[string]string   `json:"env"`
}

// PollRequest names a slot by category and scope id. The client and the
// server do not use it: poll frames (kindPoll) carry a BorrowRequest,
// which the server resolves to the same slot.
type PollRequest struct {
	Category model.ScopeCategory `json:"category"`
	ScopeID  string              `json:"scope_id"`
}

// SlotResponse reports a slot's current state. Output carries whatever
// the factory printed to stdout during setup (spec.md §4.7: "Captured output is
// published in a sibling slot"), so every borrower can print it into its
// own test output once the slot settles.
type SlotResponse struct {
	Ready  bool            `json:"ready"`
	Value  json.RawMessage `json:"value,omitempty"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DecrementRequest reports that an executor's test finished and asks the
// broker to decrement every scope key the test referenced (spec.md
// §4.6); the broker responds once any now-zero buckets have been torn
// down inline.
type DecrementRequest struct {
	Scopes map[model.ScopeCategory]string `json:"scopes"`
}

// DecrementResponse is an empty acknowledgement, or an error string if a
// scope was unregistered (a collection/registry bug).
type DecrementResponse struct {
	Error string `json:"error,omitempty"`
}

// writeFrame writes a length-prefixed JSON message: a 4-byte big-endian
// length followed by that many bytes of JSON. A raw length prefix is
// used (rather than net/rpc or a line-delimited encoding) because the
// payloads here are a handful of small fixed-shape structs — gob's
// interface-registration machinery and rpc's method-dispatch conventions
// buy nothing a length prefix doesn't already provide more simply.
func writeFrame(w io.Writer, kind messageKind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker: marshaling %s payload: %w", kind, err)
	}
	env := envelope{Kind: kind, Payload: body}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("broker: marshaling envelope: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("broker: writing frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("broker: writing frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return envelope{}, fmt.Errorf("broker: reading frame body: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("broker: decoding envelope: %w", err)
	}
	return env, nil
}
