// Package json is a thin facade over sonic configured for standard-library
// compatibility. Plan graphs, timeline exports, and event payloads are
// marshalled frequently enough that the faster codec pays for itself.
package json

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

var (
	// Marshal encodes a Go value as JSON.
	Marshal = api.Marshal

	// MarshalIndent encodes a Go value as indented JSON.
	MarshalIndent = api.MarshalIndent

	// MarshalToString encodes a Go value as a JSON string.
	MarshalToString = api.MarshalToString

	// Unmarshal decodes JSON into a Go value.
	Unmarshal = api.Unmarshal

	// UnmarshalFromString decodes a JSON string into a Go value.
	UnmarshalFromString = api.UnmarshalFromString

	// NewEncoder returns an encoder writing to w.
	NewEncoder = api.NewEncoder

	// NewDecoder returns a decoder reading from r.
	NewDecoder = api.NewDecoder

	// Valid reports whether data is valid JSON.
	Valid = api.Valid
)

// Encoder writes JSON values to an output stream.
type Encoder = sonic.Encoder

// Decoder reads and decodes JSON values from an input stream.
type Decoder = sonic.Decoder

// RawMessage is a raw encoded JSON value.
type RawMessage = stdjson.RawMessage

// Number represents a JSON number literal.
type Number = stdjson.Number

// Marshaler is implemented by types that can marshal themselves to JSON.
type Marshaler = stdjson.Marshaler

// Unmarshaler is implemented by types that can unmarshal a JSON description
// of themselves.
type Unmarshaler = stdjson.Unmarshaler
