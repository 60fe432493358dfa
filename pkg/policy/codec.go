package policy

import (
	"encoding/json"
	"fmt"
)

// Codec serializes records and identities for the pending queue so parked
// writes survive process restart in a backend-agnostic form.
type Codec[T any, ID comparable] interface {
	EncodeRecord(record T) ([]byte, error)
	DecodeRecord(raw []byte) (T, error)
	EncodeID(id ID) ([]byte, error)
	DecodeID(raw []byte) (ID, error)
	// KeyString renders the identity for queue bookkeeping and logging.
	KeyString(id ID) string
}

// JSONCodec is the default Codec using encoding/json for both records and
// identities.
type JSONCodec[T any, ID comparable] struct{}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec[T any, ID comparable]() JSONCodec[T, ID] {
	return JSONCodec[T, ID]{}
}

// EncodeRecord marshals a record.
func (JSONCodec[T, ID]) EncodeRecord(record T) ([]byte, error) {
	return json.Marshal(record)
}

// DecodeRecord unmarshals a record.
func (JSONCodec[T, ID]) DecodeRecord(raw []byte) (T, error) {
	var record T
	if err := json.Unmarshal(raw, &record); err != nil {
		return record, fmt.Errorf("decode pending record: %w", err)
	}
	return record, nil
}

// EncodeID marshals an identity.
func (JSONCodec[T, ID]) EncodeID(id ID) ([]byte, error) {
	return json.Marshal(id)
}

// DecodeID unmarshals an identity.
func (JSONCodec[T, ID]) DecodeID(raw []byte) (ID, error) {
	var id ID
	if err := json.Unmarshal(raw, &id); err != nil {
		return id, fmt.Errorf("decode pending id: %w", err)
	}
	return id, nil
}

// KeyString renders the identity for queue bookkeeping.
func (JSONCodec[T, ID]) KeyString(id ID) string {
	return fmt.Sprintf("%v", id)
}
