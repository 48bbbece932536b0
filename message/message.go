// Package message defines the object delivered to clients: a deserializer's
// output augmented with origin metadata about the broker record it came
// from (spec.md §3, §4.4).
package message

import (
	"encoding/json"
	"time"

	kerrors "github.com/c360/kasocki/errors"
)

// OriginKey is the reserved key under which origin metadata is attached to
// a deserialized message.
const OriginKey = "__origin"

// Origin describes where a message came from on the broker.
type Origin struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Key       []byte    `json:"key,omitempty"`
}

// Record is the raw broker record handed to a Deserializer.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Key       []byte
	Value     []byte
}

// Deserializer turns a raw broker record's payload into a decoded object.
// A user-supplied Deserializer replaces the default wholesale; any error it
// returns is wrapped as a Deserialization error by Decode.
type Deserializer func(payload []byte) (map[string]any, error)

// DefaultDeserializer decodes payload as UTF-8 JSON into a map.
func DefaultDeserializer(payload []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode runs deserializer over record.Value and attaches origin metadata
// under OriginKey. Any error from deserializer is wrapped as a
// Deserialization error carrying the original error and the raw record.
func Decode(deserializer Deserializer, record Record) (map[string]any, error) {
	if deserializer == nil {
		deserializer = DefaultDeserializer
	}

	decoded, err := deserializer(record.Value)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindDeserialization, err, "message", "Decode", "deserialize").
			WithField("topic", record.Topic).
			WithField("partition", record.Partition).
			WithField("offset", record.Offset).
			WithField("raw_len", len(record.Value)).
			WithField("record", record)
	}

	if decoded == nil {
		decoded = map[string]any{}
	}

	decoded[OriginKey] = Origin{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
		Key:       record.Key,
	}

	return decoded, nil
}
