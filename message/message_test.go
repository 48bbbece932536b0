package message

import (
	"testing"
	"time"

	kerrors "github.com/c360/kasocki/errors"
)

func TestDecode_DefaultDeserializerAttachesOrigin(t *testing.T) {
	record := Record{
		Topic:     "orders",
		Partition: 2,
		Offset:    41,
		Timestamp: time.Unix(1700000000, 0),
		Key:       []byte("order-123"),
		Value:     []byte(`{"status":"ok"}`),
	}

	decoded, err := Decode(nil, record)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["status"] != "ok" {
		t.Errorf("expected decoded payload field, got %v", decoded["status"])
	}
	origin, ok := decoded[OriginKey].(Origin)
	if !ok {
		t.Fatalf("expected Origin under %q, got %T", OriginKey, decoded[OriginKey])
	}
	if origin.Topic != "orders" || origin.Partition != 2 || origin.Offset != 41 {
		t.Errorf("unexpected origin: %+v", origin)
	}
}

func TestDecode_InvalidJSONWrappedAsDeserialization(t *testing.T) {
	record := Record{Topic: "orders", Partition: 0, Offset: 0, Value: []byte(`not json`)}

	_, err := Decode(nil, record)
	if !kerrors.IsKind(err, kerrors.KindDeserialization) {
		t.Fatalf("expected Deserialization error, got %v", err)
	}
}

func TestDecode_UserDeserializerErrorWrapped(t *testing.T) {
	boom := func(payload []byte) (map[string]any, error) {
		return nil, errBoom
	}

	_, err := Decode(boom, Record{Topic: "orders", Value: []byte("whatever")})
	if !kerrors.IsKind(err, kerrors.KindDeserialization) {
		t.Fatalf("expected Deserialization error, got %v", err)
	}
	wireErr, ok := kerrors.AsError(err)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if wireErr.Unwrap() != errBoom {
		t.Errorf("expected original error preserved, got %v", wireErr.Unwrap())
	}
}

var errBoom = errDeserializer("boom")

type errDeserializer string

func (e errDeserializer) Error() string { return string(e) }
