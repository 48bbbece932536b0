package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

func TestClass_String(t *testing.T) {
	tests := []struct {
		class    Class
		expected string
	}{
		{ClassTransient, "transient"},
		{ClassInvalid, "invalid"},
		{ClassFatal, "fatal"},
		{Class(999), "unknown"},
	}
	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.class.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

func TestNewAndKindOf(t *testing.T) {
	err := New(KindTopicNotAvailable, "topic %s not available", "orders")
	if KindOf(err) != KindTopicNotAvailable {
		t.Errorf("expected kind %s, got %s", KindTopicNotAvailable, KindOf(err))
	}
	if !IsKind(err, KindTopicNotAvailable) {
		t.Error("expected IsKind to match")
	}
	if KindOf(fmt.Errorf("plain")) != KindKasocki {
		t.Error("expected plain errors to classify as Kasocki")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(KindDeserialization, nil, "c", "m", "a") != nil {
		t.Error("expected nil wrap of nil error to return nil")
	}
	wrapped := Wrap(KindDeserialization, fmt.Errorf("boom"), "session", "consume", "deserialize")
	if wrapped.Unwrap().Error() != "boom" {
		t.Errorf("expected unwrap to surface original error, got %v", wrapped.Unwrap())
	}
	if wrapped.Class() != ClassTransient {
		t.Errorf("expected Deserialization to default to transient, got %s", wrapped.Class())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"timeout in message", fmt.Errorf("poll timeout occurred"), true},
		{"partition eof", fmt.Errorf("partition EOF"), true},
		{"invalid kind", New(KindInvalidFilter, "bad filter"), false},
		{"deserialization kind", New(KindDeserialization, "bad json"), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransient(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(nil) {
		t.Error("nil error must not be fatal")
	}
	if !IsFatal(New(KindKasocki, "boom")) {
		t.Error("expected generic Kasocki kind to default to fatal")
	}
	if IsFatal(New(KindAlreadyStarted, "already started")) {
		t.Error("expected AlreadyStarted to default to invalid, not fatal")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(KindTopicNotAvailable, "topic missing").
		WithSession("sock-1").
		WithEvent("subscribe").
		WithField("availableTopics", []string{"a", "b"})

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal failed: %v", marshalErr)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded["name"] != string(KindTopicNotAvailable) {
		t.Errorf("expected name %s, got %v", KindTopicNotAvailable, decoded["name"])
	}
	if decoded["socket"] != "sock-1" {
		t.Errorf("expected socket sock-1, got %v", decoded["socket"])
	}
	if _, hasStack := decoded["stack"]; hasStack {
		t.Error("wire shape must never include a stack trace")
	}
}
