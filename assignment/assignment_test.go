package assignment

import (
	"encoding/json"
	"testing"

	kerrors "github.com/c360/kasocki/errors"
)

func mustRaw(t *testing.T, v string) json.RawMessage {
	t.Helper()
	return json.RawMessage(v)
}

func TestParse_BareString(t *testing.T) {
	req, err := Parse(mustRaw(t, `"orders"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Topics) != 1 || req.Topics[0] != "orders" {
		t.Errorf("expected one-element topic list, got %v", req.Topics)
	}
}

func TestParse_StringArray(t *testing.T) {
	req, err := Parse(mustRaw(t, `["orders", "payments"]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(req.Topics))
	}
}

func TestParse_TupleArray(t *testing.T) {
	req, err := Parse(mustRaw(t, `[{"topic":"orders","partition":0,"offset":0}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Tuples) != 1 || req.Tuples[0].Offset != 0 {
		t.Fatalf("expected one tuple at offset 0, got %v", req.Tuples)
	}
}

func TestParse_MixedFormRejected(t *testing.T) {
	_, err := Parse(mustRaw(t, `["orders", {"topic":"payments","partition":0,"offset":-1}]`))
	if !kerrors.IsKind(err, kerrors.KindInvalidAssignment) {
		t.Fatalf("expected InvalidAssignment, got %v", err)
	}
}

func TestParse_EmptyRejected(t *testing.T) {
	_, err := Parse(mustRaw(t, `[]`))
	if !kerrors.IsKind(err, kerrors.KindInvalidAssignment) {
		t.Fatalf("expected InvalidAssignment, got %v", err)
	}
}

func TestParse_NegativeOffsetOtherThanLatestRejected(t *testing.T) {
	_, err := Parse(mustRaw(t, `[{"topic":"orders","partition":0,"offset":-2}]`))
	if !kerrors.IsKind(err, kerrors.KindInvalidAssignment) {
		t.Fatalf("expected InvalidAssignment, got %v", err)
	}
}

func TestParse_NegativePartitionRejected(t *testing.T) {
	_, err := Parse(mustRaw(t, `[{"topic":"orders","partition":-1,"offset":0}]`))
	if !kerrors.IsKind(err, kerrors.KindInvalidAssignment) {
		t.Fatalf("expected InvalidAssignment, got %v", err)
	}
}

func TestNormalize_ExpandsTopicNamesToAllPartitions(t *testing.T) {
	req := Request{Topics: []string{"orders"}}
	out, err := Normalize(req, map[string][]int32{"orders": {0, 1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 partitions expanded, got %d", len(out))
	}
	for _, a := range out {
		if a.Offset != OffsetLatest {
			t.Errorf("expected expanded offset -1, got %d", a.Offset)
		}
	}
}

func TestNormalize_TuplesPassThrough(t *testing.T) {
	req := Request{Tuples: []Assignment{{Topic: "orders", Partition: 0, Offset: 5}}}
	out, err := Normalize(req, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Offset != 5 {
		t.Fatalf("expected passthrough tuple, got %v", out)
	}
}

func TestValidate_FirstFailureWins(t *testing.T) {
	assignments := []Assignment{
		{Topic: "orders", Partition: 0, Offset: -1},
		{Topic: "shadow-realm", Partition: 0, Offset: -1},
	}
	available := map[string]struct{}{"orders": {}}

	err := Validate(assignments, available)
	if !kerrors.IsKind(err, kerrors.KindTopicNotAvailable) {
		t.Fatalf("expected TopicNotAvailable, got %v", err)
	}
	wireErr, ok := kerrors.AsError(err)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if wireErr.Fields["topic"] != "shadow-realm" {
		t.Errorf("expected offending topic in fields, got %v", wireErr.Fields["topic"])
	}
}

func TestValidate_AllAvailable(t *testing.T) {
	assignments := []Assignment{{Topic: "orders", Partition: 0, Offset: -1}}
	available := map[string]struct{}{"orders": {}}
	if err := Validate(assignments, available); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
