// Package assignment parses and validates subscribe requests into a
// normalized list of (topic, partition, offset) tuples (spec.md §4.2).
package assignment

import (
	"encoding/json"
	"fmt"

	kerrors "github.com/c360/kasocki/errors"
)

// OffsetLatest is the sentinel offset meaning "start from the next record
// produced after subscribe".
const OffsetLatest int64 = -1

// Assignment is a single (topic, partition, offset) tuple.
type Assignment struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Request is the parsed, not-yet-normalized form of a subscribe argument:
// exactly one of Topics or Tuples is populated.
type Request struct {
	Topics []string
	Tuples []Assignment
}

// rawTuple mirrors the wire shape of a single assignment tuple before
// validation.
type rawTuple struct {
	Topic     string `json:"topic"`
	Partition *int64 `json:"partition"`
	Offset    *int64 `json:"offset"`
}

// Parse decodes a subscribe argument of the form string | string[] |
// Assignment[] into a Request. A bare string is promoted to a one-element
// topic-name sequence. Mixed string/tuple forms and empty sequences are
// rejected with InvalidAssignment.
func Parse(raw json.RawMessage) (Request, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return Request{Topics: []string{single}}, validateNonEmptyTopic(single)
	}

	var generic []json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return Request{}, kerrors.New(kerrors.KindInvalidAssignment,
			"subscribe argument must be a string, a string array, or an assignment array")
	}

	if len(generic) == 0 {
		return Request{}, kerrors.New(kerrors.KindInvalidAssignment, "subscribe argument must not be empty")
	}

	isString := make([]bool, len(generic))
	anyString, anyTuple := false, false
	for i, elem := range generic {
		var s string
		if err := json.Unmarshal(elem, &s); err == nil {
			isString[i] = true
			anyString = true
			continue
		}
		anyTuple = true
	}

	if anyString && anyTuple {
		return Request{}, kerrors.New(kerrors.KindInvalidAssignment,
			"subscribe argument must not mix topic names and assignment tuples")
	}

	if anyString {
		topics := make([]string, len(generic))
		for i, elem := range generic {
			if err := json.Unmarshal(elem, &topics[i]); err != nil {
				return Request{}, kerrors.New(kerrors.KindInvalidAssignment, "invalid topic name: %v", err)
			}
			if err := validateNonEmptyTopic(topics[i]); err != nil {
				return Request{}, err
			}
		}
		return Request{Topics: topics}, nil
	}

	tuples := make([]Assignment, len(generic))
	for i, elem := range generic {
		var raw rawTuple
		if err := json.Unmarshal(elem, &raw); err != nil {
			return Request{}, kerrors.New(kerrors.KindInvalidAssignment, "invalid assignment tuple: %v", err)
		}
		if err := validateNonEmptyTopic(raw.Topic); err != nil {
			return Request{}, err
		}
		if raw.Partition == nil || *raw.Partition < 0 {
			return Request{}, kerrors.New(kerrors.KindInvalidAssignment,
				"assignment partition must be a non-negative integer")
		}
		if raw.Offset == nil || *raw.Offset < OffsetLatest {
			return Request{}, kerrors.New(kerrors.KindInvalidAssignment,
				"assignment offset must be -1 (latest) or a non-negative integer")
		}
		tuples[i] = Assignment{Topic: raw.Topic, Partition: int32(*raw.Partition), Offset: *raw.Offset}
	}
	return Request{Tuples: tuples}, nil
}

func validateNonEmptyTopic(topic string) error {
	if topic == "" {
		return kerrors.New(kerrors.KindInvalidAssignment, "topic name must not be empty")
	}
	return nil
}

// Normalize expands a Request into the full tuple list. Topic-name form is
// expanded to one {topic, partition, offset: -1} per partition reported in
// partitionsByTopic; tuple form passes through unchanged.
func Normalize(req Request, partitionsByTopic map[string][]int32) ([]Assignment, error) {
	if len(req.Tuples) > 0 {
		return req.Tuples, nil
	}

	var out []Assignment
	for _, topic := range req.Topics {
		partitions, ok := partitionsByTopic[topic]
		if !ok || len(partitions) == 0 {
			return nil, kerrors.New(kerrors.KindTopicNotAvailable, "no partition metadata for topic %q", topic).
				WithField("topic", topic)
		}
		for _, p := range partitions {
			out = append(out, Assignment{Topic: topic, Partition: p, Offset: OffsetLatest})
		}
	}
	return out, nil
}

// Validate checks that every topic in assignments is present in
// availableTopics. The first offending topic wins (no partial subscribe).
func Validate(assignments []Assignment, availableTopics map[string]struct{}) error {
	for _, a := range assignments {
		if _, ok := availableTopics[a.Topic]; !ok {
			available := make([]string, 0, len(availableTopics))
			for t := range availableTopics {
				available = append(available, t)
			}
			return kerrors.New(kerrors.KindTopicNotAvailable, "topic %q is not in availableTopics", a.Topic).
				WithField("topic", a.Topic).
				WithField("availableTopics", available)
		}
	}
	return nil
}

// String renders an assignment for logging.
func (a Assignment) String() string {
	return fmt.Sprintf("%s[%d]@%d", a.Topic, a.Partition, a.Offset)
}
