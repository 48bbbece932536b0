package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c360/kasocki/assignment"
	kerrors "github.com/c360/kasocki/errors"
	"github.com/c360/kasocki/filter"
	"github.com/c360/kasocki/message"
)

// handleSubscribe implements spec.md §4.2: parse, normalize, validate
// against availableTopics, assign, and flip subscribed true.
func (s *Session) handleSubscribe(payload json.RawMessage) (any, error) {
	req, err := assignment.Parse(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateInit:
		return nil, kerrors.New(kerrors.KindNotSubscribed, "session is not ready yet")
	case StateSubscribed, StatePaused, StateRunning:
		return nil, kerrors.New(kerrors.KindAlreadySubscribed, "session is already subscribed")
	case StateClosed:
		return nil, kerrors.New(kerrors.KindAlreadyClosing, "session is closing")
	}

	normalized, err := assignment.Normalize(req, s.partitionsByTopic)
	if err != nil {
		return nil, err
	}
	if err := assignment.Validate(normalized, s.availableTopicSet); err != nil {
		return nil, err
	}

	if err := s.brk.Assign(s.ctx, normalized); err != nil {
		return nil, err
	}

	s.assignments = normalized
	s.state = StateSubscribed
	return normalized, nil
}

// handleFilter implements spec.md §4.3's factory hookup: compile the
// spec (or reset the matcher on empty/absent), record it, and return the
// compiled view.
func (s *Session) handleFilter(payload json.RawMessage) (any, error) {
	var spec filter.Spec
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &spec); err != nil {
			return nil, kerrors.New(kerrors.KindInvalidFilter, "malformed filter payload: %v", err)
		}
	}

	matcher, err := s.matcherFactory(spec)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateInit, StateReady:
		return nil, kerrors.New(kerrors.KindNotSubscribed, "session must subscribe before filtering")
	case StateClosed:
		return nil, kerrors.New(kerrors.KindAlreadyClosing, "session is closing")
	}

	s.matcher = matcher
	if matcher == nil {
		return map[string]any{}, nil
	}
	return matcher.Render(), nil
}

// handleConsume implements the pull-mode primitive of spec.md §4.5: one
// poll-decode-match cycle, delivered via ack.
func (s *Session) handleConsume(payload json.RawMessage) (any, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateInit, StateReady:
		return nil, kerrors.New(kerrors.KindNotSubscribed, "session must subscribe before consuming")
	case StateRunning:
		return nil, kerrors.New(kerrors.KindAlreadyStarted, "session is in push mode; stop before pulling")
	case StateClosed:
		return nil, kerrors.New(kerrors.KindAlreadyClosing, "session is closing")
	}

	msg, err := s.consumeOnce(s.ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil, nil
		}
		s.logger.Error("consume failed", "error", err)
		return nil, err
	}
	return msg, nil
}

// handleStart implements the push-mode transition of spec.md §4.1: begins
// a detached loop that emits `message` events until stopped or closed.
func (s *Session) handleStart(payload json.RawMessage) (any, error) {
	s.mu.Lock()

	switch s.state {
	case StateInit, StateReady:
		s.mu.Unlock()
		return nil, kerrors.New(kerrors.KindNotSubscribed, "session must subscribe before starting")
	case StateRunning:
		s.mu.Unlock()
		return nil, kerrors.New(kerrors.KindAlreadyStarted, "session is already running")
	case StateClosed:
		s.mu.Unlock()
		return nil, kerrors.New(kerrors.KindAlreadyClosing, "session is closing")
	}

	pushCtx, pushCancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.pushCancel = pushCancel
	s.pushDone = done
	s.state = StateRunning
	s.mu.Unlock()

	go s.pushLoop(pushCtx, done)
	return "ok", nil
}

// handleStop implements Running→Paused and the Paused→Paused no-op of
// spec.md §4.1.
func (s *Session) handleStop(payload json.RawMessage) (any, error) {
	s.mu.Lock()

	switch s.state {
	case StateInit, StateReady, StateSubscribed:
		s.mu.Unlock()
		return nil, kerrors.New(kerrors.KindNotSubscribed, "session was never started")
	case StateClosed:
		s.mu.Unlock()
		return nil, kerrors.New(kerrors.KindAlreadyClosing, "session is closing")
	case StatePaused:
		s.mu.Unlock()
		s.logger.Info("stop is a no-op, session already paused")
		return "ok", nil
	}

	pushCancel := s.pushCancel
	pushDone := s.pushDone
	s.state = StatePaused
	s.mu.Unlock()

	if pushCancel != nil {
		pushCancel()
	}
	waitPushLoop(pushDone)
	return "ok", nil
}

// handleDisconnect tears the session down. The socket transport is
// expected to have no ack callback for this event; wrapHandler handles
// that generically.
func (s *Session) handleDisconnect(payload json.RawMessage) (any, error) {
	s.teardown()
	return nil, nil
}

// consumeOnce is the poll-decode-match primitive shared by pull-mode
// consume and the push loop. Benign broker conditions retry after a short
// backoff instead of returning; deserialization failures and filter
// misses are skipped; any other broker error propagates (spec.md §4.5).
func (s *Session) consumeOnce(ctx context.Context) (map[string]any, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		record, err := s.brk.PollOne(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if kerrors.IsTransient(err) {
				s.metrics.RecordBrokerPollError("transient")
				if !sleepOrDone(ctx, benignPollBackoff) {
					return nil, ctx.Err()
				}
				continue
			}
			s.metrics.RecordBrokerPollError("fatal")
			return nil, err
		}

		decoded, err := message.Decode(s.cfg.Deserializer, record)
		if err != nil {
			s.logger.Warn("deserialization failed, skipping record", "topic", record.Topic, "partition", record.Partition, "offset", record.Offset, "error", err)
			s.metrics.RecordSkipped("deserialization")
			continue
		}

		s.mu.Lock()
		matcher := s.matcher
		s.mu.Unlock()

		if matcher != nil && !matcher.Match(decoded) {
			s.metrics.RecordFiltered(record.Topic)
			continue
		}

		s.metrics.RecordDelivered(record.Topic)
		return decoded, nil
	}
}

// pushLoop repeatedly calls consumeOnce and emits each result as a
// `message` event until ctx is cancelled (stop or session close). A hard
// broker error is surfaced via `err` and ends the loop; ctx cancellation
// is absorbed silently.
func (s *Session) pushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		msg, err := s.consumeOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("push loop broker error", "error", err)
			wireErr := s.normalizeError(err, "start")
			_ = s.sock.Emit("err", wireErr)
			return
		}
		if err := s.sock.Emit("message", msg); err != nil {
			s.logger.Warn("failed to emit message", "error", err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
