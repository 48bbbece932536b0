// Package session implements the per-socket consumer session state machine
// (spec.md §4.1): Init → Ready → Subscribed → (Paused ⇄ Running) → Closed.
// Exactly one Session owns one Socket and one broker.Broker for its entire
// lifetime; no state is ever shared across sessions.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/kasocki/assignment"
	"github.com/c360/kasocki/broker"
	kerrors "github.com/c360/kasocki/errors"
	"github.com/c360/kasocki/filter"
	"github.com/c360/kasocki/message"
	"github.com/c360/kasocki/metric"
	"github.com/c360/kasocki/socket"
)

// State names one node of the session state machine.
type State int

const (
	StateInit State = iota
	StateReady
	StateSubscribed
	StatePaused
	StateRunning
	StateClosed
)

// String returns a lowercase name for State, used in logging.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateSubscribed:
		return "subscribed"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// benignPollBackoff is how long consumeOnce sleeps after a transient broker
// condition (end-of-partition, poll timeout) before retrying (spec.md
// §4.5).
const benignPollBackoff = 100 * time.Millisecond

// teardownGrace bounds how long teardown and stop wait for the push loop
// goroutine to observe cancellation and exit.
const teardownGrace = 2 * time.Second

// MatcherFactory compiles a FilterSpec into a Matcher. Defaults to
// filter.Compile; session.Config.MatcherFactory overrides it for
// alternate filter dialects (spec.md §6.3).
type MatcherFactory func(filter.Spec) (*filter.Matcher, error)

// Config carries the per-session configuration enumerated in spec.md §6.3.
type Config struct {
	// AllowedTopics restricts availableTopics to this set when non-empty.
	AllowedTopics []string
	// BrokerConfig is forwarded to broker.Broker.Connect.
	BrokerConfig broker.Config
	// Deserializer overrides message.DefaultDeserializer when non-nil.
	Deserializer message.Deserializer
	// MatcherFactory overrides filter.Compile when non-nil.
	MatcherFactory MatcherFactory
	// Logger defaults to slog.Default() when nil.
	Logger *slog.Logger
	// Metrics is optional; a nil sink silently no-ops every record call.
	Metrics *metric.Metrics
}

// Session is the per-socket state machine. All public entry points are
// socket event handlers registered in New; Initialize drives Init → Ready.
type Session struct {
	id      string
	sock    socket.Socket
	brk     broker.Broker
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	matcherFactory MatcherFactory

	allowedTopics     map[string]struct{}
	availableTopics   []string
	availableTopicSet map[string]struct{}
	partitionsByTopic map[string][]int32

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	matcher     *filter.Matcher
	assignments []assignment.Assignment
	pushCancel  context.CancelFunc
	pushDone    chan struct{}
}

// New constructs a Session bound to sock and brk and registers every
// socket event handler. Call Initialize afterward to drive Init → Ready.
func New(id string, sock socket.Socket, brk broker.Broker, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("socket", id)

	matcherFactory := cfg.MatcherFactory
	if matcherFactory == nil {
		matcherFactory = filter.Compile
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedTopics))
	for _, t := range cfg.AllowedTopics {
		allowed[t] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:             id,
		sock:           sock,
		brk:            brk,
		cfg:            cfg,
		logger:         logger,
		metrics:        cfg.Metrics,
		matcherFactory: matcherFactory,
		allowedTopics:  allowed,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateInit,
	}

	s.registerHandlers()
	return s
}

// ID returns the owning socket's identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current state. Intended for diagnostics and
// tests; callers must not branch production logic on a racily-read value.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) registerHandlers() {
	s.sock.OnEvent("subscribe", s.wrapHandler("subscribe", s.handleSubscribe))
	s.sock.OnEvent("filter", s.wrapHandler("filter", s.handleFilter))
	s.sock.OnEvent("consume", s.wrapHandler("consume", s.handleConsume))
	s.sock.OnEvent("start", s.wrapHandler("start", s.handleStart))
	s.sock.OnEvent("stop", s.wrapHandler("stop", s.handleStop))
	s.sock.OnEvent("disconnect", s.wrapHandler("disconnect", s.handleDisconnect))
}

// Initialize connects the broker, computes availableTopics, and transitions
// Init → Ready, emitting `ready`. On any failure it tears the session down
// without ever emitting `ready` (spec.md §4.1, §7).
func (s *Session) Initialize(ctx context.Context) error {
	if err := s.brk.Connect(ctx, s.cfg.BrokerConfig); err != nil {
		wrapped := kerrors.Wrap(kerrors.KindKasocki, err, "session", "Initialize", "connect broker")
		s.failInit(wrapped)
		return wrapped
	}

	topicsByName, err := s.brk.ListTopics(ctx)
	if err != nil {
		wrapped := kerrors.Wrap(kerrors.KindKasocki, err, "session", "Initialize", "list topics")
		s.failInit(wrapped)
		return wrapped
	}

	available := make([]string, 0, len(topicsByName))
	for topic := range topicsByName {
		if len(s.allowedTopics) > 0 {
			if _, ok := s.allowedTopics[topic]; !ok {
				continue
			}
		}
		available = append(available, topic)
	}
	sort.Strings(available)

	if len(available) == 0 {
		err := kerrors.New(kerrors.KindKasocki, "no topics available after applying allow-list")
		s.failInit(err)
		return err
	}

	availableSet := make(map[string]struct{}, len(available))
	for _, t := range available {
		availableSet[t] = struct{}{}
	}

	s.mu.Lock()
	s.partitionsByTopic = topicsByName
	s.availableTopics = available
	s.availableTopicSet = availableSet
	s.state = StateReady
	s.mu.Unlock()

	s.metrics.RecordSessionOpened()
	if err := s.sock.Emit("ready", map[string]any{"availableTopics": available}); err != nil {
		s.logger.Warn("failed to emit ready", "error", err)
	}
	return nil
}

// Close tears the session down from outside the socket event loop — used by
// the server during graceful shutdown to unblock every connection's Run().
func (s *Session) Close() {
	s.teardown()
}

func (s *Session) failInit(err error) {
	s.logger.Error("session initialization failed", "error", err)
	s.cancel()
	_ = s.brk.Disconnect()
	_ = s.sock.Close()
}

func (s *Session) isClosed() bool {
	return s.ctx.Err() != nil
}

// teardown transitions to Closed (idempotent), cancels any running push
// loop, disconnects the broker, and closes the socket.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	pushCancel := s.pushCancel
	pushDone := s.pushDone
	s.state = StateClosed
	s.mu.Unlock()

	s.cancel()
	if pushCancel != nil {
		pushCancel()
	}
	waitPushLoop(pushDone)

	_ = s.brk.Disconnect()
	_ = s.sock.Close()
	s.metrics.RecordSessionClosed()
	s.logger.Info("session closed")
}

func waitPushLoop(done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(teardownGrace):
	}
}

// handlerFunc is the business logic of one socket event, decoupled from
// ack/err/logging/metrics plumbing, which wrapHandler supplies uniformly.
type handlerFunc func(payload json.RawMessage) (any, error)

// wrapHandler realizes spec.md §4.6: entry logging, a per-event metrics
// counter, panic recovery, error normalization into the wire taxonomy, and
// delivery of the result via ack and/or the `err` event.
func (s *Session) wrapHandler(event string, fn handlerFunc) socket.EventHandler {
	return func(payload json.RawMessage, ack socket.AckFunc) {
		if s.isClosed() && event != "disconnect" {
			s.logger.Warn("handler dropped, session is closed", "event", event)
			return
		}

		s.logger.Info("handler invoked", "event", event)
		start := time.Now()

		result, err := s.safeInvoke(event, fn, payload)
		duration := time.Since(start)

		if err != nil {
			wireErr := s.normalizeError(err, event)
			s.metrics.RecordHandler(event, string(wireErr.Kind), duration)
			s.logger.Warn("handler failed", "event", event, "kind", wireErr.Kind, "error", wireErr.Error())
			if ack != nil {
				ack(wireErr, nil)
			}
			if emitErr := s.sock.Emit("err", wireErr); emitErr != nil {
				s.logger.Warn("failed to emit err event", "error", emitErr)
			}
			return
		}

		s.metrics.RecordHandler(event, "", duration)
		if ack != nil {
			ack(nil, result)
		}
	}
}

func (s *Session) safeInvoke(event string, fn handlerFunc, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.New(kerrors.KindKasocki, "panic in %s handler: %v", event, r)
		}
	}()
	return fn(payload)
}

// normalizeError wraps err into the wire taxonomy if necessary and
// annotates it with this session's id and the event being handled.
func (s *Session) normalizeError(err error, event string) *kerrors.Error {
	wireErr, ok := kerrors.AsError(err)
	if !ok {
		wireErr = kerrors.Wrap(kerrors.KindKasocki, err, "session", event, "handle")
	}
	return wireErr.WithSession(s.id).WithEvent(event)
}
