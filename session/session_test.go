package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/c360/kasocki/assignment"
	"github.com/c360/kasocki/broker"
	"github.com/c360/kasocki/message"
	"github.com/c360/kasocki/socket"
)

type fakeSocket struct {
	mu       sync.Mutex
	handlers map[string]socket.EventHandler
	emitted  []emittedEvent
	emitCh   chan emittedEvent
	closed   bool
}

type emittedEvent struct {
	event   string
	payload any
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		handlers: make(map[string]socket.EventHandler),
		emitCh:   make(chan emittedEvent, 64),
	}
}

func (f *fakeSocket) ID() string { return "sock-1" }

func (f *fakeSocket) OnEvent(event string, handler socket.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeSocket) Emit(event string, payload any) error {
	e := emittedEvent{event: event, payload: payload}
	f.mu.Lock()
	f.emitted = append(f.emitted, e)
	f.mu.Unlock()
	select {
	case f.emitCh <- e:
	default:
	}
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) dispatch(t *testing.T, event string, payload any) (any, error) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[event]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for event %q", event)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	var (
		resultErr error
		result    any
		done      = make(chan struct{})
	)
	handler(raw, func(err error, v any) {
		resultErr = err
		result = v
		close(done)
	})
	<-done
	return result, resultErr
}

func (f *fakeSocket) waitForEvent(t *testing.T, timeout time.Duration) emittedEvent {
	t.Helper()
	select {
	case e := <-f.emitCh:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for emitted event")
		return emittedEvent{}
	}
}

type fakeBroker struct {
	mu          sync.Mutex
	connected   bool
	disconnected bool
	topics      map[string][]int32
	assignments []assignment.Assignment
	records     chan message.Record
	errs        chan error
}

func newFakeBroker(topics map[string][]int32) *fakeBroker {
	return &fakeBroker{
		topics:  topics,
		records: make(chan message.Record, 16),
		errs:    make(chan error, 16),
	}
}

func (b *fakeBroker) Connect(ctx context.Context, cfg broker.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *fakeBroker) ListTopics(ctx context.Context) (map[string][]int32, error) {
	return b.topics, nil
}

func (b *fakeBroker) Assign(ctx context.Context, assignments []assignment.Assignment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.assignments = assignments
	return nil
}

func (b *fakeBroker) PollOne(ctx context.Context) (message.Record, error) {
	select {
	case r := <-b.records:
		return r, nil
	case err := <-b.errs:
		return message.Record{}, err
	case <-ctx.Done():
		return message.Record{}, ctx.Err()
	}
}

func (b *fakeBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
	return nil
}
