package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"time"

	"github.com/IBM/sarama"

	"github.com/c360/kasocki/assignment"
	kerrors "github.com/c360/kasocki/errors"
	"github.com/c360/kasocki/message"
	"github.com/c360/kasocki/pkg/retry"
)

// transientKErrs lists broker-reported protocol error codes that are
// expected to clear on their own (leader election in progress, a broker
// restarting, a request that merely timed out) rather than indicating the
// partition is gone for good. Anything not in this set is treated as hard.
var transientKErrs = map[sarama.KError]bool{
	sarama.ErrLeaderNotAvailable:           true,
	sarama.ErrNotLeaderForPartition:        true,
	sarama.ErrReplicaNotAvailable:          true,
	sarama.ErrRequestTimedOut:              true,
	sarama.ErrBrokerNotAvailable:           true,
	sarama.ErrNotEnoughReplicas:            true,
	sarama.ErrNotEnoughReplicasAfterAppend: true,
	sarama.ErrRebalanceInProgress:          true,
}

// isTransientConsumerErr reports whether err, received on a partition
// consumer's Errors() channel, describes a condition the session should
// absorb with a backoff rather than surface to the client (spec.md
// §4.5/§7: "transient broker errors ... never surface").
func isTransientConsumerErr(err error) bool {
	if stderrors.Is(err, sarama.ErrControllerNotAvailable) {
		return true
	}
	var kerr sarama.KError
	if stderrors.As(err, &kerr) {
		return transientKErrs[kerr]
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return stderrors.Is(err, io.EOF)
}

// disconnectTimeout bounds how long SaramaBroker.Disconnect waits for each
// partition consumer and the client to close before giving up and moving
// on (spec.md §9 hazard note: a stuck close must never hang the session).
const disconnectTimeout = 5 * time.Second

// SaramaBroker is the production Broker backed by github.com/IBM/sarama. It
// never creates a sarama.ConsumerGroup: every partition is consumed via
// Consumer.ConsumePartition, an explicit assignment the broker cannot
// rebalance out from under the session.
type SaramaBroker struct {
	client   sarama.Client
	consumer sarama.Consumer
	reset    ResetPolicy

	partitions []sarama.PartitionConsumer
	cases      []reflect.SelectCase
	sources    []partitionSource
}

type partitionSource struct {
	topic     string
	partition int32
	isError   bool
}

// NewSaramaBroker constructs an unconnected SaramaBroker.
func NewSaramaBroker() *SaramaBroker {
	return &SaramaBroker{}
}

// Connect builds a sarama.Config from cfg, forces manual offset commit
// (the session, not the broker, tracks read position), and opens a client
// plus a non-group consumer.
func (b *SaramaBroker) Connect(ctx context.Context, cfg Config) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_8_0_0
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = false

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "kasocki"
	}
	saramaCfg.ClientID = clientID

	reset := cfg.Reset
	if reset == "" {
		reset = ResetLatest
	}
	b.reset = reset
	if reset == ResetEarliest {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if err := configureSecurity(saramaCfg, cfg.Opts); err != nil {
		return kerrors.Wrap(kerrors.KindKasocki, err, "broker", "Connect", "configure security")
	}

	// The cluster may still be coming up (container startup races, rolling
	// restarts); retry the initial dial a handful of times before giving up.
	client, err := retry.DoWithResult(ctx, retry.Quick(), func() (sarama.Client, error) {
		return sarama.NewClient(cfg.Brokers, saramaCfg)
	})
	if err != nil {
		return kerrors.Wrap(kerrors.KindKasocki, err, "broker", "Connect", "create client")
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kerrors.Wrap(kerrors.KindKasocki, err, "broker", "Connect", "create consumer")
	}

	b.client = client
	b.consumer = consumer
	return nil
}

// ListTopics returns every topic visible to the client mapped to its
// partition ids.
func (b *SaramaBroker) ListTopics(ctx context.Context) (map[string][]int32, error) {
	topics, err := b.client.Topics()
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindKasocki, err, "broker", "ListTopics", "list topics")
	}

	out := make(map[string][]int32, len(topics))
	for _, topic := range topics {
		partitions, err := b.client.Partitions(topic)
		if err != nil {
			return nil, kerrors.Wrap(kerrors.KindKasocki, err, "broker", "ListTopics", fmt.Sprintf("list partitions for %q", topic))
		}
		out[topic] = partitions
	}
	return out, nil
}

// Assign tears down any existing partition consumers and opens one
// PartitionConsumer per assignment, in explicit-partition mode.
func (b *SaramaBroker) Assign(ctx context.Context, assignments []assignment.Assignment) error {
	b.closePartitions()

	b.partitions = make([]sarama.PartitionConsumer, 0, len(assignments))
	b.sources = nil
	b.cases = nil

	for _, a := range assignments {
		pc, err := b.consumePartition(a)
		if err != nil {
			b.closePartitions()
			return err
		}
		b.partitions = append(b.partitions, pc)
		b.sources = append(b.sources,
			partitionSource{topic: a.Topic, partition: a.Partition, isError: false},
			partitionSource{topic: a.Topic, partition: a.Partition, isError: true},
		)
		b.cases = append(b.cases,
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pc.Messages())},
			reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(pc.Errors())},
		)
	}

	return nil
}

// consumePartition opens one PartitionConsumer, resolving -1 to the
// broker's "latest" sentinel and falling back to the configured reset
// policy when the requested offset is out of range.
func (b *SaramaBroker) consumePartition(a assignment.Assignment) (sarama.PartitionConsumer, error) {
	offset := resolveOffset(a.Offset)

	pc, err := b.consumer.ConsumePartition(a.Topic, a.Partition, offset)
	if err == sarama.ErrOffsetOutOfRange {
		fallback := sarama.OffsetNewest
		if b.reset == ResetEarliest {
			fallback = sarama.OffsetOldest
		}
		pc, err = b.consumer.ConsumePartition(a.Topic, a.Partition, fallback)
	}
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindKasocki, err, "broker", "Assign",
			fmt.Sprintf("consume partition %s[%d]", a.Topic, a.Partition))
	}
	return pc, nil
}

// resolveOffset maps the wire -1 ("latest") sentinel to sarama's constant;
// any other non-negative offset is passed through unchanged.
func resolveOffset(offset int64) int64 {
	if offset == assignment.OffsetLatest {
		return sarama.OffsetNewest
	}
	return offset
}

// PollOne blocks until the next record arrives on any assigned partition,
// ctx is cancelled, or a partition consumer reports an error. Errors that
// isTransientConsumerErr recognizes are marked ClassTransient, so
// errors.IsTransient reports them and the session's consume loop retries
// instead of propagating them to the client.
func (b *SaramaBroker) PollOne(ctx context.Context) (message.Record, error) {
	if len(b.cases) == 0 {
		<-ctx.Done()
		return message.Record{}, ctx.Err()
	}

	cases := append(append([]reflect.SelectCase{}, b.cases...), reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, value, ok := reflect.Select(cases)
	if chosen == len(cases)-1 {
		return message.Record{}, ctx.Err()
	}

	source := b.sources[chosen]
	if !ok {
		return message.Record{}, kerrors.New(kerrors.KindKasocki, "partition channel for %s[%d] closed", source.topic, source.partition)
	}

	if source.isError {
		consumerErr := value.Interface().(*sarama.ConsumerError)
		wrapped := kerrors.Wrap(kerrors.KindKasocki, consumerErr.Err, "broker", "PollOne",
			fmt.Sprintf("consume %s[%d]", source.topic, source.partition))
		if isTransientConsumerErr(consumerErr.Err) {
			wrapped = wrapped.WithClass(kerrors.ClassTransient)
		}
		return message.Record{}, wrapped
	}

	msg := value.Interface().(*sarama.ConsumerMessage)
	return message.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

func (b *SaramaBroker) closePartitions() {
	for _, pc := range b.partitions {
		closePartitionConsumer(pc)
	}
	b.partitions = nil
	b.cases = nil
	b.sources = nil
}

func closePartitionConsumer(pc sarama.PartitionConsumer) {
	done := make(chan struct{})
	go func() {
		pc.AsyncClose()
		for range pc.Errors() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(disconnectTimeout):
	}
}

// Disconnect closes every partition consumer, then the consumer and client,
// each bounded by disconnectTimeout. A timed-out close is swallowed rather
// than propagated: the session is tearing down either way.
func (b *SaramaBroker) Disconnect() error {
	b.closePartitions()

	if b.consumer != nil {
		closeWithTimeout(b.consumer.Close)
	}
	if b.client != nil {
		closeWithTimeout(b.client.Close)
	}
	return nil
}

func closeWithTimeout(closeFn func() error) {
	done := make(chan error, 1)
	go func() { done <- closeFn() }()

	select {
	case <-done:
	case <-time.After(disconnectTimeout):
	}
}
