package broker

import (
	"testing"

	"github.com/IBM/sarama"

	"github.com/c360/kasocki/assignment"
	kerrors "github.com/c360/kasocki/errors"
)

func TestResolveOffset_LatestSentinel(t *testing.T) {
	if got := resolveOffset(assignment.OffsetLatest); got != sarama.OffsetNewest {
		t.Errorf("expected OffsetNewest, got %d", got)
	}
}

func TestResolveOffset_PassesThroughExplicitOffset(t *testing.T) {
	if got := resolveOffset(42); got != 42 {
		t.Errorf("expected passthrough, got %d", got)
	}
}

func TestConfigureSecurity_PlaintextIsNoop(t *testing.T) {
	cfg := sarama.NewConfig()
	if err := configureSecurity(cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Net.SASL.Enable || cfg.Net.TLS.Enable {
		t.Errorf("expected no security enabled for plaintext")
	}
}

func TestConfigureSecurity_UnsupportedProtocolRejected(t *testing.T) {
	cfg := sarama.NewConfig()
	err := configureSecurity(cfg, map[string]any{"securityProtocol": "QUANTUM"})
	if !kerrors.IsKind(err, kerrors.KindKasocki) {
		t.Fatalf("expected Kasocki error, got %v", err)
	}
}

func TestConfigureSecurity_SASLPlaintextSetsMechanism(t *testing.T) {
	cfg := sarama.NewConfig()
	err := configureSecurity(cfg, map[string]any{
		"securityProtocol": "SASL_PLAINTEXT",
		"saslMechanism":    "SCRAM-SHA-256",
		"saslUsername":     "kasocki",
		"saslPassword":     "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Net.SASL.Enable {
		t.Errorf("expected SASL enabled")
	}
	if cfg.Net.SASL.Mechanism != sarama.SASLTypeSCRAMSHA256 {
		t.Errorf("expected SCRAM-SHA-256 mechanism, got %v", cfg.Net.SASL.Mechanism)
	}
	if cfg.Net.SASL.SCRAMClientGeneratorFunc == nil {
		t.Fatalf("expected a SCRAM client generator to be wired")
	}
	if _, ok := cfg.Net.SASL.SCRAMClientGeneratorFunc().(sarama.SCRAMClient); !ok {
		t.Errorf("expected generator to produce a sarama.SCRAMClient")
	}
}

func TestIsTransientConsumerErr_KnownTransientCode(t *testing.T) {
	if !isTransientConsumerErr(sarama.ErrLeaderNotAvailable) {
		t.Errorf("expected ErrLeaderNotAvailable to be classified transient")
	}
}

func TestIsTransientConsumerErr_UnknownCodeIsHard(t *testing.T) {
	if isTransientConsumerErr(sarama.ErrUnknownTopicOrPartition) {
		t.Errorf("expected ErrUnknownTopicOrPartition to be classified hard")
	}
}

func TestPollOne_ConsumerChannelErrorIsTransientWhenUnderlyingCauseIs(t *testing.T) {
	consumerErr := &sarama.ConsumerError{Topic: "t", Partition: 0, Err: sarama.ErrLeaderNotAvailable}
	if !kerrors.IsTransient(wrapConsumerChannelErr(consumerErr)) {
		t.Errorf("expected wrapped leader-not-available error to be transient")
	}
}

// wrapConsumerChannelErr exercises the same wrap-then-classify sequence as
// PollOne's error-channel branch, without needing a live reflect.Select.
func wrapConsumerChannelErr(consumerErr *sarama.ConsumerError) error {
	wrapped := kerrors.Wrap(kerrors.KindKasocki, consumerErr.Err, "broker", "PollOne", "consume t[0]")
	if isTransientConsumerErr(consumerErr.Err) {
		wrapped = wrapped.WithClass(kerrors.ClassTransient)
	}
	return wrapped
}
