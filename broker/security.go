package broker

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/IBM/sarama"

	kerrors "github.com/c360/kasocki/errors"
)

// configureSecurity wires SASL/TLS settings from cfg.Opts into saramaCfg,
// mirroring the security-protocol switch used across the Kafka examples in
// this pack. Opts is intentionally untyped — values come from JSON
// configuration and are read defensively.
func configureSecurity(saramaCfg *sarama.Config, opts map[string]any) error {
	protocol, _ := opts["securityProtocol"].(string)
	switch protocol {
	case "", "PLAINTEXT":
		return nil
	case "SASL_SSL":
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.TLS.Enable = true
		if err := configureSASL(saramaCfg, opts); err != nil {
			return err
		}
		return configureTLS(saramaCfg, opts)
	case "SASL_PLAINTEXT":
		saramaCfg.Net.SASL.Enable = true
		return configureSASL(saramaCfg, opts)
	case "SSL":
		saramaCfg.Net.TLS.Enable = true
		return configureTLS(saramaCfg, opts)
	default:
		return kerrors.New(kerrors.KindKasocki, "unsupported security protocol %q", protocol)
	}
}

func configureSASL(saramaCfg *sarama.Config, opts map[string]any) error {
	mechanism, _ := opts["saslMechanism"].(string)
	username, _ := opts["saslUsername"].(string)
	password, _ := opts["saslPassword"].(string)

	switch mechanism {
	case "PLAIN", "":
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case "SCRAM-SHA-256":
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scramSHA256()}
		}
	case "SCRAM-SHA-512":
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: scramSHA512()}
		}
	default:
		return kerrors.New(kerrors.KindKasocki, "unsupported SASL mechanism %q", mechanism)
	}

	saramaCfg.Net.SASL.User = username
	saramaCfg.Net.SASL.Password = password
	return nil
}

func configureTLS(saramaCfg *sarama.Config, opts map[string]any) error {
	insecure, _ := opts["tlsInsecureSkipVerify"].(bool)
	tlsCfg := &tls.Config{InsecureSkipVerify: insecure}

	if caFile, ok := opts["tlsCACertFile"].(string); ok && caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return kerrors.Wrap(kerrors.KindKasocki, err, "broker", "configureTLS", "read CA certificate")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return kerrors.New(kerrors.KindKasocki, "failed to parse CA certificate %q", caFile)
		}
		tlsCfg.RootCAs = pool
	}

	certFile, _ := opts["tlsClientCertFile"].(string)
	keyFile, _ := opts["tlsClientKeyFile"].(string)
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return kerrors.Wrap(kerrors.KindKasocki, err, "broker", "configureTLS", "load client certificate")
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	saramaCfg.Net.TLS.Config = tlsCfg
	return nil
}
