// Package config loads and validates kasocki's JSON configuration file: the
// Kafka brokers to dial, the topic allow-list, and the security profile to
// apply when connecting.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// KafkaConfig describes how to reach the Kafka cluster.
type KafkaConfig struct {
	Brokers          []string       `json:"brokers"`
	ClientID         string         `json:"clientId,omitempty"`
	AllowedTopics    []string       `json:"allowedTopics,omitempty"`
	OffsetReset      string         `json:"offsetReset,omitempty"` // "latest" or "earliest"
	SecurityProtocol string         `json:"securityProtocol,omitempty"`
	SASL             SASLConfig     `json:"sasl,omitempty"`
	TLS              TLSConfig      `json:"tls,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// SASLConfig carries SASL credentials, unused unless SecurityProtocol names
// a SASL mechanism.
type SASLConfig struct {
	Mechanism string `json:"mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// TLSConfig carries certificate paths, unused unless SecurityProtocol names
// a TLS-bearing protocol.
type TLSConfig struct {
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty"`
}

// ServerConfig describes the HTTP surface kasocki exposes.
type ServerConfig struct {
	ListenAddr string `json:"listenAddr,omitempty"`
	WSPath     string `json:"wsPath,omitempty"`
}

// Config is kasocki's complete configuration.
type Config struct {
	Kafka  KafkaConfig  `json:"kafka"`
	Server ServerConfig `json:"server"`
}

// Default returns the fallback Config that Load merges a config file over.
func Default() *Config {
	return &Config{
		Kafka: KafkaConfig{
			ClientID:    "kasocki",
			OffsetReset: "latest",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			WSPath:     "/ws",
		},
	}
}

// Load reads and parses a JSON config file at path, then merges it over
// Default() so omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields Load can't enforce through JSON tags alone.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must list at least one broker")
	}
	switch strings.ToLower(c.Kafka.OffsetReset) {
	case "", "latest", "earliest":
	default:
		return fmt.Errorf("kafka.offsetReset must be \"latest\" or \"earliest\", got %q", c.Kafka.OffsetReset)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listenAddr must not be empty")
	}
	if c.Server.WSPath == "" {
		return fmt.Errorf("server.wsPath must not be empty")
	}
	return nil
}

// SecurityOpts flattens the Kafka security fields into the
// map[string]any shape broker.Config.Opts and configureSecurity expect.
func (c *KafkaConfig) SecurityOpts() map[string]any {
	opts := map[string]any{}
	if c.SecurityProtocol != "" {
		opts["securityProtocol"] = c.SecurityProtocol
	}
	if c.SASL.Mechanism != "" {
		opts["saslMechanism"] = c.SASL.Mechanism
		opts["saslUsername"] = c.SASL.Username
		opts["saslPassword"] = c.SASL.Password
	}
	if c.TLS.CAFile != "" {
		opts["tlsCACertFile"] = c.TLS.CAFile
	}
	if c.TLS.CertFile != "" {
		opts["tlsClientCertFile"] = c.TLS.CertFile
		opts["tlsClientKeyFile"] = c.TLS.KeyFile
	}
	if c.TLS.InsecureSkipVerify {
		opts["tlsInsecureSkipVerify"] = true
	}
	for k, v := range c.Extra {
		opts[k] = v
	}
	return opts
}
