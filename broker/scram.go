package broker

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
)

// scramClient adapts github.com/xdg-go/scram's conversation state machine
// to sarama.SCRAMClient, the shape sarama's SASL handshake drives directly.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) (err error) {
	c.Client, err = c.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.ClientConversation = c.Client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.ClientConversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.ClientConversation.Done()
}

func scramSHA256() scram.HashGeneratorFcn { return func() hash.Hash { return sha256.New() } }
func scramSHA512() scram.HashGeneratorFcn { return func() hash.Hash { return sha512.New() } }

var _ sarama.SCRAMClient = (*scramClient)(nil)
