package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

type fakeJetStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: DefaultStream, Sequence: uint64(len(f.subjects))}, nil
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		chain models.ChainName
		want  string
	}{
		{models.ChainEthereum, "investigations.ethereum.completed"},
		{" Solana ", "investigations.solana.completed"},
		{"", "investigations.unknown.completed"},
	}
	for _, tt := range tests {
		if got := SubjectFor(tt.chain); got != tt.want {
			t.Errorf("SubjectFor(%q) Expected: %s Got: %s", tt.chain, tt.want, got)
		}
	}
}

func TestPublish(t *testing.T) {
	js := &fakeJetStream{}
	p := &NATSPublisher{js: js, log: zerolog.Nop()}

	msg := models.AgentMessage{ID: "m-1", Type: "investigation_completed", Payload: map[string]any{"riskScore": 40}}
	require.NoError(t, p.Publish(context.Background(), models.ChainBitcoin, msg))

	require.Equal(t, []string{"investigations.bitcoin.completed"}, js.subjects)
	var decoded models.AgentMessage
	require.NoError(t, json.Unmarshal(js.payloads[0], &decoded))
	assert.Equal(t, "m-1", decoded.ID)
	assert.Equal(t, 40.0, decoded.Payload["riskScore"])
}

func TestPublish_Errors(t *testing.T) {
	p := &NATSPublisher{js: &fakeJetStream{err: errors.New("no responders")}, log: zerolog.Nop()}
	err := p.Publish(context.Background(), models.ChainBase, models.AgentMessage{ID: "x"})
	assert.ErrorContains(t, err, "no responders")

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), models.ChainBase, models.AgentMessage{ID: "y"}), errClosed)
}
