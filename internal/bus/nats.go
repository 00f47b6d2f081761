// Package bus publishes finished-investigation messages to NATS JetStream
// for downstream agents.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const (
	// DefaultStream is the JetStream stream holding agent messages
	DefaultStream = "INVESTIGATIONS"

	subjectPrefix = "investigations"
	retention     = 7 * 24 * time.Hour
)

var errClosed = errors.New("NATS connection is closed")

// SubjectFor returns the subject a completed investigation on chain is
// published on.
func SubjectFor(chain models.ChainName) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		chain = "unknown"
	}
	return fmt.Sprintf("%s.%s.completed", subjectPrefix, chain)
}

// jetStream is the slice of nats.JetStreamContext the publisher needs
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher implements investigation.Publisher on JetStream
type NATSPublisher struct {
	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetStream
	closed bool
	log    zerolog.Logger
}

// NewNATSPublisher connects to url and makes sure the stream exists
func NewNATSPublisher(url, stream string, logger zerolog.Logger) (*NATSPublisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if stream == "" {
		stream = DefaultStream
	}
	log := logger.With().Str("component", "nats").Logger()

	conn, err := nats.Connect(url,
		nats.Name("wallet-investigator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		log.Info().Str("stream", stream).Msg("Creating JetStream stream")
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    retention,
			Replicas:  1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	return &NATSPublisher{conn: conn, js: js, log: log}, nil
}

// Publish sends msg as JSON on the chain's completion subject
func (p *NATSPublisher) Publish(ctx context.Context, chain models.ChainName, msg models.AgentMessage) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal agent message: %w", err)
	}

	subject := SubjectFor(chain)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(msg.ID)); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	p.log.Debug().Str("subject", subject).Str("message", msg.ID).Msg("Published agent message")
	return nil
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.conn != nil {
		return p.conn.Drain()
	}
	return nil
}
