// Package messaging wraps the NATS connection used to move submissions and
// review results between contentguard services.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
)

// NATS subjects used by contentguard.
const (
	SubjectModerationCheck  = "moderation.check"
	SubjectModerationResult = "moderation.result" // + .<author_id>
)

const closeWait = 10 * time.Second

// QueueReviewers is the queue group shared by moderator instances, so each
// submission is reviewed once however many instances run.
const QueueReviewers = "reviewers"

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	log    *zap.Logger
	closed chan struct{}
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "contentguard",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	log := logging.Named("nats")
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
			close(closed)
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		log:    log,
		closed: closed,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush round-trips to the server, so subscriptions made before it are
// active once it returns.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.track(subject, sub)
	return nil
}

// QueueSubscribe is Subscribe within a queue group.
func (c *NATSClient) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("nats queue subscribe %s/%s: %w", subject, queue, err)
	}
	c.track(subject+"#"+queue, sub)
	return nil
}

func (c *NATSClient) track(key string, sub *nats.Subscription) {
	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
}

// PublishSubmission publishes a submission for review.
func (c *NATSClient) PublishSubmission(data []byte) error {
	return c.Publish(SubjectModerationCheck, data)
}

// SubscribeSubmissions receives submissions in the reviewers queue group.
func (c *NATSClient) SubscribeSubmissions(handler func(data []byte)) error {
	return c.QueueSubscribe(SubjectModerationCheck, QueueReviewers, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeSubmissions leaves the reviewers queue group at once; later
// submissions go to the other members. Unlike Close it does not drain, so
// submissions already buffered for this client are dropped.
func (c *NATSClient) UnsubscribeSubmissions() error {
	return c.unsubscribe(SubjectModerationCheck + "#" + QueueReviewers)
}

// PublishResult publishes a review result for one author.
func (c *NATSClient) PublishResult(authorID string, data []byte) error {
	return c.Publish(ResultSubject(authorID), data)
}

// SubscribeResults subscribes to the review results of one author.
func (c *NATSClient) SubscribeResults(authorID string, handler func(data []byte)) error {
	return c.Subscribe(ResultSubject(authorID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// UnsubscribeResults drops the result subscription of one author.
func (c *NATSClient) UnsubscribeResults(authorID string) error {
	return c.unsubscribe(ResultSubject(authorID))
}

// ResultSubject is the subject review results for authorID are published on.
func ResultSubject(authorID string) string {
	return SubjectModerationResult + "." + authorID
}

// Close drains all active subscriptions, flushes pending publishes and
// waits up to closeWait for the connection to close.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("drain subscription", zap.String("subject", key), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.log.Warn("connection drain", zap.Error(err))
	}
	select {
	case <-c.closed:
	case <-time.After(closeWait):
		c.log.Warn("drain did not finish, closing", zap.Duration("waited", closeWait))
		c.conn.Close()
	}

	c.log.Info("client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
