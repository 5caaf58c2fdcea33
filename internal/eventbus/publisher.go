// Package eventbus is the optional AMQP fan-out for wallet and
// strategy events. Connecting is optional: a deployment with no
// VAULTCORE_AMQP_URL runs with a Publisher whose Publish calls skip
// AMQP silently and only reach local Subscribe channels, since the
// event journal in internal/policy is the
// durable source of truth and this bus is a best-effort mirror for
// external subscribers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Envelope is one fanned-out event, delivered to both the AMQP
// exchange (if configured) and any local Subscribe channels.
type Envelope struct {
	RoutingKey string
	Payload    any
	At         time.Time
}

// Publisher fans out journal events to an AMQP topic exchange and to
// any in-process subscribers, such as the admin event-stream websocket.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Entry

	mu   sync.Mutex
	subs map[chan Envelope]struct{}
}

// Connect dials url and declares exchange as a durable topic
// exchange. If url is empty, it returns a Publisher whose Publish
// calls send nothing to AMQP but still deliver to local Subscribe
// channels, so callers never need to branch on whether the event bus
// is configured.
func Connect(url, exchange string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	entry := logger.WithField("component", "eventbus.Publisher")
	if url == "" {
		entry.Info("VAULTCORE_AMQP_URL not configured; event fan-out disabled")
		return &Publisher{logger: entry, subs: map[chan Envelope]struct{}{}}, nil
	}

	conn, err := dialWithRetry(url, 5, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	entry.WithField("exchange", exchange).Info("connected to amqp broker")
	return &Publisher{conn: conn, channel: ch, exchange: exchange, logger: entry, subs: map[chan Envelope]struct{}{}}, nil
}

// Subscribe registers a channel that receives every event passed to
// Publish from this point on, regardless of whether AMQP is
// configured. The returned func unregisters it; callers must call it
// when done to avoid leaking the channel from the subscriber set.
func (p *Publisher) Subscribe(buffer int) (<-chan Envelope, func()) {
	ch := make(chan Envelope, buffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
		close(ch)
	}
}

func (p *Publisher) broadcastLocal(env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- env:
		default:
			// slow subscriber; drop rather than block the publisher.
		}
	}
}

func dialWithRetry(url string, maxRetries int, delay time.Duration) (*amqp.Connection, error) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}

// Publish fans routingKey.payload out to the configured exchange and
// to every local Subscribe channel. It logs and swallows publish
// errors rather than propagating them into the caller's transfer/tick
// path — event fan-out is best-effort and must never block or fail a
// wallet or strategy operation.
func (p *Publisher) Publish(routingKey string, payload any) {
	p.broadcastLocal(Envelope{RoutingKey: routingKey, Payload: payload, At: time.Now()})
	if p.channel == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).Warn("failed to marshal event payload")
		return
	}
	err = p.channel.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.logger.WithError(err).WithField("routing_key", routingKey).Warn("failed to publish event")
	}
}

// Close releases the underlying channel and connection, if any were
// opened.
func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
