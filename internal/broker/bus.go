package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
)

// Bus declares the pipeline's exchange/queue topology and exposes a thin
// publish/consume layer over a ConnectionManager-owned channel.
type Bus struct {
	conns *ConnectionManager
	ch    *amqp.Channel
}

// NewBus opens a dedicated channel on conns, puts it into publisher-confirm
// mode, and declares every exchange and queue in internal/contract.
func NewBus(conns *ConnectionManager) (*Bus, error) {
	ch, err := conns.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("broker: enable confirms: %w", err)
	}
	b := &Bus{conns: conns, ch: ch}
	if err := b.declareTopology(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) declareTopology() error {
	for _, ex := range contract.Exchanges {
		if err := b.ch.ExchangeDeclare(ex.Name, string(ex.Kind), true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare exchange %s: %w", ex.Name, err)
		}
	}
	for _, q := range contract.Queues {
		args := amqp.Table{}
		if q.Args.DeadLetterExchange != "" {
			args["x-dead-letter-exchange"] = q.Args.DeadLetterExchange
		}
		if q.Args.DeadLetterRoutingKey != "" {
			args["x-dead-letter-routing-key"] = q.Args.DeadLetterRoutingKey
		}
		if q.Args.MessageTTLMs > 0 {
			args["x-message-ttl"] = q.Args.MessageTTLMs
		}
		if q.Args.MaxLength > 0 {
			args["x-max-length"] = q.Args.MaxLength
		}
		if q.Args.MaxPriority > 0 {
			args["x-max-priority"] = q.Args.MaxPriority
		}
		if _, err := b.ch.QueueDeclare(q.Name, true, false, false, false, args); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", q.Name, err)
		}
		if q.Exchange != "" {
			if err := b.ch.QueueBind(q.Name, q.RoutingKey, q.Exchange, false, nil); err != nil {
				return fmt.Errorf("broker: bind queue %s: %w", q.Name, err)
			}
		}
	}
	return nil
}

// PublishOptions customizes a single Publish call.
type PublishOptions struct {
	RoutingKey   string
	Priority     uint8
	MessageType  string
	MessageID    string
	Headers      map[string]any
	ExpirationMs int64 // per-message TTL in milliseconds, used by retry delay queues.
}

// Publish marshals body as JSON and sends it through the given exchange,
// waiting for the broker's publisher confirm before returning.
func (b *Bus) Publish(ctx context.Context, exchange string, body any, opts PublishOptions) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("broker: marshal message: %w", err)
	}

	headers := amqp.Table{}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Priority:     opts.Priority,
		MessageId:    opts.MessageID,
		Type:         opts.MessageType,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         payload,
	}
	if opts.ExpirationMs > 0 {
		msg.Expiration = fmt.Sprintf("%d", opts.ExpirationMs)
	}

	confirm, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, opts.RoutingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", exchange, err)
	}
	if confirm == nil {
		return nil
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("broker: await confirm on %s: %w", exchange, err)
	}
	if !ok {
		return fmt.Errorf("broker: publish to %s was nacked by broker", exchange)
	}
	return nil
}

// Delivery wraps one consumed message with the ack/nack operations a
// consumer needs, hiding the underlying amqp.Delivery.
type Delivery struct {
	Body      []byte
	Headers   map[string]any
	MessageID string
	Priority  uint8
	raw       amqp.Delivery
}

// Ack acknowledges successful processing. A Delivery with no underlying
// acknowledger (as constructed by tests outside this package) is a no-op,
// so fakes built from a bare Delivery{Body: ...} never panic.
func (d Delivery) Ack() error {
	if d.raw.Acknowledger == nil {
		return nil
	}
	return d.raw.Ack(false)
}

// Nack rejects the message, optionally requeueing it. requeue=false drops
// the message onto the queue's configured dead-letter exchange, if any.
func (d Delivery) Nack(requeue bool) error {
	if d.raw.Acknowledger == nil {
		return nil
	}
	return d.raw.Nack(false, requeue)
}

// Consume opens a dedicated channel for the given queue with the given
// prefetch count and returns a channel of Deliveries. The returned channel
// closes when ctx is done or the underlying AMQP channel closes.
func (b *Bus) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := b.conns.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open consume channel for %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("broker: set qos for %s: %w", queue, err)
	}
	raw, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer func() { _ = ch.Close() }()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				headers := map[string]any{}
				for k, v := range d.Headers {
					headers[k] = v
				}
				select {
				case out <- Delivery{Body: d.Body, Headers: headers, MessageID: d.MessageId, Priority: d.Priority, raw: d}:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus's own channel. Consumer channels opened via
// Consume are closed by the caller's context cancellation.
func (b *Bus) Close() error {
	if b.ch == nil {
		return nil
	}
	return b.ch.Close()
}
