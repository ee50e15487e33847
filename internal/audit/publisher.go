package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher ships audit events to a durable RabbitMQ queue for the
// downstream analytics consumer. Events are enqueued without blocking;
// when the buffer is full the event is dropped and counted, never stalling
// a request on a slow broker.
type Publisher struct {
	ch      *amqp.Channel
	queue   string
	logger  *slog.Logger
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

// NewPublisher opens a channel on conn and declares the durable queue.
// The returned publisher owns the channel and must be closed.
func NewPublisher(conn *amqp.Connection, queue string, logger *slog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	p := &Publisher{
		ch:     ch,
		queue:  queue,
		logger: logger,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Record enqueues the event for publishing. It never blocks; a full buffer
// drops the event.
func (p *Publisher) Record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case p.events <- e:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("audit event dropped, publish buffer full",
			slog.String("event", e.Type),
			slog.Int64("dropped_total", n))
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.events {
		body, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("failed to marshal audit event", slog.String("error", err.Error()))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.At,
			Body:         body,
		})
		cancel()
		if err != nil {
			p.logger.Error("failed to publish audit event",
				slog.String("event", e.Type),
				slog.String("error", err.Error()))
		}
	}
}

// Close drains buffered events best-effort and releases the channel.
// Record must not be called after Close.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.events)
		<-p.done
		p.ch.Close()
	})
}
