// Package consumer feeds dispatch requests from RabbitMQ into the same
// pipeline the HTTP endpoint uses.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

const (
	defaultExchange   = "notifications.direct"
	defaultRoutingKey = "push"
)

// HandlerFunc handles one delivery and is responsible for acking it.
type HandlerFunc func(ctx context.Context, msg amqp.Delivery) error

// QueueOptions describes the queue topology a BaseConsumer declares.
type QueueOptions struct {
	Queue      string
	DeadLetter string
	Exchange   string
	RoutingKey string
	Prefetch   int
	Workers    int
}

func (o *QueueOptions) setDefaults() {
	if o.Exchange == "" {
		o.Exchange = defaultExchange
	}
	if o.RoutingKey == "" {
		o.RoutingKey = defaultRoutingKey
	}
	if o.Prefetch <= 0 {
		o.Prefetch = 50
	}
	if o.Workers <= 0 {
		o.Workers = 5
	}
}

// BaseConsumer owns the AMQP channel and a fixed pool of workers.
type BaseConsumer struct {
	conn   *amqp.Connection
	opts   QueueOptions
	logger *slog.Logger
}

func NewBaseConsumer(conn *amqp.Connection, opts QueueOptions, logger *slog.Logger) *BaseConsumer {
	opts.setDefaults()
	return &BaseConsumer{
		conn:   conn,
		opts:   opts,
		logger: logger,
	}
}

// Start consumes until ctx is done or the broker closes the channel.
func (c *BaseConsumer) Start(ctx context.Context, handler HandlerFunc) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		return fmt.Errorf("queue setup failed: %w", err)
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos configuration failed: %w", err)
	}

	deliveries, err := ch.Consume(c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.opts.Queue, err)
	}

	c.logger.Info("consuming dispatch requests",
		slog.String("queue", c.opts.Queue),
		slog.Int("workers", c.opts.Workers))

	var (
		wg     sync.WaitGroup
		closed = make(chan struct{})
		once   sync.Once
	)
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-deliveries:
					if !ok {
						once.Do(func() { close(closed) })
						return
					}
					c.handle(ctx, handler, msg)
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		wg.Wait()
		return nil
	case <-closed:
		wg.Wait()
		return errors.New("delivery channel closed by broker")
	}
}

func (c *BaseConsumer) handle(ctx context.Context, handler HandlerFunc, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked", slog.Any("panic", r))
			_ = msg.Reject(false)
		}
	}()
	if err := handler(ctx, msg); err != nil {
		c.logger.Error("handler returned error", slog.Any("error", err))
	}
}

func (c *BaseConsumer) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(c.opts.Exchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	args := amqp.Table{}
	if c.opts.DeadLetter != "" {
		args["x-dead-letter-exchange"] = ""
		args["x-dead-letter-routing-key"] = c.opts.DeadLetter
		if _, err := ch.QueueDeclare(c.opts.DeadLetter, true, false, false, false, nil); err != nil {
			return err
		}
	}

	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, args); err != nil {
		return err
	}
	return ch.QueueBind(c.opts.Queue, c.opts.RoutingKey, c.opts.Exchange, false, nil)
}
