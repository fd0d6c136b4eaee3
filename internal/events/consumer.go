package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"orders-be/internal/logger"
	"orders-be/internal/metrics"
	"orders-be/internal/order"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	PaymentsExchange      = "payments"
	PaymentSucceededKey   = "payment.succeeded"
	paymentSucceededQueue = "orders.payment_succeeded"

	handleTimeout = 30 * time.Second
)

// PaymentSucceeded is the broker-mediated form of the payment confirmation
// event. Same shape as the HTTP webhook payload.
type PaymentSucceeded struct {
	OrderID    string `json:"orderId"`
	ChargeID   string `json:"chargeId"`
	ReceiptURL string `json:"receiptUrl"`
}

// Consumer feeds payment.succeeded events from RabbitMQ into the order
// service. Delivery is at-least-once; ConfirmPayment's idempotency makes
// redelivery safe, so failures are simply requeued.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	orders  order.Service
	stats   Stats
}

// Stats counts delivery outcomes since the consumer started.
type Stats struct {
	Confirmed metrics.Counter
	Dropped   metrics.Counter
	Requeued  metrics.Counter
}

// NewConsumer dials the broker with retry and declares the exchange, queue
// and binding.
func NewConsumer(url string, orders order.Service) (*Consumer, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		retryIn := time.Duration(i*i)*time.Second + time.Second
		logger.L().Warn("failed to connect to broker, retrying",
			zap.Duration("retry_in", retryIn),
			zap.Error(err),
		)
		time.Sleep(retryIn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		PaymentsExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", PaymentsExchange, err)
	}

	q, err := channel.QueueDeclare(
		paymentSucceededQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", paymentSucceededQueue, err)
	}

	if err := channel.QueueBind(q.Name, PaymentSucceededKey, PaymentsExchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	return &Consumer{
		conn:    conn,
		channel: channel,
		orders:  orders,
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(
		paymentSucceededQueue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	logger.L().Info("payment event consumer started",
		zap.String("queue", paymentSucceededQueue),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	timer := metrics.StartTimer()

	if d.MessageId != "" {
		ctx = logger.WithRequestID(ctx, d.MessageId)
	}
	log := logger.FromCtx(ctx).With(zap.String("routing_key", d.RoutingKey))

	var event PaymentSucceeded
	if err := json.Unmarshal(d.Body, &event); err != nil {
		// Poison message: redelivery cannot fix it.
		log.Error("dropping malformed payment event", zap.Error(err))
		c.stats.Dropped.Inc()
		_ = d.Ack(false)
		return
	}

	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		log.Error("dropping payment event with invalid order id",
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		c.stats.Dropped.Inc()
		_ = d.Ack(false)
		return
	}

	_, err = c.orders.ConfirmPayment(ctx, orderID, event.ChargeID, event.ReceiptURL)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		log.Warn("dropping payment event for unknown order",
			zap.String("order_id", event.OrderID),
		)
		c.stats.Dropped.Inc()
		_ = d.Ack(false)
	case err != nil:
		log.Error("failed to reconcile payment event, requeueing", zap.Error(err))
		c.stats.Requeued.Inc()
		_ = d.Nack(false, true)
	default:
		c.stats.Confirmed.Inc()
		log.Info("payment event reconciled",
			zap.String("order_id", event.OrderID),
			zap.Duration("duration", timer.Duration()),
		)
		_ = d.Ack(false)
	}
}

// Stats returns a snapshot of delivery outcome counts.
func (c *Consumer) Stats() (confirmed, dropped, requeued uint64) {
	return c.stats.Confirmed.Load(), c.stats.Dropped.Load(), c.stats.Requeued.Load()
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			return err
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
