package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier publishes purchase-lifecycle events for downstream consumers
// (mail, push, analytics). Publishing is best effort: a broker outage
// must never fail a payment, so callers ignore the returned error after
// logging and the write uses a short timeout.
type Notifier struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

type Config struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

type event struct {
	Type       string `json:"type"`
	BuyerID    int64  `json:"buyer_id"`
	OrderID    int64  `json:"order_id"`
	CourseID   int64  `json:"course_id,omitempty"`
	Amount     int64  `json:"amount,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	var writer *kafka.Writer
	if len(cfg.Brokers) > 0 && cfg.Topic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}

	return &Notifier{
		writer:  writer,
		logger:  logger,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
}

func (n *Notifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

func (n *Notifier) PaymentCompleted(ctx context.Context, buyerID, orderID, courseID, amount int64) error {
	return n.publish(ctx, event{
		Type:     "payment.completed",
		BuyerID:  buyerID,
		OrderID:  orderID,
		CourseID: courseID,
		Amount:   amount,
	})
}

func (n *Notifier) PaymentFailed(ctx context.Context, buyerID, orderID, courseID int64, reason string) error {
	return n.publish(ctx, event{
		Type:     "payment.failed",
		BuyerID:  buyerID,
		OrderID:  orderID,
		CourseID: courseID,
		Reason:   reason,
	})
}

func (n *Notifier) RefundDecided(ctx context.Context, buyerID, orderID int64, approved bool, reason string) error {
	return n.publish(ctx, event{
		Type:     "refund.decided",
		BuyerID:  buyerID,
		OrderID:  orderID,
		Approved: &approved,
		Reason:   reason,
	})
}

func (n *Notifier) publish(ctx context.Context, ev event) error {
	if n.writer == nil {
		return nil
	}
	ev.OccurredAt = n.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	// Keyed by buyer so per-user events stay ordered within a partition.
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.BuyerID, 10)),
		Value: payload,
	})
	if err != nil {
		n.logger.Warn("notification publish failed",
			zap.String("type", ev.Type),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("publish notification: %w", err)
	}

	return nil
}
