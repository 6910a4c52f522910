package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/hemanthK-supraoracles/perpetuals/pkg/metrics"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/mq"
)

// Relay 周期性地把发件箱中的待投递消息发送到 Kafka。
// 单条发送失败即中断本批，留待下一轮重试，保持分区内顺序。
type Relay struct {
	store    *Store
	producer *mq.KafkaProducer
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewRelay(store *Store, producer *mq.KafkaProducer, interval time.Duration, batch int, m *metrics.Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		store:    store,
		producer: producer,
		interval: interval,
		batch:    batch,
		metrics:  m,
		logger:   logger.With("module", "outbox-relay"),
	}
}

// Run 阻塞运行中继循环，直到 ctx 取消
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "outbox relay started", "interval", r.interval.String(), "batch", r.batch)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-ticker.C:
			if err := r.relayOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
			}
		}
	}
}

func (r *Relay) relayOnce(ctx context.Context) error {
	messages, err := r.store.FetchPending(ctx, r.batch)
	if err != nil {
		return err
	}

	sent := make([]uint, 0, len(messages))
	for _, m := range messages {
		if err := r.producer.SendRaw(ctx, m.Topic, m.Key, []byte(m.Payload)); err != nil {
			r.logger.WarnContext(ctx, "message delivery failed, will retry",
				"message_id", m.MessageID, "topic", m.Topic, "error", err)
			break
		}
		sent = append(sent, m.ID)
	}

	if err := r.store.MarkSent(ctx, sent); err != nil {
		return err
	}

	if r.metrics != nil {
		if pending, err := r.store.CountPending(ctx); err == nil {
			r.metrics.OutboxPendingGauge.Set(float64(pending))
		}
	}
	return nil
}
