// Package rabbitmq is the broker-backed requeue path for batches whose
// agent call failed. A retry message carries the segment ids; it waits in
// <queue>.retry until its per-message TTL expires and is dead-lettered into
// <queue>, where the next processing cycle picks it up. Exhausted batches
// go to <queue>.dlq for inspection.
//
// RabbitMQ only expires per-message TTLs at the head of a queue, so a retry
// with a long delay holds back shorter ones published after it. Delays are
// capped at the backoff MaxDelay, which bounds that wait.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/retry"
)

// SegmentHolder parks and re-opens claimed segments.
type SegmentHolder interface {
	Hold(ctx context.Context, ids []uint64) error
	MakeDue(ctx context.Context, ids []uint64, now time.Time) error
}

type BatchMessage struct {
	SegmentIDs []uint64  `json:"segment_ids"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string

	store       SegmentHolder
	backoff     retry.Backoff
	maxAttempts int
}

func NewPublisher(url, queue string, store SegmentHolder, backoff retry.Backoff, maxAttempts int) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p := newPublisher(ch, queue, store, backoff, maxAttempts)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, queue string, store SegmentHolder, backoff retry.Backoff, maxAttempts int) *Publisher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Publisher{
		ch:          ch,
		queue:       queue,
		store:       store,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

func declare(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Requeue parks the segments and schedules them for another attempt after
// the backoff delay. Past maxAttempts the batch is sent to the DLQ and
// false is returned.
func (p *Publisher) Requeue(ctx context.Context, ids []uint64, attempts int) (bool, error) {
	msg := BatchMessage{SegmentIDs: ids, Attempts: attempts + 1, FailedAt: time.Now()}

	if attempts+1 >= p.maxAttempts {
		if err := p.publish(ctx, p.queue+".dlq", msg, 0); err != nil {
			return false, fmt.Errorf("%w: publish dlq: %w", common.ErrStore, err)
		}
		log.Warn().Int("segments", len(ids)).Int("attempts", msg.Attempts).Msg("batch sent to dlq")
		return false, nil
	}

	if err := p.store.Hold(ctx, ids); err != nil {
		return false, err
	}
	delay := p.backoff.Delay(attempts)
	if p.backoff.MaxDelay > 0 && delay > p.backoff.MaxDelay {
		delay = p.backoff.MaxDelay
	}
	if err := p.publish(ctx, p.queue+".retry", msg, delay); err != nil {
		return false, fmt.Errorf("%w: publish retry: %w", common.ErrStore, err)
	}
	log.Info().Int("segments", len(ids)).Dur("delay", delay).Msg("batch scheduled for retry")
	return true, nil
}

// Redeliver drains every expired retry message from the main queue and
// makes its segments due again.
func (p *Publisher) Redeliver(ctx context.Context, now time.Time) error {
	for {
		d, ok, err := p.ch.Get(p.queue, false)
		if err != nil {
			return fmt.Errorf("%w: get retry: %w", common.ErrStore, err)
		}
		if !ok {
			return nil
		}

		var msg BatchMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			log.Error().Err(err).Msg("bad retry message, dead-lettering")
			_ = d.Nack(false, false)
			continue
		}
		if err := p.store.MakeDue(ctx, msg.SegmentIDs, now); err != nil {
			_ = d.Nack(false, true)
			return err
		}
		if err := d.Ack(false); err != nil {
			return fmt.Errorf("%w: ack retry: %w", common.ErrStore, err)
		}
		log.Info().Int("segments", len(msg.SegmentIDs)).Int("attempts", msg.Attempts).Msg("retry batch due")
	}
}

func (p *Publisher) publish(ctx context.Context, queue string, msg BatchMessage, ttl time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if ttl > 0 {
		pub.Expiration = expiration(ttl)
	}
	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		pub,
	)
}

// expiration renders a TTL the way AMQP expects it: milliseconds as a
// decimal string.
func expiration(ttl time.Duration) string {
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
