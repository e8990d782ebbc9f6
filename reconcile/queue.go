package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// WebhookEventsStream is the JetStream work-queue stream backing inbound
// webhook intake, so a burst of provider events never blocks the HTTP
// handler that received them (§4.8).
const (
	WebhookEventsStream  = "WEBHOOK_EVENTS"
	WebhookEventsSubject = "webhooks.inbound"
)

// QueueConfig configures the consumer pool draining the webhook queue.
type QueueConfig struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultQueueConfig matches a modest webhook volume; raise Workers for a
// high-traffic storefront.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Workers: 5, PollInterval: time.Second}
}

// queuedEvent is the envelope persisted onto the JetStream subject —
// source distinguishes provider vs platform so the consumer can dispatch
// to the right reconciler path.
type queuedEvent struct {
	Source          string `json:"source"` // "stripe" or "shopify"
	EventType       string `json:"event_type"`
	RawBody         []byte `json:"raw_body"`
	SignatureHeader string `json:"signature_header"`
	ShopDomain      string `json:"shop_domain,omitempty"`
}

// Queue publishes and consumes webhook events through NATS JetStream.
type Queue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	recon    *Reconciler
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	cfg      QueueConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates the work-queue stream (if absent) and a durable
// consumer bound to it.
func NewQueue(ctx context.Context, nc *nats.Conn, recon *Reconciler, cfg QueueConfig) (*Queue, error) {
	if cfg.Workers <= 0 {
		cfg = DefaultQueueConfig()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      WebhookEventsStream,
		Subjects:  []string{WebhookEventsSubject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook events stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "webhook-workers",
		FilterSubject: WebhookEventsSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxAckPending: cfg.Workers * 10,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook consumer: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Queue{js: js, consumer: consumer, recon: recon, encoder: enc, decoder: dec, cfg: cfg}, nil
}

// Publish enqueues a raw webhook body for asynchronous processing,
// compressing the body so large payloads stay small in the stream. The
// stream is a work queue: a message is removed once acked, and the body is
// not archived anywhere.
func (q *Queue) Publish(ctx context.Context, source, eventType string, rawBody []byte, signatureHeader, shopDomain string) error {
	ev := queuedEvent{
		Source:          source,
		EventType:       eventType,
		RawBody:         q.encoder.EncodeAll(rawBody, nil),
		SignatureHeader: signatureHeader,
		ShopDomain:      shopDomain,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = q.js.Publish(ctx, WebhookEventsSubject, payload)
	return err
}

// Start spawns the configured number of worker goroutines draining the
// consumer until ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Stop cancels all workers and waits for them to drain.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.cfg.PollInterval))
		if err != nil {
			continue
		}
		for msg := range msgs.Messages() {
			q.handle(ctx, msg)
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg jetstream.Msg) {
	var ev queuedEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		msg.Term()
		return
	}

	rawBody, err := q.decoder.DecodeAll(ev.RawBody, nil)
	if err != nil {
		msg.Term()
		return
	}

	switch ev.Source {
	case "stripe":
		q.recon.HandleProviderWebhook(ctx, rawBody, ev.SignatureHeader)
	case "shopify":
		q.recon.HandlePlatformWebhook(ctx, PlatformWebhookEvent(ev.EventType), ev.ShopDomain)
	}
	msg.Ack()
}
