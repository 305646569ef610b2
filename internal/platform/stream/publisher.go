// Package stream publishes wallet lifecycle events (connections,
// disconnections, discovery rounds, recovery attempts) to a Kafka
// topic for audit and downstream consumption.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Config holds lifecycle stream settings.
type Config struct {
	// Addresses are the broker seed addresses. Empty disables the
	// publisher entirely.
	Addresses []string `yaml:"addresses"`

	Topic             string `yaml:"topic"`
	Partitions        int32  `yaml:"partitions"`
	ReplicationFactor int16  `yaml:"replication_factor"`
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "wallet-lifecycle"
	}
	if c.Partitions == 0 {
		c.Partitions = 4
	}
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = 1
	}
	return c
}

// Publisher produces lifecycle events to the configured topic.
type Publisher struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger
}

// NewPublisher connects to the brokers.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	brokerList := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		brokerList[i] = strings.TrimSpace(addr)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokerList...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Publisher{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "lifecycle-stream"),
	}, nil
}

// EnsureTopic creates the lifecycle topic if it does not exist.
func (p *Publisher) EnsureTopic(ctx context.Context) error {
	admin := kadm.NewClient(p.client)

	existing, err := admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if _, ok := existing[p.cfg.Topic]; ok {
		return nil
	}

	resp, err := admin.CreateTopics(ctx, p.cfg.Partitions, p.cfg.ReplicationFactor, nil, p.cfg.Topic)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces one event synchronously.
func (p *Publisher) Publish(ctx context.Context, ev wallet.Event) error {
	record, err := p.record(ev)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}

// Attach subscribes the publisher to an emitter, producing every event
// asynchronously. Returns the unsubscribe func. Publish failures are
// logged, never fatal to the emitting path.
func (p *Publisher) Attach(em *wallet.Emitter) func() {
	return em.OnAny(func(ev wallet.Event) {
		record, err := p.record(ev)
		if err != nil {
			p.logger.Warn("failed to encode lifecycle event", "error", err)
			return
		}
		p.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
			if err != nil {
				p.logger.Warn("failed to publish lifecycle event", "type", string(ev.Type), "error", err)
			}
		})
	})
}

func (p *Publisher) record(ev wallet.Event) (*kgo.Record, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	return &kgo.Record{
		Topic: p.cfg.Topic,
		Key:   []byte(ev.WalletID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

// Close flushes and releases the producer.
func (p *Publisher) Close() {
	p.client.Flush(context.Background())
	p.client.Close()
}
