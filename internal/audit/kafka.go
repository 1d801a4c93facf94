package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topic carries the ledger audit trail when Kafka is configured.
const Topic = "lanfiasave.ledger.audit"

// KafkaPublisher mirrors audit events onto a Kafka topic, keyed by donation
// so all events of one donation land in order on one partition. It satisfies
// Store so it can sit behind the same Publisher as the database stores;
// ListByDonation is served by the materialized store, not the broker.
type KafkaPublisher struct {
	client *kgo.Client
}

// NewKafkaPublisher connects to the brokers and ensures the audit topic
// exists.
func NewKafkaPublisher(ctx context.Context, brokers []string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, Topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", err)
	}
	// Topic creation races with other replicas are fine.
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("create audit topic: %w", resp.Err)
	}

	return &KafkaPublisher{client: client}, nil
}

type kafkaPayload struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	DonationID string `json:"donation_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Amount     int64  `json:"amount"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func (p *KafkaPublisher) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(kafkaPayload{
		ID:         event.ID,
		Action:     string(event.Action),
		DonationID: event.DonationID,
		Subject:    event.Subject,
		Amount:     int64(event.Amount),
		Detail:     event.Detail,
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{Key: []byte(event.DonationID), Value: payload}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) ListByDonation(context.Context, string) ([]Event, error) {
	return nil, fmt.Errorf("kafka publisher is write-only; query the materialized store")
}

func (p *KafkaPublisher) Close() { p.client.Close() }
