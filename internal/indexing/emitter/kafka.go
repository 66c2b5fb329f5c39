package emitter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaEmitter publishes records as JSON, keyed by channel so one
// recipient's notifications stay ordered within a partition.
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaConfig returns the producer configuration used by the emitter.
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewKafkaEmitter connects a sync producer to brokers.
func NewKafkaEmitter(brokers []string, topic string) (*KafkaEmitter, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return NewKafkaEmitterWithProducer(producer, topic), nil
}

// NewKafkaEmitterWithProducer wraps an existing producer.
func NewKafkaEmitterWithProducer(producer sarama.SyncProducer, topic string) *KafkaEmitter {
	return &KafkaEmitter{producer: producer, topic: topic}
}

func (e *KafkaEmitter) message(rec Record) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(rec.ChannelKey),
		Value: sarama.ByteEncoder(data),
	}, nil
}

func (e *KafkaEmitter) Emit(ctx context.Context, rec Record) error {
	msg, err := e.message(rec)
	if err != nil {
		return err
	}
	if _, _, err := e.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (e *KafkaEmitter) EmitBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(recs))
	for _, rec := range recs {
		msg, err := e.message(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := e.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("failed to send messages: %w", err)
	}
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.producer.Close()
}
