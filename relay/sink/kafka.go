package sink

import (
	"context"
	"fmt"

	"github.com/maxpert/cqnwatch/cfg"
	"github.com/maxpert/cqnwatch/relay"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20
)

func init() {
	relay.RegisterSink("kafka", func(config cfg.SinkConfiguration) (relay.Sink, error) {
		kc := DefaultKafkaConfig(config.Brokers)
		if config.BatchSize > 0 {
			kc.BatchSize = config.BatchSize
		}
		return NewKafkaSink(kc)
	})
}

// KafkaSink publishes records with a synchronous kafka-go writer. Records
// are partitioned by key so changes to one row stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

type KafkaConfig struct {
	Brokers          []string
	BatchSize        int
	BatchBytes       int64
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
}

func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}}, nil
}

// Publish writes one message; a nil value is a tombstone. Retries are the
// worker's job, so no deadline is set here.
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	return k.writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
