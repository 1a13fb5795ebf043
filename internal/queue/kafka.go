package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

const (
	pollTimeout  = 100 * time.Millisecond
	flushTimeout = 15 * 1000 // ms
	pingTimeout  = 5 * 1000  // ms
)

// KafkaQueue publishes pending hashes to the transaction topic and finished
// records to the confirmed or failed topic.
type KafkaQueue struct {
	consumer *kafka.Consumer
	producer *kafka.Producer
	logger   *logging.Logger

	transactionTopic string
	confirmedTopic   string
	failedTopic      string

	// depth counts hashes published by this process and not yet consumed.
	depth     atomic.Int64
	closeOnce sync.Once
	done      chan struct{}
}

// NewKafkaQueue connects to the brokers and subscribes to the transaction topic.
func NewKafkaQueue(cfg config.KafkaConfig, logger *logging.Logger) (*KafkaQueue, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"group.id":          cfg.ConsumerGroup,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, errors.QueueWrapWithCode(err, errors.OpSubscribe, errors.QueueErrConnection, "failed to create Kafka consumer")
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		consumer.Close()
		return nil, errors.QueueWrapWithCode(err, errors.OpPublish, errors.QueueErrConnection, "failed to create Kafka producer")
	}

	if err := consumer.SubscribeTopics([]string{cfg.TransactionTopic}, nil); err != nil {
		consumer.Close()
		producer.Close()
		return nil, errors.QueueWrapWithCode(err, errors.OpSubscribe, errors.QueueErrConnection, "failed to subscribe to "+cfg.TransactionTopic)
	}

	q := &KafkaQueue{
		consumer:         consumer,
		producer:         producer,
		logger:           logger.Named("kafka"),
		transactionTopic: cfg.TransactionTopic,
		confirmedTopic:   cfg.ConfirmedTopic,
		failedTopic:      cfg.FailedTopic,
		done:             make(chan struct{}),
	}
	go q.deliveryReports()
	return q, nil
}

// deliveryReports logs messages the brokers refused.
func (q *KafkaQueue) deliveryReports() {
	for {
		select {
		case <-q.done:
			return
		case ev, ok := <-q.producer.Events():
			if !ok {
				return
			}
			if m, isMsg := ev.(*kafka.Message); isMsg && m.TopicPartition.Error != nil {
				q.logger.Error("Delivery failed",
					"topic", *m.TopicPartition.Topic,
					"error", m.TopicPartition.Error.Error(),
				)
			}
		}
	}
}

func (q *KafkaQueue) produce(topic string, key, value []byte) error {
	return q.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   key,
		Value: value,
	}, nil)
}

func (q *KafkaQueue) Publish(_ context.Context, hash types.HashValue) error {
	select {
	case <-q.done:
		return errClosed(errors.OpPublish)
	default:
	}
	text, _ := hash.MarshalText()
	if err := q.produce(q.transactionTopic, hash[:], text); err != nil {
		return errors.QueueWrapWithCode(err, errors.OpPublish, errors.QueueErrPublish, "error publishing transaction")
	}
	q.depth.Add(1)
	return nil
}

// Consume polls the transaction topic until a well-formed hash arrives.
func (q *KafkaQueue) Consume(ctx context.Context) (types.HashValue, error) {
	for {
		select {
		case <-ctx.Done():
			return types.HashValue{}, ctx.Err()
		case <-q.done:
			return types.HashValue{}, errClosed(errors.OpConsume)
		default:
		}

		msg, err := q.consumer.ReadMessage(pollTimeout)
		if err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			return types.HashValue{}, errors.QueueWrapWithCode(err, errors.OpConsume, errors.QueueErrConsume, "error reading message")
		}

		var hash types.HashValue
		if err := hash.UnmarshalText(msg.Value); err != nil {
			q.logger.Warn("Skipping malformed message",
				"offset", msg.TopicPartition.Offset.String(),
				"error", err.Error(),
			)
			continue
		}
		if q.depth.Load() > 0 {
			q.depth.Add(-1)
		}
		return hash, nil
	}
}

// Announce publishes rec as JSON, keyed by hash, to the confirmed topic when
// it succeeded and to the failed topic otherwise.
func (q *KafkaQueue) Announce(_ context.Context, rec *transaction.Record) error {
	value, err := rec.ToJSON()
	if err != nil {
		return err
	}
	topic := q.confirmedTopic
	if !rec.Success() {
		topic = q.failedTopic
	}
	if err := q.produce(topic, rec.Hash[:], value); err != nil {
		return errors.QueueWrapWithCode(err, errors.OpPublish, errors.QueueErrPublish, "error publishing "+topic)
	}
	return nil
}

func (q *KafkaQueue) Depth() int { return int(q.depth.Load()) }

func (q *KafkaQueue) Ping(context.Context) error {
	if _, err := q.producer.GetMetadata(&q.transactionTopic, false, pingTimeout); err != nil {
		return errors.QueueWrapWithCode(err, errors.OpPing, errors.QueueErrConnection, "kafka metadata request failed")
	}
	return nil
}

// Close flushes outstanding messages and closes both clients.
func (q *KafkaQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		if remaining := q.producer.Flush(flushTimeout); remaining > 0 {
			q.logger.Warn("Messages left unflushed", "count", remaining)
		}
		q.producer.Close()
		if err := q.consumer.Close(); err != nil {
			q.logger.Error("Failed to close consumer", "error", err.Error())
		}
	})
	return nil
}
