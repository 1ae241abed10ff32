// Package kafka 发送领取事件
package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-faucet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-faucet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-faucet/pkg/logger"
)

const (
	TopicClaimSubmitted = "faucet-claim-submitted"
	TopicClaimConfirmed = "faucet-claim-confirmed"
)

// Publisher 领取事件发布
type Publisher interface {
	PublishClaimSubmitted(ctx context.Context, event *model.ClaimSubmittedEvent) error
	PublishClaimConfirmed(ctx context.Context, event *model.ClaimConfirmedEvent) error
	Close() error
}

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer 创建 Kafka 生产者
func NewProducer(brokers []string, clientID string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.ClientID = clientID

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewProducerWithClient(producer), nil
}

// NewProducerWithClient 使用已有的 SyncProducer
func NewProducerWithClient(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishClaimSubmitted 发送领取提交事件
func (p *Producer) PublishClaimSubmitted(ctx context.Context, event *model.ClaimSubmittedEvent) error {
	return p.send(TopicClaimSubmitted, event.ClaimID, event)
}

// PublishClaimConfirmed 发送领取确认事件
func (p *Producer) PublishClaimConfirmed(ctx context.Context, event *model.ClaimConfirmedEvent) error {
	return p.send(TopicClaimConfirmed, event.ClaimID, event)
}

func (p *Producer) send(topic, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	metrics.RecordKafkaMessage(topic, err == nil)
	if err != nil {
		logger.Error("failed to send claim event",
			zap.String("topic", topic),
			zap.String("claim_id", key),
			zap.Error(err))
		return err
	}

	logger.Debug("claim event sent",
		zap.String("topic", topic),
		zap.String("claim_id", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// NoopPublisher 未配置 Kafka 时使用
type NoopPublisher struct{}

func (NoopPublisher) PublishClaimSubmitted(context.Context, *model.ClaimSubmittedEvent) error {
	return nil
}

func (NoopPublisher) PublishClaimConfirmed(context.Context, *model.ClaimConfirmedEvent) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
