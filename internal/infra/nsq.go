package infra

import (
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

// MessageHandler processes one message body. A returned error requeues it.
type MessageHandler func(body []byte) error

// NewNSQProducer creates a producer and pings nsqd.
func NewNSQProducer(address string, logger *slog.Logger) (*nsq.Producer, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	producer.SetLoggerLevel(nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("ping nsqd: %w", err)
	}
	if logger != nil {
		logger.Info("nsq producer connected", "address", address)
	}
	return producer, nil
}

// NSQConsumer subscribes a handler to a topic/channel.
type NSQConsumer struct {
	consumer *nsq.Consumer
}

// NewNSQConsumer wires handler to topic/channel on nsqd at address.
func NewNSQConsumer(address, topic, channel string, handler MessageHandler, logger *slog.Logger) (*NSQConsumer, error) {
	cfg := nsq.NewConfig()
	cfg.MaxAttempts = 10

	consumer, err := nsq.NewConsumer(topic, channel, cfg)
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		if err := handler(m.Body); err != nil {
			if logger != nil {
				logger.Warn("nsq message failed", "topic", topic, "attempts", m.Attempts, "error", err)
			}
			return err
		}
		return nil
	}))

	if err := consumer.ConnectToNSQD(address); err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect nsqd: %w", err)
	}
	return &NSQConsumer{consumer: consumer}, nil
}

// Stop stops the consumer and waits for in-flight handlers.
func (c *NSQConsumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
