package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/gfreitas/lottery-pot-platform-poc/pkg/contracts/events"
)

// KafkaPublisher encapsula o writer Kafka e o logger.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher cria um publisher para um tópico Kafka.
// A função lê a lista de brokers, opcionalmente garante a existência do
// tópico em ambientes de desenvolvimento, e inicializa o writer com timeouts.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	if len(brokers) == 0 {
		log.Fatal("kafka brokers not provided")
	}

	ctrlCtx, ctrlCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ctrlCancel()

	// Criação de tópico apenas quando APP_ENV indica ambiente local ou dev.
	if env := os.Getenv("APP_ENV"); env == "local" || env == "dev" {
		conn, err := kafka.DialContext(ctrlCtx, "tcp", brokers[0])
		if err != nil {
			log.Fatal("failed to connect to kafka", zap.Error(err))
		}
		defer conn.Close()

		controller, err := conn.Controller()
		if err != nil {
			log.Fatal("failed to get kafka controller", zap.Error(err))
		}

		controllerAddr := fmt.Sprintf("%s:%d", controller.Host, controller.Port)
		cconn, err := kafka.DialContext(ctrlCtx, "tcp", controllerAddr)
		if err != nil {
			log.Fatal("failed to dial controller", zap.Error(err))
		}
		defer cconn.Close()

		cfg := kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}

		if err := cconn.CreateTopics(cfg); err != nil && !strings.Contains(err.Error(), "already exists") {
			log.Warn("failed to create kafka topic", zap.String("topic", topic), zap.Error(err))
		} else if err == nil {
			log.Info("kafka topic created", zap.String("topic", topic))
		}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}

	return &KafkaPublisher{
		writer: writer,
		log:    log,
	}
}

// Publish serializa o batch em JSON e envia para o tópico configurado.
// A chave é a assinatura da transação: redelivery do mesmo batch cai na
// mesma partição e o pipeline a jusante é idempotente.
func (p *KafkaPublisher) Publish(ctx context.Context, b events.LedgerLogBatch) error {
	value, err := json.Marshal(b)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(b.Signature),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish log batch", zap.Error(err))
		return err
	}

	p.log.Debug("published log batch",
		zap.String("signature", b.Signature),
		zap.Int("lines", len(b.Logs)),
	)
	return nil
}

// Close finaliza o writer e libera recursos associados.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
