package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeBranchPending      MessageType = "branch.pending"
	MessageTypeBranchCompleted    MessageType = "branch.completed"
	MessageTypeBuildReady         MessageType = "build.ready"
	MessageTypeBuildCompleted     MessageType = "build.completed"
	MessageTypePromotionReady     MessageType = "promotion.ready"
	MessageTypePromotionCompleted MessageType = "promotion.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// BranchPendingPayload — payload для сообщения о новой сборке ветки.
type BranchPendingPayload struct {
	BuildID uuid.UUID `json:"build_id"`
}

// BranchCompletedPayload — payload для завершённой сборки ветки.
type BranchCompletedPayload struct {
	BuildID uuid.UUID `json:"build_id"`
	Job     string    `json:"job"`
	Number  int       `json:"number"`
	Result  string    `json:"result"`
}

// BuildReadyPayload — payload для сборки окружения, готовой к выполнению.
type BuildReadyPayload struct {
	BuildID     uuid.UUID `json:"build_id"`
	Job         string    `json:"job"`
	Number      int       `json:"number"`
	Environment string    `json:"environment"`
}

// BuildCompletedPayload — payload для завершённой сборки окружения.
type BuildCompletedPayload struct {
	BuildID     uuid.UUID `json:"build_id"`
	Job         string    `json:"job"`
	Number      int       `json:"number"`
	Environment string    `json:"environment"`
	Result      string    `json:"result"`
	Error       string    `json:"error,omitempty"`
}

// PromotionReadyPayload — payload для promotion, готового к выполнению.
type PromotionReadyPayload struct {
	BuildID uuid.UUID `json:"build_id"`
	Job     string    `json:"job"`
	Number  int       `json:"number"`
	Process string    `json:"process"`
	Attempt int       `json:"attempt"`
}

// PromotionCompletedPayload — payload для завершённого promotion.
type PromotionCompletedPayload struct {
	BuildID uuid.UUID `json:"build_id"`
	Job     string    `json:"job"`
	Number  int       `json:"number"`
	Process string    `json:"process"`
	Attempt int       `json:"attempt"`
	Result  string    `json:"result"`
	Error   string    `json:"error,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishBranchPending публикует событие о новой сборке ветки.
// Потребитель: Orchestrator.
func (p *Publisher) PublishBranchPending(ctx context.Context, buildID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBranchPending,
		Payload:   BranchPendingPayload{BuildID: buildID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeBranches, RoutingKeyPending, msg)
}

// PublishBranchCompleted публикует событие о завершённой сборке ветки.
// Потребитель: Promoter.
func (p *Publisher) PublishBranchCompleted(ctx context.Context, payload BranchCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBranchCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeBranches, RoutingKeyCompleted, msg)
}

// PublishBuildReady публикует событие о сборке окружения, готовой
// к выполнению. Потребитель: Worker.
func (p *Publisher) PublishBuildReady(ctx context.Context, payload BuildReadyPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBuildReady,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeBuilds, RoutingKeyReady, msg)
}

// PublishBuildCompleted публикует событие о завершённой сборке окружения.
// Потребитель: Orchestrator.
func (p *Publisher) PublishBuildCompleted(ctx context.Context, payload BuildCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBuildCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeBuilds, RoutingKeyCompleted, msg)
}

// PublishPromotionReady публикует событие о promotion, готовом
// к выполнению. Потребитель: Worker.
func (p *Publisher) PublishPromotionReady(ctx context.Context, payload PromotionReadyPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypePromotionReady,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangePromotions, RoutingKeyReady, msg)
}

// PublishPromotionCompleted публикует событие о завершённом promotion.
// Потребитель: Promoter.
func (p *Publisher) PublishPromotionCompleted(ctx context.Context, payload PromotionCompletedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypePromotionCompleted,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangePromotions, RoutingKeyCompleted, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
