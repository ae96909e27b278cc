package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/telemetry"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeSubmitted MessageType = "workflow.submitted"
	MessageTypeValidated MessageType = "workflow.validated"
	MessageTypeRejected  MessageType = "workflow.rejected"
)

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

// SubmittedPayload — документ, отправленный на валидацию.
type SubmittedPayload struct {
	// Workflow — имя зарегистрированного workflow, в который сохранить версию.
	// Пустое имя: документ только проверяется.
	Workflow string `json:"workflow,omitempty"`

	// Source — текст документа.
	Source string `json:"source"`

	// Policy — политика ссылок (пусто — из конфигурации сервиса).
	Policy string `json:"policy,omitempty"`
}

// ValidatedPayload — документ прошёл валидацию.
type ValidatedPayload struct {
	WorkflowID uuid.UUID  `json:"workflow_id"`
	Workflow   string     `json:"workflow"`
	Version    int        `json:"version,omitempty"`
	StepCount  int        `json:"step_count"`
	Order      []string   `json:"order"`
	Levels     [][]string `json:"levels"`
}

// RejectedPayload — документ не прошёл разбор или валидацию.
type RejectedPayload struct {
	WorkflowID uuid.UUID          `json:"workflow_id"`
	Workflow   string             `json:"workflow"`
	Version    int                `json:"version,omitempty"`
	Error      string             `json:"error"`
	Violations []engine.Violation `json:"violations,omitempty"`
}

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

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
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
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		telemetry.ObserveEvent(string(msg.Type))
		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishSubmitted отправляет документ на валидацию.
// Потребитель: stepgraph-validator.
func (p *Publisher) PublishSubmitted(ctx context.Context, payload SubmittedPayload) error {
	return p.Publish(ctx, ExchangeWorkflows, RoutingKeySubmitted, NewMessage(MessageTypeSubmitted, payload))
}

// PublishValidated публикует событие о валидном документе.
// Потребитель: внешний оркестратор.
func (p *Publisher) PublishValidated(ctx context.Context, payload ValidatedPayload) error {
	return p.Publish(ctx, ExchangeWorkflows, RoutingKeyValidated, NewMessage(MessageTypeValidated, payload))
}

// PublishRejected публикует событие об отклонённом документе.
func (p *Publisher) PublishRejected(ctx context.Context, payload RejectedPayload) error {
	return p.Publish(ctx, ExchangeWorkflows, RoutingKeyRejected, NewMessage(MessageTypeRejected, payload))
}
