package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeWorkflows Exchange = "stepgraph.workflows"
	ExchangeDLQ       Exchange = "stepgraph.dlq"
)

// Queues — имена очередей.
const (
	QueueSubmitted    Queue = "workflows.submitted"
	QueueValidated    Queue = "workflows.validated"
	QueueRejected     Queue = "workflows.rejected"
	QueueDLQWorkflows Queue = "dlq.workflows"
)

// Routing keys.
const (
	RoutingKeySubmitted    RoutingKey = "submitted"
	RoutingKeyValidated    RoutingKey = "validated"
	RoutingKeyRejected     RoutingKey = "rejected"
	RoutingKeyDLQWorkflows RoutingKey = "workflows"
)

// queueSpec — очередь и её привязка.
type queueSpec struct {
	name       Queue
	exchange   Exchange
	routingKey RoutingKey
	deadLetter bool
}

// topology — все очереди Stepgraph.
var topology = []queueSpec{
	// workflows.submitted — с DLQ: документ, который не удалось обработать дважды, уходит в dlq.workflows
	{QueueSubmitted, ExchangeWorkflows, RoutingKeySubmitted, true},

	// workflows.validated / workflows.rejected — для внешнего оркестратора и уведомлений
	{QueueValidated, ExchangeWorkflows, RoutingKeyValidated, false},
	{QueueRejected, ExchangeWorkflows, RoutingKeyRejected, false},

	// dlq.workflows — ручной разбор
	{QueueDLQWorkflows, ExchangeDLQ, RoutingKeyDLQWorkflows, false},
}

// SetupTopology объявляет обменники, очереди и привязки.
// Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeWorkflows, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, q := range topology {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, queueArgs(q)); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.routingKey), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}

		return nil
	})
}

// queueArgs возвращает аргументы очереди (dead-letter для очередей с DLQ).
func queueArgs(q queueSpec) amqp.Table {
	if !q.deadLetter {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQWorkflows),
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Stepgraph RabbitMQ Topology:

    stepgraph.workflows (direct)
    ├── workflows.submitted [routing: submitted]
    │       Consumer: stepgraph-validator
    │       DLQ: dlq.workflows
    ├── workflows.validated [routing: validated]
    │       Consumer: external orchestrator
    └── workflows.rejected [routing: rejected]
            Consumer: notifications

    stepgraph.dlq (direct)
    └── dlq.workflows [routing: workflows]
            Manual processing
  `
}
