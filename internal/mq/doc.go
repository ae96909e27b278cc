// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий workflow
//   - consumer.go   — потребление сообщений с ack/nack и DLQ
//
// Типы сообщений:
//   - workflow.submitted — документ отправлен на валидацию
//   - workflow.validated — документ валиден, порядок шагов вычислен
//   - workflow.rejected  — документ отклонён, список нарушений в payload
//
// Exchanges:
//   - stepgraph.workflows — события workflow
//   - stepgraph.dlq       — dead letter queue
package mq
