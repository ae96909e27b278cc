// Package telemetry обеспечивает наблюдаемость сервисов Stepgraph.
//
// logging.go настраивает slog по log.level и log.format из конфигурации
// и передаёт логгер запроса через context. Поля workflow, workflow_id,
// message_id и request_id добавляются хелперами With*.
//
// metrics.go регистрирует Prometheus метрики через promauto:
//
//	stepgraph_documents_total{source,result}
//	stepgraph_violations_total{kind}
//	stepgraph_validation_duration_seconds{source}
//	stepgraph_events_published_total{type}
//
// source — кто загрузил документ: api, validator, audit или cli.
package telemetry
