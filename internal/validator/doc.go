// Package validator реализует сервис stepgraph-validator.
//
// Сервис потребляет workflows.submitted, валидирует документы через engine,
// сохраняет валидные версии в Postgres и публикует результат
// (workflow.validated или workflow.rejected). Check используется также
// HTTP API, чтобы метрики и формат отчёта были одинаковыми.
package validator
