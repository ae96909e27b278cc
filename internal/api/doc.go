// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилище, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - validate_handler.go — проверка документа и отправка в очередь
//   - workflow_handler.go — обработчики для /workflows и их версий
//
// Версия workflow создаётся только из валидного документа: ошибка разбора
// возвращается как 400 с позицией, нарушения валидации как 422 со списком.
package api
