// Package engine содержит загрузчик и валидатор workflow-документов.
//
// Включает:
//   - parser.go    — разбор YAML-документа в domain.Workflow с позициями ошибок
//   - validate.go  — семантическая проверка, собирающая все нарушения
//   - dag.go       — построение DAG шагов, топологический порядок, уровни, DOT
//   - reference.go — ссылки ((step.output)) и подстановка результатов
//
// Engine не выполняет шаги: он понимает структуру workflow и определяет
// порядок, в котором внешний оркестратор может их запускать.
package engine
