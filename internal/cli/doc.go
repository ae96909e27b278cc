// Package cli реализует инструмент командной строки Stepgraph.
//
// # Обзор
//
// CLI работает в двух режимах. Локальные команды (validate, order, graph,
// resolve) читают YAML-документы с диска и используют engine напрямую.
// Команды группы workflow обращаются к Stepgraph API по HTTP
// и не импортируют internal/api.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Stepgraph API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Ответы 400/422 превращаются в *APIError
// с позицией ошибки разбора или списком нарушений.
//
//	client := cli.NewClient("http://localhost:8080")
//	workflows, err := client.ListWorkflows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: stepgraph graph wf.yaml | dot -Tsvg
//
// ## Commands
//
//   - validate FILE...          — проверка документов (ненулевой код выхода при ошибках)
//   - order FILE                — порядок выполнения и уровни
//   - graph FILE                — граф в формате Graphviz DOT
//   - resolve FILE STEP         — подстановка результатов во входы шага
//   - workflow: list, create, show, delete, versions, publish, submit
//
// Фабричные функции принимают замыкания (clientFn, outputFn, optsFn)
// для ленивого создания зависимостей после парсинга PersistentFlags.
package cli
