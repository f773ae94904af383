// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go           — Handler с DI (репозитории, движок, publisher, logger)
//   - routes.go            — регистрация маршрутов
//   - middleware.go        — middleware (logging, recovery)
//   - response.go          — унифицированные JSON-ответы и обработка ошибок
//   - dto.go               — Data Transfer Objects (request/response)
//   - build_handler.go     — обработчики для /builds
//   - promotion_handler.go — обработчики для /builds/{id}/promotions
//   - registry_handler.go  — обработчики для /environments и /processes
//
// API предоставляет REST endpoints для запуска и просмотра сборок веток,
// статуса promotion-процессов, ручных одобрений и принудительных
// promotions.
package api
