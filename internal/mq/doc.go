// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - branch.pending       — новая сборка ветки ожидает fan-out
//   - branch.completed     — сборка ветки завершена
//   - build.ready          — сборка окружения готова к выполнению
//   - build.completed      — сборка окружения завершена
//   - promotion.ready      — promotion готов к выполнению
//   - promotion.completed  — promotion завершён
//
// Exchanges:
//   - conveyor.branches    — события сборок веток
//   - conveyor.builds      — события сборок окружений
//   - conveyor.promotions  — события promotions
//   - conveyor.dlq         — dead letter queue
package mq
