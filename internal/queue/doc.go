// Package queue реализует постановку сборок окружений в очередь.
//
// Scheduler сочетает запись в БД (источник истины) с публикацией
// событий в RabbitMQ (доставка воркерам). Критическая секция очереди
// (отмена против взятия в работу) сериализуется advisory lock'ом БД.
package queue
