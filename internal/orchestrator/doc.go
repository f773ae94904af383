// Package orchestrator управляет выполнением сборок веток.
//
// Orchestrator отвечает за:
//   - Получение новых сборок веток из очереди RabbitMQ
//   - Разрешение описания проекта и списка окружений
//   - Fan-out: постановку дочерней сборки на каждое окружение
//   - Выверку реестра окружений
//   - Отслеживание завершения дочерних сборок (опрос с порогом исчезновения)
//   - Сведение итога по принципу "худший результат побеждает"
//   - Отмену дочерних сборок при прерывании (под queue lock'ом)
//
// Orchestrator — это "мозг" системы, который координирует выполнение.
package orchestrator
