package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeBranches   Exchange = "conveyor.branches"
	ExchangeBuilds     Exchange = "conveyor.builds"
	ExchangePromotions Exchange = "conveyor.promotions"
	ExchangeDLQ        Exchange = "conveyor.dlq"
)

// Queues — имена очередей.
const (
	QueueBranchesPending   Queue = "branches.pending"
	QueueBranchesCompleted Queue = "branches.completed"

	QueueBuildsReady         Queue = "builds.ready"
	QueueBuildsCompleted     Queue = "builds.completed"
	QueuePromotionsReady     Queue = "promotions.ready"
	QueuePromotionsCompleted Queue = "promotions.completed"
	QueueDLQBuilds           Queue = "dlq.builds"
	QueueDLQPromotions       Queue = "dlq.promotions"
)

// Routing keys.
const (
	RoutingKeyPending       RoutingKey = "pending"
	RoutingKeyReady         RoutingKey = "ready"
	RoutingKeyCompleted     RoutingKey = "completed"
	RoutingKeyDLQBuilds     RoutingKey = "builds"
	RoutingKeyDLQPromotions RoutingKey = "promotions"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		if err := bindQueues(ch); err != nil {
			return err
		}

		return nil
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeBranches, "direct"},
		{ExchangeBuilds, "direct"},
		{ExchangePromotions, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	buildsDLQArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQBuilds),
	}
	promotionsDLQArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQPromotions),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// branches.pending — без DLQ (сборка ветки обрабатывается один раз)
		{QueueBranchesPending, nil},

		// branches.completed — без DLQ (события завершения веток)
		{QueueBranchesCompleted, nil},

		// builds.ready — с DLQ (сборки окружений могут уходить в DLQ)
		{QueueBuildsReady, buildsDLQArgs},

		// builds.completed — без DLQ (события завершения)
		{QueueBuildsCompleted, nil},

		// promotions.ready — с DLQ
		{QueuePromotionsReady, promotionsDLQArgs},

		// promotions.completed — без DLQ
		{QueuePromotionsCompleted, nil},

		// сами DLQ очереди
		{QueueDLQBuilds, nil},
		{QueueDLQPromotions, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueBranchesPending, RoutingKeyPending, ExchangeBranches},
		{QueueBranchesCompleted, RoutingKeyCompleted, ExchangeBranches},
		{QueueBuildsReady, RoutingKeyReady, ExchangeBuilds},
		{QueueBuildsCompleted, RoutingKeyCompleted, ExchangeBuilds},
		{QueuePromotionsReady, RoutingKeyReady, ExchangePromotions},
		{QueuePromotionsCompleted, RoutingKeyCompleted, ExchangePromotions},
		{QueueDLQBuilds, RoutingKeyDLQBuilds, ExchangeDLQ},
		{QueueDLQPromotions, RoutingKeyDLQPromotions, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Conveyor RabbitMQ Topology:

    conveyor.branches (direct)
    ├── branches.pending [routing: pending]
    │       Consumer: Orchestrator
    └── branches.completed [routing: completed]
            Consumer: Promoter

    conveyor.builds (direct)
    ├── builds.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: dlq.builds
    └── builds.completed [routing: completed]
            Consumer: Orchestrator

    conveyor.promotions (direct)
    ├── promotions.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: dlq.promotions
    └── promotions.completed [routing: completed]
            Consumer: Promoter

    conveyor.dlq (direct)
    ├── dlq.builds [routing: builds]
    └── dlq.promotions [routing: promotions]
            Manual processing
  `
}
