package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики системы Conveyor.
// Регистрируются в default registry, экспортируются через promhttp в main.
var (
	// BranchBuildsStarted — количество запущенных branch builds.
	BranchBuildsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_branch_builds_started_total",
		Help: "Number of branch builds accepted by the orchestrator.",
	})

	// BranchBuildsCompleted — завершённые branch builds по итоговому результату.
	BranchBuildsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_branch_builds_completed_total",
		Help: "Number of branch builds completed, by aggregate result.",
	}, []string{"result"})

	// EnvironmentBuildsScheduled — дочерние environment builds, поставленные в очередь.
	EnvironmentBuildsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_environment_builds_scheduled_total",
		Help: "Number of environment builds scheduled during fan-out.",
	})

	// EnvironmentBuildsCompleted — завершённые environment builds по результату.
	EnvironmentBuildsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_environment_builds_completed_total",
		Help: "Number of environment builds completed, by result.",
	}, []string{"result"})

	// PromotionsConsidered — вызовы Consider для (build, process).
	PromotionsConsidered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_promotions_considered_total",
		Help: "Number of promotion consideration passes.",
	})

	// PromotionsQualified — квалификации, при которых все условия вернули badge.
	PromotionsQualified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_promotions_qualified_total",
		Help: "Number of promotions whose conditions were all met.",
	})

	// PromotionBuildsCompleted — завершённые promotion builds по результату.
	PromotionBuildsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_promotion_builds_completed_total",
		Help: "Number of promotion builds completed, by result.",
	}, []string{"result"})

	// BuildDuration — длительность выполнения environment builds.
	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_environment_build_duration_seconds",
		Help:    "Environment build execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"environment"})
)
