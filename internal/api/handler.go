package api

import (
	"log/slog"

	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/promotion"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	branches  *repo.BranchRepo
	envBuilds *repo.EnvironmentBuildRepo
	registry  *repo.RegistryRepo
	engine    *promotion.Engine
	catalog   *promotion.Catalog
	queue     *queue.Scheduler
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	BranchRepo           *repo.BranchRepo
	EnvironmentBuildRepo *repo.EnvironmentBuildRepo
	RegistryRepo         *repo.RegistryRepo
	Engine               *promotion.Engine
	Catalog              *promotion.Catalog
	Queue                *queue.Scheduler
	Publisher            *mq.Publisher
	Logger               *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		branches:  cfg.BranchRepo,
		envBuilds: cfg.EnvironmentBuildRepo,
		registry:  cfg.RegistryRepo,
		engine:    cfg.Engine,
		catalog:   cfg.Catalog,
		queue:     cfg.Queue,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
	}
}
