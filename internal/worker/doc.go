// Package worker выполняет сборки окружений и promotion-сборки.
//
// # Обзор
//
// Worker — stateless компонент системы Conveyor, который выполняет
// команды, поставленные в очередь оркестратором и promotion-движком.
// Worker отвечает за:
//
//   - Получение сборок из очередей RabbitMQ (event-driven)
//   - Периодическую проверку queued сборок в БД (polling fallback)
//   - Выполнение команды сборки окружения в её рабочем каталоге
//   - Выполнение promotion-сборок через promotion.Runner
//   - Архивацию артефактов успешных сборок окружений
//   - Отправку результата в очереди builds.completed / promotions.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одних очередей. Забор сборки атомарен: переход
// QUEUED -> RUNNING выполняется одним условным UPDATE, проигравший
// воркер пропускает сборку.
//
// # Ключевые компоненты
//
// ## Worker
//
// Основная структура, управляющая жизненным циклом.
// Создаётся через New(cfg Config) и запускается методом Start(ctx).
//
//	w := worker.New(worker.Config{
//	    EnvironmentBuildRepo: envBuildRepo,
//	    PromotionRepo:        promotionRepo,
//	    Publisher:            publisher,
//	    Conn:                 mqConn,
//	    Runner:               promotionRunner,
//	    WorkspaceBase:        "/var/lib/conveyor/workspaces",
//	    Logger:               logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// ## Executor
//
// Интерфейс для выполнения команды сборки:
//
//	type Executor interface {
//	    Execute(ctx context.Context, command, dir string, env []string) (domain.BuildResult, error)
//	}
//
// Стандартная реализация — ShellExecutor (sh -c). Результат
// определяется кодом выхода: 0 — SUCCESS, UnstableExitCode (если
// задан) — UNSTABLE, остальные — FAILURE. Отменённый контекст
// даёт ABORTED.
//
// # Обработка сборки окружения
//
//  1. Получение сборки (из очереди или polling)
//  2. Загрузка из БД, атомарный переход QUEUED -> RUNNING
//  3. Выполнение команды в рабочем каталоге
//     <base>/<job>/<number>/<environment>
//  4. Архивация артефактов (SUCCESS и UNSTABLE)
//  5. Сохранение итога, publish build.completed
//
// Сборке доступны переменные JOB_NAME, JOB_FULL_NAME, BUILD_NUMBER,
// BUILD_ID, ENVIRONMENT и LABEL_<метка>=true для каждой метки
// окружения.
//
// # Обработка promotion-сборки
//
// Promotion-сборки выполняет promotion.Runner: разрешение сборки-цели,
// setup-шаги, команда процесса с переменными PROMOTED_*. Worker
// отвечает только за забор из очереди, статусы и публикацию
// promotion.completed.
//
// # Ошибки
//
// Недоставленные события не теряются: итог каждой сборки сохраняется
// в БД до публикации, оркестратор и promoter подхватывают завершённые
// сборки через polling.
package worker
