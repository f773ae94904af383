// Package scheduler реализует retention-политику хранилища.
//
// Sweeper периодически удаляет завершённые сборки веток за пределами
// окна хранения (по KeepBuilds последних номеров на job; связанные
// сборки окружений и promotion-записи удаляет каскад БД) и неактивные
// записи реестра окружений, не встречавшиеся дольше RegistryTTL.
//
// Структура:
//   - scheduler.go — основная логика Sweeper (Tick, sweepBuilds)
//   - cron.go      — парсинг cron-выражения расписания sweep'а
//
// Использование:
//
//	sweeper := scheduler.New(scheduler.Config{
//	    BranchRepo:   branchRepo,
//	    RegistryRepo: registryRepo,
//	    KeepBuilds:   50,
//	    RegistryTTL:  30 * 24 * time.Hour,
//	    Logger:       logger,
//	})
//
//	// Вызывается по cron-расписанию
//	if err := sweeper.Tick(ctx); err != nil {
//	    logger.Error("sweep failed", "error", err)
//	}
//
// Leader Election:
//
// Sweeper не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
