// Package promotion реализует движок promotion-процессов.
//
// # Обзор
//
// Promotion — условный пост-сборочный процесс над завершённой сборкой
// ветки (деплой, публикация, тегирование). Процессы объявляются в
// каталоге ветки; каждый несёт набор условий и setup-шагов.
//
// # Ключевые компоненты
//
// ## Catalog
//
// Упорядоченный список процессов ветки с поиском по имени без учёта
// регистра. Обновление конфигурации подменяет снимок целиком.
//
// ## Engine
//
// Все входы квалификации сходятся в одну идемпотентную воронку
// Consider: завершение сборки-цели, ручное одобрение, каскад после
// успешного promotion. Состояние процесса создаётся только при первой
// квалификации; отсутствие состояния означает "не предпринималось",
// что отличается от "предпринималось и упало".
//
// Условия вычисляются в порядке объявления без short-circuit: каждое
// возвращает badge либо воздерживается, процесс квалифицируется только
// при полном наборе badges. Попытка записывается в состояние до
// выполнения тела; первая успешная попытка фиксируется не более
// одного раза.
//
// ## Условия
//
//   - self-promotion      — цель завершилась SUCCESS (или UNSTABLE
//     при even_if_unstable)
//   - manual-approval     — есть запись ручного одобрения допущенным
//     пользователем (пустой список users допускает всех)
//   - upstream-promotion  — другой процесс этой же цели уже promoted
//
// ## Setup-шаги
//
//   - restore-artifacts   — копирует артефакты дочерних сборок цели
//     в рабочий каталог promotion (фильтр по пересечению меток окружений)
//
// ## Runner
//
// Выполняет одну promotion-сборку: разрешает цель по (job, номер),
// прогоняет setup-шаги, запускает команду процесса из описания проекта
// с переменными PROMOTED_*.
package promotion
