// Package registry ведёт реестр известных окружений сборки.
//
// Реестр ведётся отдельно для каждой ветки и выверяется по списку
// окружений каждой её новой сборки: новые окружения добавляются,
// пропавшие помечаются неактивными. Сборка одной ветки записи
// других веток не трогает.
// Записи удаляются только retention-политикой, не выверкой.
package registry
