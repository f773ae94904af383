// Package model разрешает текстовое описание сборки проекта
// в структурированную модель: окружения build-матрицы, команды
// сборки по окружениям и команды задач promotion-процессов.
//
// Оркестратор и promotion-движок работают только с интерфейсом
// Source и типом ProjectModel; конкретная грамматика описания —
// деталь реализации источника.
package model
