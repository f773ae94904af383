package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultMarkerFile — имя файла описания сборки по умолчанию.
const DefaultMarkerFile = ".conveyor.yml"

// YAMLSource — Source, читающий YAML-описание сборки из файла-маркера
// в корне рабочей копии.
//
// Формат:
//
//	environments:
//	  - linux
//	  - windows, go1.24
//	build: make            # общая команда (необязательно)
//	builds:
//	  linux: make linux    # ключ — метки окружения
//	tasks:
//	  deploy: ./deploy.sh  # ключ — имя promotion-процесса
type YAMLSource struct {
	// MarkerFile — имя файла описания. Пустое — DefaultMarkerFile.
	MarkerFile string
}

// yamlDocument — сырое содержимое файла описания.
type yamlDocument struct {
	Environments []string          `yaml:"environments"`
	Build        string            `yaml:"build"`
	Builds       map[string]string `yaml:"builds"`
	Tasks        map[string]string `yaml:"tasks"`
}

// Resolve читает и парсит файл описания.
func (s *YAMLSource) Resolve(ctx context.Context, dir string) (*ProjectModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	marker := s.MarkerFile
	if marker == "" {
		marker = DefaultMarkerFile
	}

	data, err := os.ReadFile(filepath.Join(dir, marker))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrModelBuild, marker, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelBuild, marker, err)
	}

	return buildModel(&doc)
}

// buildModel собирает ProjectModel из распарсенного документа.
func buildModel(doc *yamlDocument) (*ProjectModel, error) {
	m := &ProjectModel{
		builds:       make(map[string]string, len(doc.Builds)),
		defaultBuild: strings.TrimSpace(doc.Build),
		tasks:        make(map[string]string, len(doc.Tasks)),
	}

	// Окружения: каждая строка — набор меток через запятую.
	// Если окружений не объявлено, матрица состоит из одного
	// default-окружения.
	labelSets := make([][]string, 0, len(doc.Environments))
	for _, line := range doc.Environments {
		labelSets = append(labelSets, strings.Split(line, ","))
	}
	if len(labelSets) == 0 {
		labelSets = append(labelSets, nil)
	}
	m.environments = domain.EnvironmentSetsFromLabelSets(labelSets)

	// Команды сборки: ключ нормализуется в каноническое имя окружения.
	for key, cmd := range doc.Builds {
		env := domain.NewEnvironmentSet(strings.Split(key, ",")...)
		name := env.Name()
		if _, ok := m.builds[name]; ok {
			return nil, fmt.Errorf("%w: duplicate build entry for %q", ErrModelBuild, name)
		}
		m.builds[name] = strings.TrimSpace(cmd)
	}

	// Команды задач: ключ — имя процесса без учёта регистра.
	for name, cmd := range doc.Tasks {
		key := domain.ProcessKey(strings.TrimSpace(name))
		if _, ok := m.tasks[key]; ok {
			return nil, fmt.Errorf("%w: duplicate task entry for %q", ErrModelBuild, name)
		}
		m.tasks[key] = strings.TrimSpace(cmd)
	}

	return m, nil
}

// StaticModel строит модель из готовых данных. Используется
// в тестах и там, где описание приходит не из файла.
func StaticModel(environments []domain.EnvironmentSet, builds map[string]string, tasks map[string]string) *ProjectModel {
	m := &ProjectModel{
		environments: append([]domain.EnvironmentSet(nil), environments...),
		builds:       make(map[string]string, len(builds)),
		tasks:        make(map[string]string, len(tasks)),
	}
	for k, v := range builds {
		m.builds[k] = v
	}
	for k, v := range tasks {
		m.tasks[domain.ProcessKey(k)] = v
	}
	return m
}
