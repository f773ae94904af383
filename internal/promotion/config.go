package promotion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

// catalogDocument — сырое содержимое файла каталога.
type catalogDocument struct {
	Processes []domain.PromotionProcess `yaml:"processes"`
}

// LoadCatalogFile читает каталог процессов из YAML-файла.
//
// Формат:
//
//	processes:
//	  - name: stage
//	    conditions:
//	      - type: self-promotion
//	  - name: production
//	    environment: linux
//	    setup:
//	      - type: restore-artifacts
//	    conditions:
//	      - type: upstream-promotion
//	        params: {process: stage}
//	      - type: manual-approval
//	        params: {users: [releaser]}
func LoadCatalogFile(path string) ([]domain.PromotionProcess, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidSpec, path, err)
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidSpec, path, err)
	}

	if err := ValidateProcesses(doc.Processes); err != nil {
		return nil, err
	}

	// Ограничение окружений приводится к канонической форме, чтобы
	// сравнение конфигураций не зависело от кавычек и пробелов.
	for i := range doc.Processes {
		doc.Processes[i].Environment = domain.NormalizeEnvironmentConstraint(doc.Processes[i].Environment)
	}
	return doc.Processes, nil
}

// ValidateProcesses проверяет список процессов: непустые имена
// и отсутствие дубликатов без учёта регистра.
func ValidateProcesses(processes []domain.PromotionProcess) error {
	seen := make(map[string]struct{}, len(processes))
	for _, p := range processes {
		if p.Name == "" {
			return fmt.Errorf("%w: process without name", ErrInvalidSpec)
		}
		key := domain.ProcessKey(p.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: duplicate process %q", ErrInvalidSpec, p.Name)
		}
		seen[key] = struct{}{}
	}
	return nil
}
