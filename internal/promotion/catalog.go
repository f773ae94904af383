package promotion

import (
	"fmt"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Catalog — упорядоченный список promotion-процессов ветки.
//
// Порядок объявления значим: статусные представления и каскад обходят
// процессы в этом порядке. Поиск по имени не чувствителен к регистру.
// Обновление конфигурации подменяет список целиком; читатели всегда
// видят согласованный снимок.
type Catalog struct {
	mu        sync.RWMutex
	processes []domain.PromotionProcess
}

// NewCatalog создаёт каталог с начальным списком процессов.
func NewCatalog(processes []domain.PromotionProcess) *Catalog {
	c := &Catalog{}
	c.Replace(processes)
	return c
}

// Processes возвращает снимок списка процессов в порядке объявления.
func (c *Catalog) Processes() []domain.PromotionProcess {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processes
}

// Lookup ищет процесс по имени без учёта регистра.
func (c *Catalog) Lookup(name string) (domain.PromotionProcess, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.processes {
		if domain.ProcessNameEquals(p.Name, name) {
			return p, nil
		}
	}
	return domain.PromotionProcess{}, fmt.Errorf("%w: %s", ErrProcessNotFound, name)
}

// Has проверяет, объявлен ли процесс.
func (c *Catalog) Has(name string) bool {
	_, err := c.Lookup(name)
	return err == nil
}

// Replace подменяет список процессов новым снимком.
// Читатели, получившие старый снимок, дорабатывают с ним.
func (c *Catalog) Replace(processes []domain.PromotionProcess) {
	snapshot := append([]domain.PromotionProcess(nil), processes...)

	c.mu.Lock()
	c.processes = snapshot
	c.mu.Unlock()
}

// Len возвращает количество процессов.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.processes)
}
