package model

import (
	"context"
	"path/filepath"
)

// Workspace разрешает описание проекта по имени job'а.
// Каждый job имеет рабочий каталог <Base>/<job> с checkout'ом ветки.
type Workspace struct {
	// Base — корневой каталог рабочих копий.
	Base string

	// Source — источник описания проекта.
	Source Source
}

// ResolveJob читает описание проекта из рабочего каталога job'а.
func (w *Workspace) ResolveJob(ctx context.Context, job string) (*ProjectModel, error) {
	return w.Source.Resolve(ctx, filepath.Join(w.Base, job))
}
