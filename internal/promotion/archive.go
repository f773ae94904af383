package promotion

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// FSArchive хранит артефакты сборок на файловой системе.
//
// Раскладка: <Base>/<job>/<number>/<environment>/<относительный путь>.
// Worker архивирует артефакты после сборки окружения; promotion
// восстанавливает их через Restore.
type FSArchive struct {
	// Base — корневой каталог архива.
	Base string
}

// dir возвращает каталог артефактов одной сборки окружения.
func (a *FSArchive) dir(job string, number int, environment string) string {
	return filepath.Join(a.Base, job, strconv.Itoa(number), environment)
}

// Store копирует файлы из src в архив сборки окружения.
func (a *FSArchive) Store(ctx context.Context, job string, number int, environment, src string, includes []string) error {
	dest := a.dir(job, number, environment)
	return copyTree(ctx, src, dest, includes, nil)
}

// Restore копирует артефакты сборки окружения в каталог dest.
func (a *FSArchive) Restore(ctx context.Context, job string, number int, environment string, includes, excludes []string, dest string) error {
	src := a.dir(job, number, environment)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		// У сборки может не быть артефактов
		return nil
	}
	return copyTree(ctx, src, dest, includes, excludes)
}

// copyTree копирует дерево файлов с фильтрацией по шаблонам.
// Пустой includes означает все файлы.
func copyTree(ctx context.Context, src, dest string, includes, excludes []string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if !matchAny(includes, rel, true) || matchAny(excludes, rel, false) {
			return nil
		}

		target := filepath.Join(dest, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
		}
		return copyFile(path, target)
	})
}

// matchAny проверяет путь по списку glob-шаблонов.
// empty задаёт результат для пустого списка.
func matchAny(patterns []string, rel string, empty bool) bool {
	if len(patterns) == 0 {
		return empty
	}
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		// Шаблон без разделителя сверяется и с именем файла
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
