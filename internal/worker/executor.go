package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Максимальный размер хвоста вывода, сохраняемого в текст ошибки.
const outputTailLimit = 4096

// Executor выполняет команду сборки в рабочем каталоге.
type Executor interface {
	Execute(ctx context.Context, command, dir string, env []string) (domain.BuildResult, error)
}

// ShellExecutor выполняет команды через shell.
//
// Результат определяется кодом выхода: 0 — SUCCESS, UnstableExitCode
// (если задан) — UNSTABLE, остальные — FAILURE. Отменённый контекст
// даёт ABORTED.
type ShellExecutor struct {
	// Shell — интерпретатор команд. По умолчанию /bin/sh.
	Shell string

	// UnstableExitCode — код выхода, трактуемый как UNSTABLE.
	// 0 отключает соглашение.
	UnstableExitCode int
}

func (e *ShellExecutor) Execute(ctx context.Context, command, dir string, env []string) (domain.BuildResult, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return domain.ResultSuccess, nil
	}

	if ctx.Err() != nil {
		return domain.ResultAborted, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if e.UnstableExitCode != 0 && code == e.UnstableExitCode {
			return domain.ResultUnstable, nil
		}
		return domain.ResultFailure, fmt.Errorf("exit status %d: %s", code, outputTail(&output))
	}

	// Команду не удалось запустить
	return domain.ResultFailure, fmt.Errorf("run command: %w", err)
}

// outputTail возвращает хвост вывода команды для текста ошибки.
func outputTail(buf *bytes.Buffer) string {
	b := bytes.TrimSpace(buf.Bytes())
	if len(b) > outputTailLimit {
		b = b[len(b)-outputTailLimit:]
	}
	return string(b)
}
