package promotion

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ProcessStatus — состояние одного процесса для сборки-цели.
type ProcessStatus struct {
	// Process — процесс из каталога.
	Process domain.PromotionProcess

	// State — состояние квалификации.
	State *domain.PromotionState

	// Last — последняя попытка выполнения.
	Last *domain.PromotionBuild

	// LastSuccessful — последняя успешная попытка.
	LastSuccessful *domain.PromotionBuild

	// LastFailed — последняя неуспешная попытка.
	LastFailed *domain.PromotionBuild
}

// StatusView — статус promotion-процессов одной сборки-цели.
//
// Qualified и Pending различают "не предпринималось" (процесс без
// состояния, в Pending) и "предпринималось и упало" (состояние есть,
// успеха нет). Оба списка упорядочены по каталогу.
type StatusView struct {
	// Qualified — процессы с состоянием, в порядке каталога.
	Qualified []ProcessStatus

	// Pending — процессы без состояния, в порядке каталога.
	Pending []domain.PromotionProcess
}

// Status собирает статусное представление сборки-цели.
func (e *Engine) Status(ctx context.Context, job string, number int) (*StatusView, error) {
	states, err := e.store.ListStates(ctx, job, number)
	if err != nil {
		return nil, fmt.Errorf("list promotion states: %w", err)
	}

	builds, err := e.store.ListBuilds(ctx, job, number)
	if err != nil {
		return nil, fmt.Errorf("list promotion builds: %w", err)
	}

	processes := e.catalog.Processes()
	domain.SortStatesByCatalog(states, processes)

	byProcess := make(map[string]*domain.PromotionState, len(states))
	for _, state := range states {
		byProcess[domain.ProcessKey(state.Process)] = state
	}

	view := &StatusView{}
	for _, process := range processes {
		state, qualified := byProcess[domain.ProcessKey(process.Name)]
		if !qualified {
			view.Pending = append(view.Pending, process)
			continue
		}

		status := ProcessStatus{Process: process, State: state}
		lastAttempt := state.LastAttempt()
		for i := range builds {
			build := &builds[i]
			if !domain.ProcessNameEquals(build.Process, process.Name) {
				continue
			}
			if build.Attempt == lastAttempt {
				status.Last = build
			}
			if !build.IsFinished() {
				continue
			}
			if build.Result == domain.ResultSuccess {
				status.LastSuccessful = build
			} else {
				status.LastFailed = build
			}
		}
		view.Qualified = append(view.Qualified, status)
	}

	return view, nil
}
