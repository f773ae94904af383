package api

import (
	"net/http"

	"github.com/shaiso/Conveyor/internal/repo"
)

// ListEnvironments возвращает реестр окружений.
// GET /api/v1/environments?job=<job>
func (h *Handler) ListEnvironments(w http.ResponseWriter, r *http.Request) {
	var (
		entries []repo.RegistryEntry
		err     error
	)
	if job := r.URL.Query().Get("job"); job != "" {
		entries, err = h.registry.ListByJob(r.Context(), job)
	} else {
		entries, err = h.registry.List(r.Context())
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]EnvironmentEntryResponse, len(entries))
	for i, entry := range entries {
		result[i] = EnvironmentEntryFromRepo(entry)
	}

	List(w, result, len(result))
}

// ListProcesses возвращает каталог promotion-процессов.
// GET /api/v1/processes
func (h *Handler) ListProcesses(w http.ResponseWriter, _ *http.Request) {
	processes := h.catalog.Processes()

	result := make([]ProcessResponse, len(processes))
	for i, process := range processes {
		result[i] = ProcessFromDomain(process)
	}

	List(w, result, len(result))
}
