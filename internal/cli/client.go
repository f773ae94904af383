package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// BuildResponse — сборка ветки из API.
type BuildResponse struct {
	ID           string   `json:"id"`
	Job          string   `json:"job"`
	Number       int      `json:"number"`
	Status       string   `json:"status"`
	Result       string   `json:"result,omitempty"`
	Environments []string `json:"environments,omitempty"`
	Error        string   `json:"error,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	FinishedAt   string   `json:"finished_at,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// EnvironmentBuildResponse — сборка окружения из API.
type EnvironmentBuildResponse struct {
	ID          string `json:"id"`
	Environment string `json:"environment"`
	Command     string `json:"command"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	FinishedAt  string `json:"finished_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// BadgeResponse — свидетельство выполненного условия.
type BadgeResponse struct {
	Condition  string            `json:"condition"`
	User       string            `json:"user,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// PromotionStateResponse — состояние квалификации процесса.
type PromotionStateResponse struct {
	QualifiedAt       string          `json:"qualified_at"`
	Badges            []BadgeResponse `json:"badges,omitempty"`
	Attempts          []int           `json:"attempts,omitempty"`
	SuccessfulAttempt int             `json:"successful_attempt,omitempty"`
	Promoted          bool            `json:"promoted"`
}

// PromotionBuildResponse — одна попытка выполнения процесса.
type PromotionBuildResponse struct {
	ID         string `json:"id"`
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ProcessStatusResponse — статус одного процесса.
type ProcessStatusResponse struct {
	Process        string                  `json:"process"`
	DisplayName    string                  `json:"display_name,omitempty"`
	State          *PromotionStateResponse `json:"state,omitempty"`
	Last           *PromotionBuildResponse `json:"last,omitempty"`
	LastSuccessful *PromotionBuildResponse `json:"last_successful,omitempty"`
	LastFailed     *PromotionBuildResponse `json:"last_failed,omitempty"`
}

// PromotionStatusResponse — статус promotion-процессов сборки.
type PromotionStatusResponse struct {
	Qualified []ProcessStatusResponse `json:"qualified"`
	Pending   []ProcessResponse       `json:"pending"`
}

// ProcessResponse — процесс из каталога.
type ProcessResponse struct {
	Process     string   `json:"process"`
	DisplayName string   `json:"display_name,omitempty"`
	Environment []string `json:"environment,omitempty"`
	Conditions  []string `json:"conditions,omitempty"`
}

// EnvironmentEntryResponse — запись реестра окружений.
type EnvironmentEntryResponse struct {
	Job         string `json:"job"`
	Environment string `json:"environment"`
	Active      bool   `json:"active"`
	SeenAt      string `json:"seen_at"`
}

// --- Request types ---

// TriggerBuildRequest — запуск сборки ветки.
type TriggerBuildRequest struct {
	Job     string            `json:"job"`
	SCMVars map[string]string `json:"scm_vars,omitempty"`
}

// ApprovePromotionRequest — ручное одобрение процесса.
type ApprovePromotionRequest struct {
	User       string            `json:"user"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ForcePromotionRequest — принудительный запуск процесса.
type ForcePromotionRequest struct {
	User string `json:"user"`
}

// ListBuildsOpts — параметры фильтрации сборок.
type ListBuildsOpts struct {
	Job    string
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Builds ---

// ListBuilds возвращает список сборок веток с фильтрацией.
func (c *Client) ListBuilds(opts ListBuildsOpts) ([]BuildResponse, error) {
	params := url.Values{}
	if opts.Job != "" {
		params.Set("job", opts.Job)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var builds []BuildResponse
	err := c.list("/api/v1/builds", params, &builds)
	return builds, err
}

// TriggerBuild ставит новую сборку ветки в очередь.
func (c *Client) TriggerBuild(req TriggerBuildRequest) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds", req, &build)
	return &build, err
}

// GetBuild возвращает сборку ветки по ID.
func (c *Client) GetBuild(id string) (*BuildResponse, error) {
	var build BuildResponse
	err := c.get("/api/v1/builds/"+id, &build)
	return &build, err
}

// CancelBuild отменяет сборку ветки.
func (c *Client) CancelBuild(id string) (*BuildResponse, error) {
	var build BuildResponse
	err := c.post("/api/v1/builds/"+id+"/cancel", nil, &build)
	return &build, err
}

// ListEnvironmentBuilds возвращает дочерние сборки окружений.
func (c *Client) ListEnvironmentBuilds(buildID string) ([]EnvironmentBuildResponse, error) {
	var builds []EnvironmentBuildResponse
	err := c.list("/api/v1/builds/"+buildID+"/environments", nil, &builds)
	return builds, err
}

// --- Promotions ---

// PromotionStatus возвращает статус promotion-процессов сборки.
func (c *Client) PromotionStatus(buildID string) (*PromotionStatusResponse, error) {
	var status PromotionStatusResponse
	err := c.get("/api/v1/builds/"+buildID+"/promotions", &status)
	return &status, err
}

// ApprovePromotion записывает ручное одобрение процесса.
func (c *Client) ApprovePromotion(buildID, process string, req ApprovePromotionRequest) (*PromotionStatusResponse, error) {
	var status PromotionStatusResponse
	err := c.post("/api/v1/builds/"+buildID+"/promotions/"+url.PathEscape(process)+"/approve", req, &status)
	return &status, err
}

// ForcePromotion запускает процесс в обход условий.
func (c *Client) ForcePromotion(buildID, process string, req ForcePromotionRequest) (*PromotionStatusResponse, error) {
	var status PromotionStatusResponse
	err := c.post("/api/v1/builds/"+buildID+"/promotions/"+url.PathEscape(process)+"/force", req, &status)
	return &status, err
}

// --- Environments and processes ---

// ListEnvironments возвращает реестр окружений, опционально по одной ветке.
func (c *Client) ListEnvironments(job string) ([]EnvironmentEntryResponse, error) {
	params := url.Values{}
	if job != "" {
		params.Set("job", job)
	}

	var entries []EnvironmentEntryResponse
	err := c.list("/api/v1/environments", params, &entries)
	return entries, err
}

// ListProcesses возвращает каталог promotion-процессов.
func (c *Client) ListProcesses() ([]ProcessResponse, error) {
	var processes []ProcessResponse
	err := c.list("/api/v1/processes", nil, &processes)
	return processes, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
