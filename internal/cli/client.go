package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// WorkflowResponse — workflow из API.
type WorkflowResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// VersionResponse — версия workflow из API.
type VersionResponse struct {
	WorkflowID string   `json:"workflow_id"`
	Version    int      `json:"version"`
	StepCount  int      `json:"step_count"`
	Order      []string `json:"order"`
	Source     string   `json:"source,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// SubmitResponse — ответ на отправку документа в очередь.
type SubmitResponse struct {
	Workflow string `json:"workflow,omitempty"`
	Verdict  string `json:"verdict"`
}

// ViolationResponse — нарушение валидации из ответа 422.
type ViolationResponse struct {
	Kind    string `json:"kind"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// LocationResponse — позиция ошибки разбора из ответа 400.
type LocationResponse struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
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
		Code       string              `json:"code"`
		Message    string              `json:"message"`
		Location   *LocationResponse   `json:"location,omitempty"`
		Violations []ViolationResponse `json:"violations,omitempty"`
	} `json:"error"`
}

// APIError — ошибка, полученная от API.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Location   *LocationResponse
	Violations []ViolationResponse
}

// Error реализует интерфейс error.
func (e *APIError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d violations", e.Code, len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  - ")
		if v.Line > 0 {
			fmt.Fprintf(&b, "line %d: ", v.Line)
		}
		if v.Step != "" {
			b.WriteString("step " + v.Step + ": ")
		}
		b.WriteString(v.Message)
	}
	return b.String()
}

// --- Client ---

// Client — HTTP-клиент для Stepgraph API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Workflows ---

// ListWorkflows возвращает все workflows.
func (c *Client) ListWorkflows() ([]WorkflowResponse, error) {
	var workflows []WorkflowResponse
	err := c.list("/api/v1/workflows", &workflows)
	return workflows, err
}

// CreateWorkflow регистрирует новый workflow.
func (c *Client) CreateWorkflow(name string) (*WorkflowResponse, error) {
	body := map[string]string{"name": name}
	var wf WorkflowResponse
	err := c.post("/api/v1/workflows", body, &wf)
	return &wf, err
}

// GetWorkflow возвращает workflow по ID.
func (c *Client) GetWorkflow(id string) (*WorkflowResponse, error) {
	var wf WorkflowResponse
	err := c.get("/api/v1/workflows/"+id, &wf)
	return &wf, err
}

// DeleteWorkflow удаляет workflow.
func (c *Client) DeleteWorkflow(id string) error {
	return c.delete("/api/v1/workflows/" + id)
}

// ListVersions возвращает версии workflow.
func (c *Client) ListVersions(workflowID string) ([]VersionResponse, error) {
	var versions []VersionResponse
	err := c.list("/api/v1/workflows/"+workflowID+"/versions", &versions)
	return versions, err
}

// CreateVersion отправляет документ как новую версию workflow.
// Невалидный документ возвращается как *APIError с нарушениями.
func (c *Client) CreateVersion(workflowID, source, policy string) (*VersionResponse, error) {
	body := map[string]string{"source": source}
	if policy != "" {
		body["policy"] = policy
	}
	var version VersionResponse
	err := c.post("/api/v1/workflows/"+workflowID+"/versions", body, &version)
	return &version, err
}

// GetVersion возвращает версию workflow вместе с исходным текстом.
func (c *Client) GetVersion(workflowID string, version int) (*VersionResponse, error) {
	var v VersionResponse
	err := c.get(fmt.Sprintf("/api/v1/workflows/%s/versions/%d", workflowID, version), &v)
	return &v, err
}

// Submit отправляет документ на асинхронную проверку.
func (c *Client) Submit(workflow, source, policy string) (*SubmitResponse, error) {
	body := map[string]string{"source": source}
	if workflow != "" {
		body["workflow"] = workflow
	}
	if policy != "" {
		body["policy"] = policy
	}
	var resp SubmitResponse
	err := c.post("/api/v1/submit", body, &resp)
	return &resp, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, result any) error {
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

	return &APIError{
		Status:     resp.StatusCode,
		Code:       er.Error.Code,
		Message:    er.Error.Message,
		Location:   er.Error.Location,
		Violations: er.Error.Violations,
	}
}
