package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// Workflow DTOs

// CreateWorkflowRequest — запрос на регистрацию workflow.
type CreateWorkflowRequest struct {
	Name string `json:"name"`
}

// WorkflowResponse — ответ с workflow.
type WorkflowResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkflowFromDomain конвертирует domain.WorkflowRecord в WorkflowResponse.
func WorkflowFromDomain(wf domain.WorkflowRecord) WorkflowResponse {
	return WorkflowResponse{
		ID:        wf.ID,
		Name:      wf.Name,
		CreatedAt: wf.CreatedAt,
	}
}

// WorkflowVersion DTOs

// CreateVersionRequest — запрос на создание версии: исходный YAML документа.
type CreateVersionRequest struct {
	Source string `json:"source"`
	Policy string `json:"policy,omitempty"`
}

// VersionResponse — ответ с версией workflow.
type VersionResponse struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Version    int       `json:"version"`
	StepCount  int       `json:"step_count"`
	Order      []string  `json:"order"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// VersionFromDomain конвертирует domain.WorkflowVersion в VersionResponse.
// Исходный текст включается только по запросу (он может быть большим).
func VersionFromDomain(v domain.WorkflowVersion, withSource bool) VersionResponse {
	resp := VersionResponse{
		WorkflowID: v.WorkflowID,
		Version:    v.Version,
		StepCount:  v.StepCount,
		Order:      v.Order,
		CreatedAt:  v.CreatedAt,
	}
	if withSource {
		resp.Source = v.Source
	}
	return resp
}

// GraphResponse — граф зависимостей версии.
type GraphResponse struct {
	Workflow string     `json:"workflow"`
	Order    []string   `json:"order"`
	Levels   [][]string `json:"levels"`
	DOT      string     `json:"dot"`
}

// Validate / Submit DTOs

// ValidateRequest — запрос на проверку документа без сохранения.
type ValidateRequest struct {
	Source string `json:"source"`
	Policy string `json:"policy,omitempty"`
}

// SubmitRequest — запрос на асинхронную проверку через очередь.
type SubmitRequest struct {
	Workflow string `json:"workflow,omitempty"`
	Source   string `json:"source"`
	Policy   string `json:"policy,omitempty"`
}

// SubmitResponse — ответ на отправку документа.
type SubmitResponse struct {
	Workflow string         `json:"workflow,omitempty"`
	Verdict  domain.Verdict `json:"verdict"`
}
