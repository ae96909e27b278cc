package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/mq"
	"github.com/shaiso/Stepgraph/internal/telemetry"
	"github.com/shaiso/Stepgraph/internal/validator"
)

// ListWorkflows возвращает список всех workflows.
// GET /api/v1/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.store.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		result[i] = WorkflowFromDomain(wf)
	}

	List(w, result, len(result))
}

// CreateWorkflow регистрирует новый workflow.
// POST /api/v1/workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}

	wf := &domain.WorkflowRecord{
		ID:        uuid.New(),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.Create(r.Context(), wf); err != nil {
		HandleRepoError(w, h.logger, err, "")
		return
	}

	Created(w, WorkflowFromDomain(*wf))
}

// GetWorkflow возвращает workflow по ID.
// GET /api/v1/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	wf, err := h.store.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	Success(w, WorkflowFromDomain(*wf))
}

// DeleteWorkflow удаляет workflow вместе с версиями.
// DELETE /api/v1/workflows/{id}
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		HandleRepoError(w, h.logger, err, "workflow not found")
		return
	}

	NoContent(w)
}

// ListVersions возвращает все версии workflow.
// GET /api/v1/workflows/{id}/versions
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	if _, err := h.store.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	versions, err := h.store.ListVersions(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]VersionResponse, len(versions))
	for i, v := range versions {
		result[i] = VersionFromDomain(v, false)
	}

	List(w, result, len(result))
}

// CreateVersion проверяет документ и сохраняет его как новую версию.
// POST /api/v1/workflows/{id}/versions
//
// Невалидный документ не сохраняется: 400 с позицией ошибки разбора
// или 422 со списком нарушений.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return
	}

	var req CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Source == "" {
		BadRequest(w, "source is required")
		return
	}

	opts, err := h.options(req.Policy)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	wf, err := h.store.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "workflow not found") {
		return
	}

	report := validator.Check([]byte(req.Source), opts, "api")
	if HandleLoadError(w, h.logger, report.Err) {
		return
	}

	version := &domain.WorkflowVersion{
		WorkflowID: wf.ID,
		Source:     req.Source,
		StepCount:  report.StepCount,
		Order:      report.Order,
	}
	if err := h.store.CreateVersion(r.Context(), version); err != nil {
		HandleRepoError(w, h.logger, err, "workflow not found")
		return
	}

	if h.publisher != nil {
		payload := mq.ValidatedPayload{
			WorkflowID: wf.ID,
			Workflow:   wf.Name,
			Version:    version.Version,
			StepCount:  report.StepCount,
			Order:      report.Order,
			Levels:     report.Levels,
		}
		// Версия уже сохранена: ошибка публикации не отменяет ответ
		if err := h.publisher.PublishValidated(r.Context(), payload); err != nil {
			logger := telemetry.WithWorkflowID(telemetry.FromContext(r.Context()), wf.ID.String())
			logger.Error("failed to publish workflow.validated", "version", version.Version, "error", err)
		}
	}

	Created(w, VersionFromDomain(*version, false))
}

// GetVersion возвращает конкретную версию workflow вместе с исходным текстом.
// GET /api/v1/workflows/{id}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, ok := h.lookupVersion(w, r)
	if !ok {
		return
	}

	Success(w, VersionFromDomain(*version, true))
}

// GetVersionGraph возвращает граф зависимостей версии (порядок, уровни, DOT).
// GET /api/v1/workflows/{id}/versions/{version}/graph?policy=implicit
func (h *Handler) GetVersionGraph(w http.ResponseWriter, r *http.Request) {
	opts, err := h.options(r.URL.Query().Get("policy"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	version, ok := h.lookupVersion(w, r)
	if !ok {
		return
	}

	wf, dag, err := engine.Load([]byte(version.Source), opts)
	if HandleLoadError(w, h.logger, err) {
		return
	}

	Success(w, GraphResponse{
		Workflow: wf.Name,
		Order:    dag.OrderNames(),
		Levels:   dag.LevelNames(),
		DOT:      dag.DOT(wf.Name),
	})
}

// lookupVersion разбирает {id}/{version} и загружает версию.
// При ошибке ответ уже отправлен.
func (h *Handler) lookupVersion(w http.ResponseWriter, r *http.Request) (*domain.WorkflowVersion, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid workflow id")
		return nil, false
	}

	num, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || num < 1 {
		BadRequest(w, "invalid version number")
		return nil, false
	}

	version, err := h.store.GetVersion(r.Context(), id, num)
	if HandleRepoError(w, h.logger, err, "version not found") {
		return nil, false
	}

	return version, true
}
