package api

import (
	"encoding/json"
	"net/http"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/mq"
	"github.com/shaiso/Stepgraph/internal/validator"
)

// Validate проверяет документ без сохранения.
// POST /api/v1/validate
//
// 200 — документ валиден, 422 — есть нарушения, 400 — документ не разобран.
// Во всех трёх случаях тело — validator.Report.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
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

	report := validator.Check([]byte(req.Source), opts, "api")

	status := http.StatusOK
	switch {
	case report.ParseError != nil:
		status = http.StatusBadRequest
	case !report.Valid:
		status = http.StatusUnprocessableEntity
	}

	JSON(w, status, DataResponse{Data: report})
}

// Submit отправляет документ в очередь на асинхронную проверку.
// POST /api/v1/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		Unavailable(w, "message broker is not configured")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Source == "" {
		BadRequest(w, "source is required")
		return
	}

	// Политику проверяем сразу, чтобы не отправлять заведомо отклонённый документ
	if _, err := h.options(req.Policy); err != nil {
		BadRequest(w, err.Error())
		return
	}

	payload := mq.SubmittedPayload{
		Workflow: req.Workflow,
		Source:   req.Source,
		Policy:   req.Policy,
	}
	if err := h.publisher.PublishSubmitted(r.Context(), payload); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, SubmitResponse{Workflow: req.Workflow, Verdict: domain.VerdictSubmitted})
}
