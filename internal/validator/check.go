package validator

import (
	"errors"
	"time"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/telemetry"
)

// Report — результат загрузки документа.
type Report struct {
	Valid      bool               `json:"valid"`
	Verdict    domain.Verdict     `json:"verdict"`
	Workflow   string             `json:"workflow,omitempty"`
	StepCount  int                `json:"step_count"`
	Order      []string           `json:"order,omitempty"`
	Levels     [][]string         `json:"levels,omitempty"`
	Violations []engine.Violation `json:"violations,omitempty"`
	ParseError *engine.ParseError `json:"parse_error,omitempty"`

	// Err — исходная ошибка (*engine.ParseError или *engine.ValidationError).
	Err error `json:"-"`

	// Parsed и DAG заполнены, если документ удалось разобрать / построить граф.
	Parsed *domain.Workflow `json:"-"`
	DAG    *engine.DAG      `json:"-"`
}

// Check разбирает и валидирует документ, учитывая метрики.
// source — метка вызывающего ("api", "validator", "audit", "cli").
func Check(src []byte, opts engine.Options, source string) *Report {
	start := time.Now()
	wf, dag, err := engine.Load(src, opts)

	report := &Report{Verdict: domain.VerdictRejected, Err: err, Parsed: wf, DAG: dag}
	if wf != nil {
		report.Workflow = wf.Name
		report.StepCount = len(wf.Steps)
	}

	var (
		perr *engine.ParseError
		verr *engine.ValidationError
	)
	switch {
	case err == nil:
		report.Valid = true
		report.Verdict = domain.VerdictValid
		report.Order = dag.OrderNames()
		report.Levels = dag.LevelNames()
		telemetry.ObserveDocument(source, telemetry.ResultValid, time.Since(start))

	case errors.As(err, &perr):
		report.ParseError = perr
		telemetry.ObserveDocument(source, telemetry.ResultParseError, time.Since(start))

	case errors.As(err, &verr):
		report.Violations = verr.Violations
		for _, v := range verr.Violations {
			telemetry.ObserveViolation(string(v.Kind))
		}
		telemetry.ObserveDocument(source, telemetry.ResultInvalid, time.Since(start))

	default:
		telemetry.ObserveDocument(source, telemetry.ResultInvalid, time.Since(start))
	}

	return report
}
