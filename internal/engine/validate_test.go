package engine

import (
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/shaiso/Stepgraph/internal/domain"
)

const paramsDoc = `
apiVersion: io.orquestra.workflow/1.0.0
name: params
steps:
  - name: get-initial-parameters
    config:
      runtime:
        language: python3
        parameters:
          file: steps/circuit.py
          function: generate_random_ansatz_params
    inputs:
      - seed: 9
        type: int
    outputs:
      - name: params
        type: ansatz-params
  - name: test-with-params
    passed: [get-initial-parameters]
    config:
      runtime:
        language: python3
        parameters:
          file: steps/circuit.py
          function: build_ansatz_circuit
    inputs:
      - params: ((get-initial-parameters.params))
        type: ansatz-params
    outputs:
      - name: circuit
        type: circuit
types:
  - ansatz-params
  - circuit
`

// mustParse разбирает документ или прерывает тест.
func mustParse(t *testing.T, src string) *domain.Workflow {
	t.Helper()
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return wf
}

// mustViolate проверяет, что валидация вернула *ValidationError.
func mustViolate(t *testing.T, wf *domain.Workflow, opts Options) *ValidationError {
	t.Helper()
	err := Validate(wf, opts)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	return verr
}

func TestValidate_ValidDocuments(t *testing.T) {
	for _, file := range []string{"testdata/ansatz.yaml", "testdata/circuits.yaml"} {
		t.Run(file, func(t *testing.T) {
			src, err := os.ReadFile(file)
			if err != nil {
				t.Fatalf("read: %v", err)
			}

			wf, dag, err := Load(src, DefaultOptions())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Количество шагов совпадает с количеством элементов steps в исходнике
			want := strings.Count(string(src), "\n  - name: ") - len(wf.Imports) - len(wf.Outputs)
			if len(wf.Steps) != want {
				t.Errorf("expected %d steps, got %d", want, len(wf.Steps))
			}
			if dag.Size() != len(wf.Steps) {
				t.Errorf("DAG size %d != step count %d", dag.Size(), len(wf.Steps))
			}
		})
	}
}

func TestValidate_ParamsScenario(t *testing.T) {
	wf, dag, err := Load([]byte(paramsDoc), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(wf.Steps) != 2 {
		t.Errorf("expected 2 steps, got %d", len(wf.Steps))
	}

	want := []string{"get-initial-parameters", "test-with-params"}
	if got := dag.OrderNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected order %v, got %v", want, got)
	}
}

func TestValidate_ReferenceWithoutPassed(t *testing.T) {
	src := strings.Replace(paramsDoc, "    passed: [get-initial-parameters]\n", "", 1)
	wf := mustParse(t, src)

	t.Run("strict", func(t *testing.T) {
		verr := mustViolate(t, wf, Options{Policy: PolicyStrict})

		if !errors.Is(verr, ErrUnresolvedReference) {
			t.Errorf("expected ErrUnresolvedReference, got %v", verr)
		}
		violations := verr.ByKind(KindUnresolvedReference)
		if len(violations) != 1 || violations[0].Step != "test-with-params" {
			t.Errorf("unexpected violations %v", verr.Violations)
		}
	})

	t.Run("implicit", func(t *testing.T) {
		if err := Validate(wf, Options{Policy: PolicyImplicit}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		dag, err := BuildDAG(wf, Options{Policy: PolicyImplicit})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"get-initial-parameters", "test-with-params"}
		if got := dag.OrderNames(); !reflect.DeepEqual(got, want) {
			t.Errorf("expected order %v, got %v", want, got)
		}
	})
}

func TestValidate_TransitiveUpstream(t *testing.T) {
	// C ссылается на A через цепочку C → B → A
	wf := testWorkflow(
		testStep("A"),
		testStep("B", "A"),
		withInput(testStep("C", "B"), "in", domain.TypeString, domain.Reference{Step: "A", Output: "out"}),
	)

	if err := Validate(wf, DefaultOptions()); err != nil {
		t.Errorf("transitive upstream reference should be valid: %v", err)
	}
}

func TestValidate_DuplicateStep(t *testing.T) {
	wf := testWorkflow(
		testStep("A"),
		testStep("B"),
		testStep("A"),
	)
	wf.Steps[0].Line = 3
	wf.Steps[2].Line = 17

	verr := mustViolate(t, wf, DefaultOptions())

	dups := verr.ByKind(KindDuplicateStep)
	if len(dups) != 1 {
		t.Fatalf("expected 1 duplicate violation, got %v", verr.Violations)
	}

	want := []Occurrence{{Index: 0, Line: 3}, {Index: 2, Line: 17}}
	if !reflect.DeepEqual(dups[0].Occurrences, want) {
		t.Errorf("expected occurrences %v, got %v", want, dups[0].Occurrences)
	}
	for _, s := range []string{"steps[0] (line 3)", "steps[2] (line 17)"} {
		if !strings.Contains(dups[0].Message, s) {
			t.Errorf("message should name %s: %s", s, dups[0].Message)
		}
	}
	if !errors.Is(verr, ErrDuplicateStep) {
		t.Error("expected ErrDuplicateStep")
	}
}

func TestValidate_UnresolvedReference(t *testing.T) {
	tests := []struct {
		name string
		ref  domain.Reference
		msg  string
	}{
		{"unknown step", domain.Reference{Step: "ghost", Output: "out"}, `unknown step "ghost"`},
		{"unknown output", domain.Reference{Step: "A", Output: "nope"}, `has no output "nope"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testWorkflow(
				testStep("A"),
				withInput(testStep("B", "A"), "in", domain.TypeString, tt.ref),
			)

			verr := mustViolate(t, wf, DefaultOptions())

			violations := verr.ByKind(KindUnresolvedReference)
			if len(violations) != 1 {
				t.Fatalf("expected 1 unresolved reference, got %v", verr.Violations)
			}
			if !strings.Contains(violations[0].Message, tt.msg) {
				t.Errorf("expected message containing %q, got %q", tt.msg, violations[0].Message)
			}
		})
	}
}

func TestValidate_Cycle(t *testing.T) {
	wf := testWorkflow(
		testStep("A", "B"),
		testStep("B", "A"),
	)

	verr := mustViolate(t, wf, DefaultOptions())

	if !errors.Is(verr, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", verr)
	}
	cycles := verr.ByKind(KindCycle)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %v", verr.Violations)
	}
	if !reflect.DeepEqual(cycles[0].Cycle, []string{"A", "B"}) {
		t.Errorf("unexpected cycle %v", cycles[0].Cycle)
	}
}

func TestValidate_ImplicitCycle(t *testing.T) {
	// Ссылки образуют цикл, который виден только при неявных рёбрах
	wf := testWorkflow(
		withInput(testStep("A"), "in", domain.TypeString, domain.Reference{Step: "B", Output: "out"}),
		withInput(testStep("B"), "in", domain.TypeString, domain.Reference{Step: "A", Output: "out"}),
	)

	verr := mustViolate(t, wf, Options{Policy: PolicyImplicit})
	if !verr.Has(KindCycle) {
		t.Errorf("expected cycle under implicit policy, got %v", verr.Violations)
	}
}

func TestValidate_Types(t *testing.T) {
	tests := []struct {
		name  string
		step  domain.Step
		types []string
		kind  ViolationKind
	}{
		{
			name: "undeclared output type",
			step: func() domain.Step {
				s := testStep("A")
				s.Outputs[0].Type = "circuit"
				return s
			}(),
			kind: KindUndeclaredType,
		},
		{
			name: "missing input type",
			step: withInput(testStep("A"), "x", "", domain.Literal{Kind: domain.LiteralInt, Raw: "1"}),
			kind: KindUndeclaredType,
		},
		{
			name: "string literal for int",
			step: withInput(testStep("A"), "x", domain.TypeInt, domain.Literal{Kind: domain.LiteralString, Raw: "abc"}),
			kind: KindTypeMismatch,
		},
		{
			name: "float literal for int",
			step: withInput(testStep("A"), "x", domain.TypeInt, domain.Literal{Kind: domain.LiteralFloat, Raw: "1.5"}),
			kind: KindTypeMismatch,
		},
		{
			name: "int literal for bool",
			step: withInput(testStep("A"), "x", domain.TypeBool, domain.Literal{Kind: domain.LiteralInt, Raw: "1"}),
			kind: KindTypeMismatch,
		},
		{
			name:  "duplicate declared type",
			step:  testStep("A"),
			types: []string{"circuit", "circuit"},
			kind:  KindDuplicateType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testWorkflow(tt.step)
			wf.Types = tt.types

			verr := mustViolate(t, wf, DefaultOptions())
			if !verr.Has(tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, verr.Violations)
			}
		})
	}
}

func TestValidate_TypesAccepted(t *testing.T) {
	wf := testWorkflow(
		withInput(
			withInput(
				withInput(testStep("A"), "f", domain.TypeFloat, domain.Literal{Kind: domain.LiteralInt, Raw: "3"}),
				"s", domain.TypeString, domain.Literal{Kind: domain.LiteralInt, Raw: "3"}),
			"n", domain.TypeInt, domain.Absent{}),
	)

	if err := Validate(wf, DefaultOptions()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_ReferenceTypeMismatch(t *testing.T) {
	wf := testWorkflow(
		testStep("A"),
		withInput(testStep("B", "A"), "in", domain.TypeInt, domain.Reference{Step: "A", Output: "out"}),
	)

	verr := mustViolate(t, wf, DefaultOptions())
	if !verr.Has(KindTypeMismatch) {
		t.Errorf("expected type mismatch, got %v", verr.Violations)
	}
}

func TestValidate_RuntimeAndResources(t *testing.T) {
	s := testStep("A")
	s.Runtime.Function = ""
	s.Runtime.Imports = []string{"z-quantum-core"}
	s.Resources = domain.Resources{CPU: "1000m", Memory: "lots", Disk: "10Gi"}

	verr := mustViolate(t, testWorkflow(s), DefaultOptions())

	for _, kind := range []ViolationKind{KindMissingFunction, KindUnknownImport, KindInvalidResource} {
		if !verr.Has(kind) {
			t.Errorf("expected %s, got %v", kind, verr.Violations)
		}
	}
	if got := verr.ByKind(KindInvalidResource); len(got) != 1 || got[0].Field != "config.resources.memory" {
		t.Errorf("expected single memory violation, got %v", got)
	}
}

func TestValidate_Header(t *testing.T) {
	tests := []struct {
		name string
		wf   *domain.Workflow
		kind ViolationKind
	}{
		{"no steps", testWorkflow(), KindNoSteps},
		{"missing api version", &domain.Workflow{Steps: []domain.Step{testStep("A")}}, KindUnsupportedAPIVersion},
		{"unsupported api version", &domain.Workflow{APIVersion: "io.orquestra.workflow/2.0.0", Steps: []domain.Step{testStep("A")}}, KindUnsupportedAPIVersion},
		{"nil workflow", nil, KindNoSteps},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := mustViolate(t, tt.wf, DefaultOptions())
			if !verr.Has(tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, verr.Violations)
			}
		})
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	wf := testWorkflow(
		testStep("A", "B"),
		testStep("B", "A"),
		withInput(testStep("C", "missing"), "in", "circuit", domain.Reference{Step: "ghost", Output: "out"}),
		testStep("C"),
	)

	verr := mustViolate(t, wf, DefaultOptions())

	for _, kind := range []ViolationKind{KindCycle, KindUnknownStep, KindUndeclaredType, KindUnresolvedReference, KindDuplicateStep} {
		if !verr.Has(kind) {
			t.Errorf("expected %s among %v", kind, verr.Violations)
		}
	}

	for _, sentinel := range []error{ErrCyclicDependency, ErrUnknownStep, ErrUndeclaredType, ErrUnresolvedReference, ErrDuplicateStep} {
		if !errors.Is(verr, sentinel) {
			t.Errorf("errors.Is should match %v", sentinel)
		}
	}

	if !strings.Contains(verr.Error(), "violations") {
		t.Errorf("error should summarise violations: %s", verr.Error())
	}
}

func TestValidate_WorkflowOutputs(t *testing.T) {
	wf := testWorkflow(testStep("A"))
	wf.Outputs = []domain.WorkflowOutput{
		{Name: "ok", Type: domain.TypeString, Value: domain.Reference{Step: "A", Output: "out"}},
		{Name: "bad", Type: domain.TypeString, Value: domain.Reference{Step: "A", Output: "missing"}},
		{Name: "typed", Type: domain.TypeInt, Value: domain.Reference{Step: "A", Output: "out"}},
	}

	verr := mustViolate(t, wf, DefaultOptions())

	if len(verr.ByKind(KindUnresolvedReference)) != 1 {
		t.Errorf("expected 1 unresolved reference, got %v", verr.Violations)
	}
	if len(verr.ByKind(KindTypeMismatch)) != 1 {
		t.Errorf("expected 1 type mismatch, got %v", verr.Violations)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ReferencePolicy
		wantErr bool
	}{
		{"", PolicyStrict, false},
		{"strict", PolicyStrict, false},
		{"Implicit", PolicyImplicit, false},
		{"loose", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoad_ParseError(t *testing.T) {
	_, _, err := Load([]byte("- not a workflow\n"), DefaultOptions())

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Errorf("expected *ParseError, got %v", err)
	}
}
