package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/Stepgraph/internal/domain"
)

func TestParseFile_Ansatz(t *testing.T) {
	wf, err := ParseFile("testdata/ansatz.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wf.Name != "ansatz-params" {
		t.Errorf("expected name ansatz-params, got %s", wf.Name)
	}
	if wf.APIVersion != "io.orquestra.workflow/1.0.0" {
		t.Errorf("unexpected apiVersion %q", wf.APIVersion)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(wf.Steps))
	}
	if len(wf.Types) != 2 || wf.Types[0] != "ansatz-params" {
		t.Errorf("unexpected types %v", wf.Types)
	}

	// Импорт
	if len(wf.Imports) != 1 {
		t.Fatalf("expected 1 import, got %d", len(wf.Imports))
	}
	imp := wf.Imports[0]
	if imp.Name != "z-quantum-core" || imp.Type != "git" || imp.Branch != "dev" {
		t.Errorf("unexpected import %+v", imp)
	}
	if !strings.HasSuffix(imp.Repository, "z-quantum-core.git") {
		t.Errorf("unexpected repository %q", imp.Repository)
	}

	// Первый шаг
	first := wf.Steps[0]
	if first.Name != "get-initial-parameters" {
		t.Errorf("unexpected step name %s", first.Name)
	}
	if first.Runtime.Function != "generate_random_ansatz_params" || first.Runtime.Language != "python3" {
		t.Errorf("unexpected runtime %+v", first.Runtime)
	}
	if first.Resources.CPU != "1000m" || first.Resources.Memory != "1Gi" || first.Resources.Disk != "10Gi" {
		t.Errorf("unexpected resources %+v", first.Resources)
	}
	if first.Line == 0 {
		t.Error("step line should be recorded")
	}

	if len(first.Inputs) != 5 {
		t.Fatalf("expected 5 inputs, got %d", len(first.Inputs))
	}

	tests := []struct {
		input string
		want  domain.Value
	}{
		{"number_of_parameters", domain.Absent{}},
		{"min_value", domain.Literal{Kind: domain.LiteralFloat, Raw: "-0.01"}},
		{"seed", domain.Literal{Kind: domain.LiteralInt, Raw: "9"}},
	}
	for _, tt := range tests {
		found := false
		for _, in := range first.Inputs {
			if in.Name != tt.input {
				continue
			}
			found = true
			if in.Value != tt.want {
				t.Errorf("input %s: expected %#v, got %#v", tt.input, tt.want, in.Value)
			}
		}
		if !found {
			t.Errorf("input %s not found", tt.input)
		}
	}

	// Второй шаг ссылается на первый
	second := wf.Steps[1]
	if len(second.Passed) != 1 || second.Passed[0] != "get-initial-parameters" {
		t.Errorf("unexpected passed %v", second.Passed)
	}
	refs := second.References()
	want := domain.Reference{Step: "get-initial-parameters", Output: "params"}
	if len(refs) != 1 || refs[0] != want {
		t.Errorf("expected reference %v, got %v", want, refs)
	}

	if len(wf.Outputs) != 1 || wf.Outputs[0].Value != (domain.Reference{Step: "test-with-params", Output: "circuit"}) {
		t.Errorf("unexpected workflow outputs %+v", wf.Outputs)
	}
}

func TestParse_Values(t *testing.T) {
	src := `
steps:
  - name: s
    inputs:
      - a: hello
        type: string
      - b: 42
        type: int
      - c: 1.5
        type: float
      - d: true
        type: bool
      - e: ~
        type: string
      - f: None
        type: string
      - g: "((other.out))"
        type: string
      - h: "7"
        type: string
`
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]domain.Value{
		"a": domain.Literal{Kind: domain.LiteralString, Raw: "hello"},
		"b": domain.Literal{Kind: domain.LiteralInt, Raw: "42"},
		"c": domain.Literal{Kind: domain.LiteralFloat, Raw: "1.5"},
		"d": domain.Literal{Kind: domain.LiteralBool, Raw: "true"},
		"e": domain.Absent{},
		"f": domain.Absent{},
		"g": domain.Reference{Step: "other", Output: "out"},
		"h": domain.Literal{Kind: domain.LiteralString, Raw: "7"},
	}

	inputs := wf.Steps[0].Inputs
	if len(inputs) != len(want) {
		t.Fatalf("expected %d inputs, got %d", len(want), len(inputs))
	}
	for _, in := range inputs {
		if in.Value != want[in.Name] {
			t.Errorf("input %s: expected %#v, got %#v", in.Name, want[in.Name], in.Value)
		}
	}
}

func TestParse_Anchors(t *testing.T) {
	src := `
steps:
  - name: a
    config: &cfg
      runtime:
        language: python3
        parameters:
          file: steps.py
          function: run
  - name: b
    config: *cfg
`
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.Steps[1].Runtime.Function != "run" {
		t.Errorf("alias should be resolved, got runtime %+v", wf.Steps[1].Runtime)
	}
}

func TestParse_MergeKeys(t *testing.T) {
	src := `
base: &base
  runtime:
    language: python3
    parameters:
      file: steps.py
      function: run
  resources:
    cpu: "1000m"
steps:
  - name: a
    config:
      <<: *base
      resources:
        cpu: "2000m"
  - name: b
    config:
      <<: [*base]
`
	wf, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := wf.Steps[0]
	if a.Runtime.File != "steps.py" || a.Runtime.Function != "run" {
		t.Errorf("merged runtime should be kept, got %+v", a.Runtime)
	}
	if a.Resources.CPU != "2000m" {
		t.Errorf("explicit key should override merged one, got cpu %q", a.Resources.CPU)
	}
	if wf.Steps[1].Runtime.Function != "run" || wf.Steps[1].Resources.CPU != "1000m" {
		t.Errorf("merge from a list should be applied, got %+v", wf.Steps[1])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantPath string
		wantMsg  string
	}{
		{
			name:    "empty document",
			src:     "",
			wantMsg: "document is empty",
		},
		{
			name:    "yaml syntax",
			src:     "steps: [a, b\n",
			wantMsg: "",
		},
		{
			name:    "not a mapping",
			src:     "- a\n- b\n",
			wantMsg: "document must be a mapping",
		},
		{
			name:     "steps not a list",
			src:      "steps: foo\n",
			wantPath: "steps",
			wantMsg:  "expected a list",
		},
		{
			name:     "input without value",
			src:      "steps:\n  - name: s\n    inputs:\n      - type: string\n",
			wantPath: "steps[0].inputs[0]",
			wantMsg:  "input has no value key",
		},
		{
			name:     "input with several values",
			src:      "steps:\n  - name: s\n    inputs:\n      - a: 1\n        b: 2\n        type: int\n",
			wantPath: "steps[0].inputs[0]",
			wantMsg:  "several value keys: a, b",
		},
		{
			name:     "input not a mapping",
			src:      "steps:\n  - name: s\n    inputs:\n      - just-a-string\n",
			wantPath: "steps[0].inputs[0]",
			wantMsg:  "input must be a mapping",
		},
		{
			name:     "non-scalar value",
			src:      "steps:\n  - name: s\n    inputs:\n      - a: {x: 1}\n        type: string\n",
			wantPath: "steps[0].inputs[0].a",
			wantMsg:  "input value must be a scalar",
		},
		{
			name:     "malformed reference",
			src:      "steps:\n  - name: s\n    inputs:\n      - a: ((other))\n        type: string\n",
			wantPath: "steps[0].inputs[0].a",
			wantMsg:  "malformed reference",
		},
		{
			name:    "duplicate step key",
			src:     "steps:\n  - name: a\n    name: b\n",
			wantMsg: `duplicate key "name"`,
		},
		{
			name:    "duplicate top-level key",
			src:     "name: x\nsteps: []\nsteps: []\n",
			wantMsg: `duplicate key "steps"`,
		},
		{
			name:    "merge of a scalar",
			src:     "steps:\n  - <<: 1\n    name: a\n",
			wantMsg: "merge value must be a mapping",
		},
		{
			name:     "workflow output without value",
			src:      "steps: []\noutputs:\n  - name: out\n    type: string\n",
			wantPath: "outputs[0]",
			wantMsg:  "no value reference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}

			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if !errors.Is(err, ErrMalformedDocument) {
				t.Errorf("expected ErrMalformedDocument, got %v", err)
			}
			if tt.wantPath != "" && perr.Path != tt.wantPath {
				t.Errorf("expected path %q, got %q", tt.wantPath, perr.Path)
			}
			if tt.wantMsg != "" && !strings.Contains(perr.Message, tt.wantMsg) {
				t.Errorf("expected message containing %q, got %q", tt.wantMsg, perr.Message)
			}
		})
	}
}

func TestParse_ErrorLocation(t *testing.T) {
	src := "name: x\nsteps:\n  - name: s\n    inputs:\n      - type: string\n"

	_, err := Parse([]byte(src))

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Line != 5 {
		t.Errorf("expected line 5, got %d", perr.Line)
	}
	if !strings.Contains(perr.Error(), "line 5") {
		t.Errorf("error should mention the line: %s", perr.Error())
	}
}

func TestParse_DuplicateKeyLocation(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - name: a\n    name: b\n"))

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Line != 3 || perr.Column != 5 {
		t.Errorf("expected line 3 column 5, got %d:%d", perr.Line, perr.Column)
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile("testdata/does-not-exist.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
