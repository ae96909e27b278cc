package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// ReferencePolicy — как ссылка ((step.output)) связана с порядком шагов.
type ReferencePolicy string

const (
	// PolicyStrict — шаг из ссылки обязан быть выше по цепочке passed.
	// Ссылка без объявленного порядка считается ошибкой автора документа.
	PolicyStrict ReferencePolicy = "strict"

	// PolicyImplicit — ссылка сама задаёт порядок (неявное ребро графа).
	PolicyImplicit ReferencePolicy = "implicit"
)

// ParsePolicy разбирает имя политики. Пустая строка — PolicyStrict.
func ParsePolicy(s string) (ReferencePolicy, error) {
	switch ReferencePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyImplicit:
		return PolicyImplicit, nil
	default:
		return "", fmt.Errorf("unknown reference policy %q (want %s or %s)", s, PolicyStrict, PolicyImplicit)
	}
}

// Options — настройки валидации и построения графа.
type Options struct {
	Policy ReferencePolicy
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{Policy: PolicyStrict}
}

// Поддерживаемые версии формата документа.
const apiVersionPrefix = "io.orquestra.workflow/1."

// resourcePattern — количество ресурса: "1", "0.5", "1000m", "1Gi", "10G".
var resourcePattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(m|k|Ki|M|Mi|G|Gi|T|Ti|P|Pi|E|Ei)?$`)

// validator собирает нарушения по ходу проверки.
type validator struct {
	wf         *domain.Workflow
	opts       Options
	types      map[string]bool
	imports    map[string]bool
	steps      map[string]*domain.Step
	violations []Violation
}

// Validate выполняет полную валидацию Workflow.
//
// Проверяет:
// - Наличие шагов и версию формата
// - Уникальность имён шагов, входов, выходов, импортов и типов
// - Ссылки passed и ((step.output))
// - Объявленность типов и соответствие литералов типам
// - Отсутствие циклов
//
// В отличие от остановки на первой ошибке, собирает все нарушения
// и возвращает их одним *ValidationError.
func Validate(wf *domain.Workflow, opts Options) error {
	if wf == nil {
		return &ValidationError{Violations: []Violation{{Kind: KindNoSteps, Message: "workflow is empty"}}}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyStrict
	}

	v := &validator{
		wf:      wf,
		opts:    opts,
		types:   make(map[string]bool),
		imports: make(map[string]bool),
		steps:   make(map[string]*domain.Step),
	}

	v.checkHeader()
	v.checkTypes()
	v.checkImports()
	v.checkStepNames()

	for i := range wf.Steps {
		step := &wf.Steps[i]
		v.checkRuntime(step)
		v.checkResources(step)
		v.checkInputs(step)
		v.checkOutputs(step)
		v.checkPassed(step)
	}

	// Ссылки проверяются после того, как известны все шаги и выходы
	for i := range wf.Steps {
		v.checkReferences(&wf.Steps[i])
	}
	v.checkWorkflowOutputs()
	v.checkCycles()

	if len(v.violations) > 0 {
		return &ValidationError{Workflow: wf.Name, Violations: v.violations}
	}
	return nil
}

// Load разбирает документ, валидирует его и строит DAG.
func Load(src []byte, opts Options) (*domain.Workflow, *DAG, error) {
	wf, err := Parse(src)
	if err != nil {
		return nil, nil, err
	}
	if err := Validate(wf, opts); err != nil {
		return wf, nil, err
	}
	dag, err := BuildDAG(wf, opts)
	if err != nil {
		return wf, nil, err
	}
	return wf, dag, nil
}

func (v *validator) add(violation Violation) {
	v.violations = append(v.violations, violation)
}

// checkHeader проверяет наличие шагов и apiVersion.
func (v *validator) checkHeader() {
	if len(v.wf.Steps) == 0 {
		v.add(Violation{Kind: KindNoSteps, Field: "steps", Message: "workflow has no steps", Line: v.wf.Line})
	}

	switch {
	case v.wf.APIVersion == "":
		v.add(Violation{Kind: KindUnsupportedAPIVersion, Field: "apiVersion",
			Message: "apiVersion is missing", Line: v.wf.Line})
	case !strings.HasPrefix(v.wf.APIVersion, apiVersionPrefix):
		v.add(Violation{Kind: KindUnsupportedAPIVersion, Field: "apiVersion",
			Message: fmt.Sprintf("unsupported apiVersion %q", v.wf.APIVersion), Line: v.wf.Line})
	}
}

// checkTypes собирает объявленные типы.
func (v *validator) checkTypes() {
	for _, t := range v.wf.Types {
		if t == "" {
			v.add(Violation{Kind: KindEmptyName, Field: "types", Message: "type has empty name"})
			continue
		}
		if v.types[t] {
			v.add(Violation{Kind: KindDuplicateType, Field: "types",
				Message: fmt.Sprintf("type %q is declared more than once", t)})
			continue
		}
		v.types[t] = true
	}
}

// checkImports проверяет имена импортов.
func (v *validator) checkImports() {
	for i, imp := range v.wf.Imports {
		if imp.Name == "" {
			v.add(Violation{Kind: KindEmptyName, Field: fmt.Sprintf("imports[%d]", i),
				Message: "import has empty name", Line: imp.Line})
			continue
		}
		if v.imports[imp.Name] {
			v.add(Violation{Kind: KindDuplicateImport, Field: fmt.Sprintf("imports[%d]", i),
				Message: fmt.Sprintf("import %q is declared more than once", imp.Name), Line: imp.Line})
			continue
		}
		v.imports[imp.Name] = true
	}
}

// checkStepNames проверяет уникальность имён шагов.
// Для дубликата сообщаются все вхождения.
func (v *validator) checkStepNames() {
	occurrences := make(map[string][]Occurrence)
	order := make([]string, 0)

	for i := range v.wf.Steps {
		step := &v.wf.Steps[i]
		if step.Name == "" {
			v.add(Violation{Kind: KindEmptyName, Field: fmt.Sprintf("steps[%d]", i),
				Message: "step has empty name", Line: step.Line})
			continue
		}
		if _, exists := v.steps[step.Name]; !exists {
			v.steps[step.Name] = step
			order = append(order, step.Name)
		}
		occurrences[step.Name] = append(occurrences[step.Name], Occurrence{Index: i, Line: step.Line})
	}

	for _, name := range order {
		occ := occurrences[name]
		if len(occ) < 2 {
			continue
		}
		places := make([]string, len(occ))
		for i, o := range occ {
			places[i] = fmt.Sprintf("steps[%d] (line %d)", o.Index, o.Line)
		}
		v.add(Violation{
			Kind:        KindDuplicateStep,
			Step:        name,
			Field:       "name",
			Message:     fmt.Sprintf("duplicate step name %q at %s", name, strings.Join(places, ", ")),
			Line:        occ[1].Line,
			Occurrences: occ,
		})
	}
}

// checkRuntime проверяет ссылку на функцию и импорты шага.
func (v *validator) checkRuntime(step *domain.Step) {
	rt := step.Runtime
	if rt.Function == "" || rt.File == "" {
		missing := make([]string, 0, 2)
		if rt.File == "" {
			missing = append(missing, "file")
		}
		if rt.Function == "" {
			missing = append(missing, "function")
		}
		v.add(Violation{Kind: KindMissingFunction, Step: step.Name, Field: "config.runtime.parameters",
			Message: "runtime is missing " + strings.Join(missing, " and "), Line: step.Line})
	}

	for _, name := range rt.Imports {
		if !v.imports[name] {
			v.add(Violation{Kind: KindUnknownImport, Step: step.Name, Field: "config.runtime.imports",
				Message: fmt.Sprintf("runtime uses undeclared import %q", name), Line: step.Line})
		}
	}
}

// checkResources проверяет формат cpu/memory/disk.
func (v *validator) checkResources(step *domain.Step) {
	fields := []struct {
		name  string
		value string
	}{
		{"cpu", step.Resources.CPU},
		{"memory", step.Resources.Memory},
		{"disk", step.Resources.Disk},
	}

	for _, f := range fields {
		if f.value == "" || resourcePattern.MatchString(f.value) {
			continue
		}
		v.add(Violation{Kind: KindInvalidResource, Step: step.Name, Field: "config.resources." + f.name,
			Message: fmt.Sprintf("invalid %s quantity %q", f.name, f.value), Line: step.Line})
	}
}

// checkType проверяет, что тип указан и объявлен.
func (v *validator) checkType(step, what, typ string, line int) bool {
	if typ == "" {
		v.add(Violation{Kind: KindUndeclaredType, Step: step, Field: "type",
			Message: what + " has no type", Line: line})
		return false
	}
	if !domain.IsBuiltinType(typ) && !v.types[typ] {
		v.add(Violation{Kind: KindUndeclaredType, Step: step, Field: "type",
			Message: fmt.Sprintf("%s uses undeclared type %q", what, typ), Line: line})
		return false
	}
	return true
}

// checkInputs проверяет входы шага.
func (v *validator) checkInputs(step *domain.Step) {
	seen := make(map[string]bool)

	for _, in := range step.Inputs {
		if in.Name == "" {
			v.add(Violation{Kind: KindEmptyName, Step: step.Name, Field: "inputs",
				Message: "input has empty name", Line: in.Line})
			continue
		}
		if seen[in.Name] {
			v.add(Violation{Kind: KindDuplicateInput, Step: step.Name, Field: "inputs",
				Message: fmt.Sprintf("input %q is declared more than once", in.Name), Line: in.Line})
		}
		seen[in.Name] = true

		if !v.checkType(step.Name, "input "+in.Name, in.Type, in.Line) {
			continue
		}

		if lit, ok := in.Value.(domain.Literal); ok && !literalFits(lit, in.Type) {
			v.add(Violation{Kind: KindTypeMismatch, Step: step.Name, Field: "inputs",
				Message: fmt.Sprintf("input %s: %s literal %q does not fit type %s", in.Name, lit.Kind, lit.Raw, in.Type),
				Line:    in.Line})
		}
	}
}

// literalFits проверяет литерал против встроенного типа.
// Небазовые типы (артефакты) принимают литерал как сериализованное значение.
func literalFits(lit domain.Literal, typ string) bool {
	switch typ {
	case domain.TypeInt:
		return lit.Kind == domain.LiteralInt
	case domain.TypeFloat:
		return lit.Kind == domain.LiteralFloat || lit.Kind == domain.LiteralInt
	case domain.TypeBool:
		return lit.Kind == domain.LiteralBool
	default:
		return true
	}
}

// checkOutputs проверяет выходы шага.
func (v *validator) checkOutputs(step *domain.Step) {
	seen := make(map[string]bool)

	for _, out := range step.Outputs {
		if out.Name == "" {
			v.add(Violation{Kind: KindEmptyName, Step: step.Name, Field: "outputs",
				Message: "output has empty name", Line: out.Line})
			continue
		}
		if seen[out.Name] {
			v.add(Violation{Kind: KindDuplicateOutput, Step: step.Name, Field: "outputs",
				Message: fmt.Sprintf("output %q is declared more than once", out.Name), Line: out.Line})
		}
		seen[out.Name] = true

		v.checkType(step.Name, "output "+out.Name, out.Type, out.Line)
	}
}

// checkPassed проверяет, что passed ссылается на существующие шаги.
func (v *validator) checkPassed(step *domain.Step) {
	for _, dep := range step.Passed {
		switch {
		case dep == step.Name:
			v.add(Violation{Kind: KindSelfDependency, Step: step.Name, Field: "passed",
				Message: "step depends on itself", Line: step.Line})
		case v.steps[dep] == nil:
			v.add(Violation{Kind: KindUnknownStep, Step: step.Name, Field: "passed",
				Message: fmt.Sprintf("depends on unknown step %q", dep), Line: step.Line})
		}
	}
}

// checkReferences проверяет ссылки ((step.output)) во входах шага.
func (v *validator) checkReferences(step *domain.Step) {
	var upstream map[string]bool

	for _, in := range step.Inputs {
		ref, ok := in.Value.(domain.Reference)
		if !ok {
			continue
		}

		if ref.Step == step.Name {
			v.add(Violation{Kind: KindSelfDependency, Step: step.Name, Field: "inputs",
				Message: fmt.Sprintf("input %s references the step's own output %s", in.Name, ref), Line: in.Line})
			continue
		}

		out, ok := v.resolve(step.Name, "input "+in.Name, ref, in.Line)
		if !ok {
			continue
		}

		if v.opts.Policy == PolicyStrict {
			if upstream == nil {
				upstream = v.upstream(step.Name)
			}
			if !upstream[ref.Step] {
				v.add(Violation{Kind: KindUnresolvedReference, Step: step.Name, Field: "inputs",
					Message: fmt.Sprintf("input %s references %s, but step %q is not upstream through passed",
						in.Name, ref, ref.Step),
					Line: in.Line})
			}
		}

		if in.Type != "" && out.Type != "" && in.Type != out.Type {
			v.add(Violation{Kind: KindTypeMismatch, Step: step.Name, Field: "inputs",
				Message: fmt.Sprintf("input %s has type %s, but %s has type %s", in.Name, in.Type, ref, out.Type),
				Line:    in.Line})
		}
	}
}

// resolve находит выход шага, на который указывает ссылка.
func (v *validator) resolve(stepName, what string, ref domain.Reference, line int) (*domain.Output, bool) {
	target := v.steps[ref.Step]
	if target == nil {
		v.add(Violation{Kind: KindUnresolvedReference, Step: stepName, Field: "inputs",
			Message: fmt.Sprintf("%s references unknown step %q in %s", what, ref.Step, ref), Line: line})
		return nil, false
	}

	out, ok := target.Output(ref.Output)
	if !ok {
		v.add(Violation{Kind: KindUnresolvedReference, Step: stepName, Field: "inputs",
			Message: fmt.Sprintf("%s references %s, but step %q has no output %q", what, ref, ref.Step, ref.Output),
			Line:    line})
		return nil, false
	}

	return out, true
}

// upstream возвращает шаги, транзитивно достижимые из step по passed.
func (v *validator) upstream(name string) map[string]bool {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		step := v.steps[n]
		if step == nil {
			return
		}
		for _, dep := range step.Passed {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)
	delete(seen, name)
	return seen
}

// checkWorkflowOutputs проверяет выходы workflow.
func (v *validator) checkWorkflowOutputs() {
	seen := make(map[string]bool)

	for _, out := range v.wf.Outputs {
		if out.Name == "" {
			v.add(Violation{Kind: KindEmptyName, Field: "outputs", Message: "workflow output has empty name", Line: out.Line})
			continue
		}
		if seen[out.Name] {
			v.add(Violation{Kind: KindDuplicateOutput, Field: "outputs",
				Message: fmt.Sprintf("workflow output %q is declared more than once", out.Name), Line: out.Line})
		}
		seen[out.Name] = true

		what := "workflow output " + out.Name
		typeOK := v.checkType("", what, out.Type, out.Line)

		produced, ok := v.resolve("", what, out.Value, out.Line)
		if ok && typeOK && produced.Type != out.Type {
			v.add(Violation{Kind: KindTypeMismatch, Field: "outputs",
				Message: fmt.Sprintf("%s has type %s, but %s has type %s", what, out.Type, out.Value, produced.Type),
				Line:    out.Line})
		}
	}
}

// checkCycles ищет циклы в графе зависимостей.
// Учитываются только существующие шаги: неизвестные уже отмечены выше.
func (v *validator) checkCycles() {
	names := make([]string, 0, len(v.steps))
	edges := make(map[string][]string, len(v.steps))

	for i := range v.wf.Steps {
		step := &v.wf.Steps[i]
		if step.Name == "" || v.steps[step.Name] != step {
			continue
		}
		names = append(names, step.Name)
		for _, dep := range dependencies(step, v.opts.Policy) {
			if dep != step.Name && v.steps[dep] != nil {
				edges[step.Name] = append(edges[step.Name], dep)
			}
		}
	}

	for _, cycle := range findCycles(names, edges) {
		v.add(newCycleViolation(cycle, v.steps[cycle[0]].Line))
	}
}
