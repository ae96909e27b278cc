package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки разбора документа.
var (
	// ErrMalformedDocument — документ не соответствует ожидаемой структуре.
	ErrMalformedDocument = errors.New("malformed workflow document")
)

// Ошибки валидации Workflow.
var (
	// ErrNoSteps — workflow не содержит шагов.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrEmptyName — у шага, входа, выхода или импорта нет имени.
	ErrEmptyName = errors.New("empty name")

	// ErrDuplicateStep — несколько шагов с одинаковым именем.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrDuplicateInput — несколько входов шага с одинаковым именем.
	ErrDuplicateInput = errors.New("duplicate input name")

	// ErrDuplicateOutput — несколько выходов с одинаковым именем.
	ErrDuplicateOutput = errors.New("duplicate output name")

	// ErrDuplicateImport — несколько импортов с одинаковым именем.
	ErrDuplicateImport = errors.New("duplicate import name")

	// ErrDuplicateType — тип объявлен дважды.
	ErrDuplicateType = errors.New("duplicate type")

	// ErrUnknownStep — passed ссылается на несуществующий шаг.
	ErrUnknownStep = errors.New("step depends on unknown step")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")

	// ErrUnresolvedReference — ссылка ((step.output)) не разрешается.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUndeclaredType — тип не объявлен в types.
	ErrUndeclaredType = errors.New("undeclared type")

	// ErrTypeMismatch — значение входа не соответствует его типу.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrUnknownImport — runtime шага использует необъявленный импорт.
	ErrUnknownImport = errors.New("unknown import")

	// ErrMissingFunction — runtime шага не указывает файл или функцию.
	ErrMissingFunction = errors.New("missing function reference")

	// ErrInvalidResource — некорректный запрос ресурсов.
	ErrInvalidResource = errors.New("invalid resource quantity")

	// ErrUnsupportedAPIVersion — неизвестная версия формата.
	ErrUnsupportedAPIVersion = errors.New("unsupported api version")
)

// ParseError — ошибка разбора документа с позицией.
type ParseError struct {
	Line    int    `json:"line,omitempty"`   // строка (0, если неизвестна)
	Column  int    `json:"column,omitempty"` // колонка (0, если неизвестна)
	Path    string `json:"path,omitempty"`   // путь к узлу, например "steps[1].inputs[0]"
	Message string `json:"message"`
	Err     error  `json:"-"` // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ", column %d", e.Column)
		}
	}
	if e.Path != "" {
		b.WriteString(" (" + e.Path + ")")
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

// Unwrap возвращает базовую ошибку.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ViolationKind — вид нарушения.
type ViolationKind string

const (
	KindNoSteps               ViolationKind = "no-steps"
	KindEmptyName             ViolationKind = "empty-name"
	KindDuplicateStep         ViolationKind = "duplicate-step"
	KindDuplicateInput        ViolationKind = "duplicate-input"
	KindDuplicateOutput       ViolationKind = "duplicate-output"
	KindDuplicateImport       ViolationKind = "duplicate-import"
	KindDuplicateType         ViolationKind = "duplicate-type"
	KindUnknownStep           ViolationKind = "unknown-step"
	KindSelfDependency        ViolationKind = "self-dependency"
	KindUnresolvedReference   ViolationKind = "unresolved-reference"
	KindCycle                 ViolationKind = "cycle"
	KindUndeclaredType        ViolationKind = "undeclared-type"
	KindTypeMismatch          ViolationKind = "type-mismatch"
	KindUnknownImport         ViolationKind = "unknown-import"
	KindMissingFunction       ViolationKind = "missing-function"
	KindInvalidResource       ViolationKind = "invalid-resource"
	KindUnsupportedAPIVersion ViolationKind = "unsupported-api-version"
)

// kindErrors связывает вид нарушения с sentinel-ошибкой.
var kindErrors = map[ViolationKind]error{
	KindNoSteps:               ErrNoSteps,
	KindEmptyName:             ErrEmptyName,
	KindDuplicateStep:         ErrDuplicateStep,
	KindDuplicateInput:        ErrDuplicateInput,
	KindDuplicateOutput:       ErrDuplicateOutput,
	KindDuplicateImport:       ErrDuplicateImport,
	KindDuplicateType:         ErrDuplicateType,
	KindUnknownStep:           ErrUnknownStep,
	KindSelfDependency:        ErrSelfDependency,
	KindUnresolvedReference:   ErrUnresolvedReference,
	KindCycle:                 ErrCyclicDependency,
	KindUndeclaredType:        ErrUndeclaredType,
	KindTypeMismatch:          ErrTypeMismatch,
	KindUnknownImport:         ErrUnknownImport,
	KindMissingFunction:       ErrMissingFunction,
	KindInvalidResource:       ErrInvalidResource,
	KindUnsupportedAPIVersion: ErrUnsupportedAPIVersion,
}

// Occurrence — место в документе, связанное с нарушением.
type Occurrence struct {
	Index int `json:"index"` // индекс в списке (например, в steps)
	Line  int `json:"line,omitempty"`
}

// Violation — одно семантическое нарушение.
type Violation struct {
	Kind        ViolationKind `json:"kind"`
	Step        string        `json:"step,omitempty"`  // шаг, где найдено нарушение
	Field       string        `json:"field,omitempty"` // поле, вызвавшее нарушение
	Message     string        `json:"message"`
	Line        int           `json:"line,omitempty"`
	Occurrences []Occurrence  `json:"occurrences,omitempty"`
	Cycle       []string      `json:"cycle,omitempty"` // путь цикла для KindCycle
}

// Err возвращает sentinel-ошибку для вида нарушения.
func (v Violation) Err() error {
	return kindErrors[v.Kind]
}

// String форматирует нарушение для вывода.
func (v Violation) String() string {
	var b strings.Builder
	if v.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", v.Line)
	}
	if v.Step != "" {
		b.WriteString("step " + v.Step + ": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// ValidationError — полный список нарушений, найденных в workflow.
type ValidationError struct {
	Workflow   string
	Violations []Violation
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "workflow " + e.Workflow + ": " + e.Violations[0].String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "workflow %s: %d violations", e.Workflow, len(e.Violations))
	for _, v := range e.Violations {
		b.WriteString("\n  - " + v.String())
	}
	return b.String()
}

// Unwrap возвращает sentinel-ошибки всех нарушений.
// errors.Is(err, ErrCyclicDependency) работает для любого нарушения из списка.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Violations))
	seen := make(map[ViolationKind]bool)
	for _, v := range e.Violations {
		if seen[v.Kind] {
			continue
		}
		seen[v.Kind] = true
		if err := v.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Has проверяет, есть ли нарушение указанного вида.
func (e *ValidationError) Has(kind ViolationKind) bool {
	return len(e.ByKind(kind)) > 0
}

// ByKind возвращает нарушения указанного вида.
func (e *ValidationError) ByKind(kind ViolationKind) []Violation {
	var out []Violation
	for _, v := range e.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}
