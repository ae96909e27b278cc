package domain

// Workflow — декларативное описание графа шагов.
//
// Документ разбирается один раз, валидируется и передаётся внешнему
// оркестратору. Stepgraph не выполняет шаги и не хранит состояние запусков.
type Workflow struct {
	// APIVersion — версия формата документа (например, "io.orquestra.workflow/1.0.0").
	APIVersion string `json:"api_version"`

	// Name — имя workflow.
	Name string `json:"name"`

	// Imports — внешние репозитории с функциями шагов.
	Imports []Import `json:"imports"`

	// Steps — шаги в порядке объявления.
	Steps []Step `json:"steps"`

	// Outputs — выходы workflow целиком (опционально).
	Outputs []WorkflowOutput `json:"outputs,omitempty"`

	// Types — объявленные типы артефактов.
	Types []string `json:"types"`

	// Line — строка, на которой начинается документ.
	Line int `json:"-"`
}

// Import — внешняя зависимость (git-репозиторий + ветка).
//
// Stepgraph никогда не скачивает и не исполняет импорт:
// это непрозрачный идентификатор с версией.
type Import struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Repository string `json:"repository,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Line       int    `json:"-"`
}

// Step — именованная единица работы, привязанная к внешней функции.
type Step struct {
	// Name — уникальное имя шага в рамках workflow.
	Name string `json:"name"`

	// Runtime — язык, импорты и ссылка на функцию.
	Runtime Runtime `json:"runtime"`

	// Resources — запрос ресурсов.
	Resources Resources `json:"resources"`

	// Inputs — входы шага в порядке объявления.
	Inputs []Input `json:"inputs"`

	// Outputs — выходы шага.
	Outputs []Output `json:"outputs"`

	// Passed — шаги, которые должны завершиться до начала этого.
	Passed []string `json:"passed,omitempty"`

	// Line — строка объявления шага в документе.
	Line int `json:"-"`
}

// Runtime — описание окружения шага.
type Runtime struct {
	// Language — тег языка (например, "python3").
	Language string `json:"language"`

	// Imports — имена импортов workflow, нужных шагу.
	Imports []string `json:"imports"`

	// File — файл с функцией внутри импорта.
	File string `json:"file"`

	// Function — имя вызываемой функции внешней библиотеки.
	Function string `json:"function"`
}

// Resources — запрос ресурсов в нотации оркестратора ("1000m", "1Gi").
type Resources struct {
	CPU    string `json:"cpu,omitempty"`
	Memory string `json:"memory,omitempty"`
	Disk   string `json:"disk,omitempty"`
}

// Output — объявленный выход шага.
type Output struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Line int    `json:"-"`
}

// WorkflowOutput — выход workflow, указывающий на выход шага.
type WorkflowOutput struct {
	Name  string    `json:"name"`
	Type  string    `json:"type"`
	Value Reference `json:"value"`
	Line  int       `json:"-"`
}

// Встроенные типы, которые не нужно объявлять в types.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
)

// IsBuiltinType проверяет, является ли тип встроенным.
func IsBuiltinType(name string) bool {
	switch name {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	default:
		return false
	}
}

// StepByName возвращает первый шаг с указанным именем.
func (w *Workflow) StepByName(name string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// StepNames возвращает имена шагов в порядке объявления.
func (w *Workflow) StepNames() []string {
	names := make([]string, len(w.Steps))
	for i := range w.Steps {
		names[i] = w.Steps[i].Name
	}
	return names
}

// Output возвращает выход шага по имени.
func (s *Step) Output(name string) (*Output, bool) {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i], true
		}
	}
	return nil, false
}

// References возвращает все ссылки из входов шага.
func (s *Step) References() []Reference {
	refs := make([]Reference, 0)
	for _, in := range s.Inputs {
		if ref, ok := in.Value.(Reference); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
