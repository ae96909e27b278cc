package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// ErrMalformedReference — строка похожа на ссылку, но не имеет вида ((step.output)).
var ErrMalformedReference = errors.New("malformed reference expression")

// ErrMissingResult — для ссылки нет результата выполнения шага.
var ErrMissingResult = errors.New("missing step result")

var (
	referencePattern = regexp.MustCompile(`^\(\(\s*([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\s*\)\)$`)
	embeddedPattern  = regexp.MustCompile(`\(\(\s*([A-Za-z0-9_-]+)\.([A-Za-z0-9_-]+)\s*\)\)`)
)

// IsReference проверяет, записано ли значение как ссылка ((...)).
func IsReference(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "((") && strings.HasSuffix(s, "))")
}

// ParseReference разбирает ссылку ((step.output)).
func ParseReference(s string) (domain.Reference, error) {
	m := referencePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return domain.Reference{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	return domain.Reference{Step: m[1], Output: m[2]}, nil
}

// FindReferences находит все ссылки внутри произвольной строки.
func FindReferences(s string) []domain.Reference {
	matches := embeddedPattern.FindAllStringSubmatch(s, -1)
	refs := make([]domain.Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, domain.Reference{Step: m[1], Output: m[2]})
	}
	return refs
}

// Results — выходы выполненных шагов: step → output → значение.
//
// Наполняется внешним оркестратором; Stepgraph только подставляет значения.
type Results map[string]map[string]any

// Set сохраняет выход шага.
func (r Results) Set(step, output string, value any) {
	if r[step] == nil {
		r[step] = make(map[string]any)
	}
	r[step][output] = value
}

// Lookup возвращает значение по ссылке.
func (r Results) Lookup(ref domain.Reference) (any, bool) {
	outputs, ok := r[ref.Step]
	if !ok {
		return nil, false
	}
	v, ok := outputs[ref.Output]
	return v, ok
}

// ResolveInputs подставляет результаты вместо ссылок во входах шага.
//
// Literal превращается в Go-значение, Absent — в nil,
// Reference — в значение из results. Отсутствующий результат — ошибка.
func ResolveInputs(step *domain.Step, results Results) (map[string]any, error) {
	resolved := make(map[string]any, len(step.Inputs))

	for _, in := range step.Inputs {
		switch v := in.Value.(type) {
		case domain.Literal:
			resolved[in.Name] = v.Interface()

		case domain.Reference:
			value, ok := results.Lookup(v)
			if !ok {
				return nil, fmt.Errorf("%w: input %s of step %s needs %s",
					ErrMissingResult, in.Name, step.Name, v)
			}
			resolved[in.Name] = value

		default:
			resolved[in.Name] = nil
		}
	}

	return resolved, nil
}

// RenderString подставляет результаты во все ссылки внутри строки.
// Нестроковые значения сериализуются через fmt.
func RenderString(s string, results Results) (string, error) {
	var missing error

	out := embeddedPattern.ReplaceAllStringFunc(s, func(match string) string {
		ref, err := ParseReference(match)
		if err != nil {
			return match
		}
		value, ok := results.Lookup(ref)
		if !ok {
			if missing == nil {
				missing = fmt.Errorf("%w: %s", ErrMissingResult, ref)
			}
			return match
		}
		if str, ok := value.(string); ok {
			return str
		}
		return fmt.Sprint(value)
	})

	if missing != nil {
		return "", missing
	}
	return out, nil
}
