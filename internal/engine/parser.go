package engine

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// yamlLinePattern извлекает номер строки из ошибок yaml.v3 ("yaml: line 3: ...").
var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

// Parse разбирает текст документа в Workflow.
//
// Разбор идёт через дерево yaml.Node, чтобы сохранить позиции элементов:
// ошибки структуры возвращаются как *ParseError с номером строки и путём к узлу.
// Семантика (уникальность имён, ссылки, циклы, типы) здесь не проверяется —
// это задача Validate.
func Parse(src []byte) (*domain.Workflow, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(src, &root); err != nil {
		return nil, syntaxError(err)
	}

	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, &ParseError{Message: "document is empty", Err: ErrMalformedDocument}
	}

	doc := resolve(root.Content[0])
	if doc.Kind != yaml.MappingNode {
		return nil, malformed(doc, "", "document must be a mapping")
	}

	wf := &domain.Workflow{
		Imports: make([]domain.Import, 0),
		Steps:   make([]domain.Step, 0),
		Types:   make([]string, 0),
		Line:    doc.Line,
	}

	err := eachPair(doc, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case "apiVersion":
			wf.APIVersion, err = scalar(value, "apiVersion")
		case "name":
			wf.Name, err = scalar(value, "name")
		case "imports":
			wf.Imports, err = parseImports(value)
		case "steps":
			wf.Steps, err = parseSteps(value)
		case "outputs":
			wf.Outputs, err = parseWorkflowOutputs(value)
		case "types":
			wf.Types, err = stringList(value, "types")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return wf, nil
}

// ParseFile читает и разбирает документ из файла.
func ParseFile(path string) (*domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return Parse(data)
}

// parseImports разбирает список imports.
func parseImports(n *yaml.Node) ([]domain.Import, error) {
	imports := make([]domain.Import, 0)

	err := eachItem(n, "imports", func(i int, item *yaml.Node) error {
		path := fmt.Sprintf("imports[%d]", i)
		imp := domain.Import{Line: item.Line}

		err := eachPair(item, func(key string, value *yaml.Node) error {
			var err error
			switch key {
			case "name":
				imp.Name, err = scalar(value, path+".name")
			case "type":
				imp.Type, err = scalar(value, path+".type")
			case "parameters":
				err = eachPair(value, func(key string, value *yaml.Node) error {
					var err error
					switch key {
					case "repository":
						imp.Repository, err = scalar(value, path+".parameters.repository")
					case "branch":
						imp.Branch, err = scalar(value, path+".parameters.branch")
					}
					return err
				})
			}
			return err
		})
		if err != nil {
			return err
		}

		imports = append(imports, imp)
		return nil
	})

	return imports, err
}

// parseSteps разбирает список steps.
func parseSteps(n *yaml.Node) ([]domain.Step, error) {
	steps := make([]domain.Step, 0)

	err := eachItem(n, "steps", func(i int, item *yaml.Node) error {
		step, err := parseStep(item, fmt.Sprintf("steps[%d]", i))
		if err != nil {
			return err
		}
		steps = append(steps, step)
		return nil
	})

	return steps, err
}

// parseStep разбирает один шаг.
func parseStep(n *yaml.Node, path string) (domain.Step, error) {
	step := domain.Step{
		Line:    n.Line,
		Inputs:  make([]domain.Input, 0),
		Outputs: make([]domain.Output, 0),
		Runtime: domain.Runtime{Imports: make([]string, 0)},
	}

	err := eachPair(n, func(key string, value *yaml.Node) error {
		var err error
		switch key {
		case "name":
			step.Name, err = scalar(value, path+".name")
		case "config":
			err = parseStepConfig(value, path+".config", &step)
		case "inputs":
			step.Inputs, err = parseInputs(value, path+".inputs")
		case "outputs":
			step.Outputs, err = parseOutputs(value, path+".outputs")
		case "passed":
			step.Passed, err = stringList(value, path+".passed")
		}
		return err
	})

	return step, err
}

// parseStepConfig разбирает config.runtime и config.resources.
func parseStepConfig(n *yaml.Node, path string, step *domain.Step) error {
	return eachPair(n, func(key string, value *yaml.Node) error {
		switch key {
		case "runtime":
			return eachPair(value, func(key string, value *yaml.Node) error {
				var err error
				switch key {
				case "language":
					step.Runtime.Language, err = scalar(value, path+".runtime.language")
				case "imports":
					step.Runtime.Imports, err = stringList(value, path+".runtime.imports")
				case "parameters":
					err = eachPair(value, func(key string, value *yaml.Node) error {
						var err error
						switch key {
						case "file":
							step.Runtime.File, err = scalar(value, path+".runtime.parameters.file")
						case "function":
							step.Runtime.Function, err = scalar(value, path+".runtime.parameters.function")
						}
						return err
					})
				}
				return err
			})

		case "resources":
			return eachPair(value, func(key string, value *yaml.Node) error {
				var err error
				switch key {
				case "cpu":
					step.Resources.CPU, err = scalar(value, path+".resources.cpu")
				case "memory":
					step.Resources.Memory, err = scalar(value, path+".resources.memory")
				case "disk":
					step.Resources.Disk, err = scalar(value, path+".resources.disk")
				}
				return err
			})
		}
		return nil
	})
}

// parseInputs разбирает входы шага.
//
// Каждый элемент — mapping из ключа-имени со значением и ключа type:
//
//	- min_value: -0.5
//	  type: float
func parseInputs(n *yaml.Node, path string) ([]domain.Input, error) {
	inputs := make([]domain.Input, 0)

	err := eachItem(n, path, func(i int, item *yaml.Node) error {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if item.Kind != yaml.MappingNode {
			return malformed(item, itemPath, "input must be a mapping")
		}

		in := domain.Input{Line: item.Line, Value: domain.Absent{}}
		var valueKeys []string
		var valueNode *yaml.Node

		err := eachPair(item, func(key string, value *yaml.Node) error {
			if key == "type" {
				t, err := scalar(value, itemPath+".type")
				in.Type = t
				return err
			}
			valueKeys = append(valueKeys, key)
			valueNode = value
			return nil
		})
		if err != nil {
			return err
		}

		switch len(valueKeys) {
		case 0:
			return malformed(item, itemPath, "input has no value key")
		case 1:
		default:
			return malformed(item, itemPath,
				fmt.Sprintf("input has several value keys: %s", strings.Join(valueKeys, ", ")))
		}

		in.Name = valueKeys[0]
		value, err := parseValue(valueNode, itemPath+"."+in.Name)
		if err != nil {
			return err
		}
		in.Value = value

		inputs = append(inputs, in)
		return nil
	})

	return inputs, err
}

// parseValue превращает скаляр в Literal, Reference или Absent.
func parseValue(n *yaml.Node, path string) (domain.Value, error) {
	n = resolve(n)
	if n.Kind != yaml.ScalarNode {
		return nil, malformed(n, path, "input value must be a scalar")
	}

	switch n.Tag {
	case "!!null":
		return domain.Absent{}, nil
	case "!!int":
		return domain.Literal{Kind: domain.LiteralInt, Raw: n.Value}, nil
	case "!!float":
		return domain.Literal{Kind: domain.LiteralFloat, Raw: n.Value}, nil
	case "!!bool":
		return domain.Literal{Kind: domain.LiteralBool, Raw: n.Value}, nil
	}

	if n.Value == "None" {
		return domain.Absent{}, nil
	}

	if IsReference(n.Value) {
		ref, err := ParseReference(n.Value)
		if err != nil {
			return nil, malformed(n, path, err.Error())
		}
		return ref, nil
	}

	return domain.Literal{Kind: domain.LiteralString, Raw: n.Value}, nil
}

// parseOutputs разбирает выходы шага.
func parseOutputs(n *yaml.Node, path string) ([]domain.Output, error) {
	outputs := make([]domain.Output, 0)

	err := eachItem(n, path, func(i int, item *yaml.Node) error {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		out := domain.Output{Line: item.Line}

		err := eachPair(item, func(key string, value *yaml.Node) error {
			var err error
			switch key {
			case "name":
				out.Name, err = scalar(value, itemPath+".name")
			case "type":
				out.Type, err = scalar(value, itemPath+".type")
			}
			return err
		})
		if err != nil {
			return err
		}

		outputs = append(outputs, out)
		return nil
	})

	return outputs, err
}

// parseWorkflowOutputs разбирает выходы workflow.
func parseWorkflowOutputs(n *yaml.Node) ([]domain.WorkflowOutput, error) {
	outputs := make([]domain.WorkflowOutput, 0)

	err := eachItem(n, "outputs", func(i int, item *yaml.Node) error {
		itemPath := fmt.Sprintf("outputs[%d]", i)
		out := domain.WorkflowOutput{Line: item.Line}
		hasValue := false

		err := eachPair(item, func(key string, value *yaml.Node) error {
			var err error
			switch key {
			case "name":
				out.Name, err = scalar(value, itemPath+".name")
			case "type":
				out.Type, err = scalar(value, itemPath+".type")
			case "value":
				var raw string
				raw, err = scalar(value, itemPath+".value")
				if err != nil {
					return err
				}
				out.Value, err = ParseReference(raw)
				if err != nil {
					return malformed(value, itemPath+".value", err.Error())
				}
				hasValue = true
			}
			return err
		})
		if err != nil {
			return err
		}

		if !hasValue {
			return malformed(item, itemPath, "workflow output has no value reference")
		}

		outputs = append(outputs, out)
		return nil
	})

	return outputs, err
}

// --- yaml.Node helpers ---

// resolve разворачивает алиасы (*anchor).
func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// eachPair обходит пары ключ-значение mapping-узла.
// null-узел считается пустым mapping. Ключи слияния (<<) раскрываются
// до явных ключей, явный ключ перекрывает слитый. Повтор явного ключа
// считается ошибкой.
func eachPair(n *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	pairs, err := mappingPairs(n)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

type pair struct {
	key   string
	value *yaml.Node
}

// mappingPairs собирает пары mapping-узла с учётом ключей слияния.
func mappingPairs(n *yaml.Node) ([]pair, error) {
	n = resolve(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, malformed(n, "", "expected a mapping")
	}

	explicit := make([]pair, 0, len(n.Content)/2)
	seen := make(map[string]bool, len(n.Content)/2)
	var sources []*yaml.Node

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := resolve(n.Content[i])
		if key.Kind != yaml.ScalarNode {
			return nil, malformed(key, "", "mapping key must be a scalar")
		}
		if isMergeKey(key) {
			sources = append(sources, resolve(n.Content[i+1]))
			continue
		}
		if seen[key.Value] {
			return nil, malformed(key, "", fmt.Sprintf("duplicate key %q", key.Value))
		}
		seen[key.Value] = true
		explicit = append(explicit, pair{key: key.Value, value: resolve(n.Content[i+1])})
	}

	if len(sources) == 0 {
		return explicit, nil
	}

	// << принимает mapping или список mapping; ранний источник важнее позднего
	var maps []*yaml.Node
	for _, src := range sources {
		if src.Kind == yaml.SequenceNode {
			for _, item := range src.Content {
				maps = append(maps, resolve(item))
			}
			continue
		}
		maps = append(maps, src)
	}

	merged := make([]pair, 0)
	for _, m := range maps {
		if m.Kind != yaml.MappingNode {
			return nil, malformed(m, "", "merge value must be a mapping or a list of mappings")
		}
		inherited, err := mappingPairs(m)
		if err != nil {
			return nil, err
		}
		for _, p := range inherited {
			if seen[p.key] {
				continue
			}
			seen[p.key] = true
			merged = append(merged, p)
		}
	}

	return append(merged, explicit...), nil
}

// isMergeKey сообщает, является ли ключ ключом слияния <<.
func isMergeKey(key *yaml.Node) bool {
	return key.Value == "<<" && (key.Tag == "!!merge" || key.Tag == "" || key.Tag == "!")
}

// eachItem обходит элементы sequence-узла.
func eachItem(n *yaml.Node, path string, fn func(i int, item *yaml.Node) error) error {
	n = resolve(n)
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return malformed(n, path, "expected a list")
	}

	for i, item := range n.Content {
		if err := fn(i, resolve(item)); err != nil {
			return err
		}
	}
	return nil
}

// scalar возвращает строковое значение скаляра.
func scalar(n *yaml.Node, path string) (string, error) {
	n = resolve(n)
	if isNull(n) {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", malformed(n, path, "expected a scalar value")
	}
	return n.Value, nil
}

// stringList возвращает список скаляров.
func stringList(n *yaml.Node, path string) ([]string, error) {
	items := make([]string, 0)
	err := eachItem(n, path, func(i int, item *yaml.Node) error {
		s, err := scalar(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return err
		}
		items = append(items, s)
		return nil
	})
	return items, err
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// malformed создаёт ParseError с позицией узла.
func malformed(n *yaml.Node, path, message string) *ParseError {
	pe := &ParseError{Path: path, Message: message, Err: ErrMalformedDocument}
	if n != nil {
		pe.Line = n.Line
		pe.Column = n.Column
	}
	return pe
}

// syntaxError превращает ошибку yaml.v3 в ParseError.
func syntaxError(err error) *ParseError {
	pe := &ParseError{
		Message: strings.TrimPrefix(err.Error(), "yaml: "),
		Err:     errors.Join(ErrMalformedDocument, err),
	}
	if m := yamlLinePattern.FindStringSubmatch(err.Error()); m != nil {
		pe.Line, _ = strconv.Atoi(m[1])
	}
	return pe
}
