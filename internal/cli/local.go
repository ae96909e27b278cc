package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/validator"
)

// Локальные команды работают с файлами напрямую, без API.

// FileReport — результат проверки одного файла.
type FileReport struct {
	File   string            `json:"file"`
	Report *validator.Report `json:"report"`
}

// NewValidateCmd создаёт команду проверки документов.
// Команда завершается ошибкой, если хотя бы один документ невалиден.
func NewValidateCmd(optsFn func() (engine.Options, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate workflow documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := optsFn()
			if err != nil {
				return err
			}
			out := outputFn()

			reports := make([]FileReport, 0, len(args))
			invalid := 0
			for _, path := range args {
				src, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				report := validator.Check(src, opts, "cli")
				if !report.Valid {
					invalid++
				}
				reports = append(reports, FileReport{File: path, Report: report})
			}

			headers := []string{"FILE", "WORKFLOW", "STEPS", "VERDICT"}
			rows := make([][]string, len(reports))
			for i, fr := range reports {
				rows[i] = []string{fr.File, fr.Report.Workflow, strconv.Itoa(fr.Report.StepCount), string(fr.Report.Verdict)}
			}
			out.Print(headers, rows, reports)

			if !out.IsJSON() {
				for _, fr := range reports {
					if fr.Report.Err != nil {
						out.Error(fmt.Sprintf("%s: %v", fr.File, fr.Report.Err))
					}
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d documents are invalid", invalid, len(reports))
			}
			return nil
		},
	}
}

// NewOrderCmd создаёт команду вывода порядка выполнения шагов.
func NewOrderCmd(optsFn func() (engine.Options, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "order FILE",
		Short: "Print steps in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, dag, err := loadFile(args[0], optsFn)
			if err != nil {
				return err
			}
			out := outputFn()

			headers := []string{"#", "STEP", "LEVEL", "FUNCTION", "DEPENDS_ON"}
			rows := make([][]string, len(dag.Order))
			for i, node := range dag.Order {
				deps := make([]string, len(node.DependsOn))
				for j, dep := range node.DependsOn {
					deps[j] = dep.ID
				}
				rows[i] = []string{
					strconv.Itoa(i + 1),
					node.ID,
					strconv.Itoa(node.Level),
					node.Step.Runtime.Function,
					strings.Join(deps, ","),
				}
			}

			out.Print(headers, rows, map[string]any{
				"workflow": wf.Name,
				"order":    dag.OrderNames(),
				"levels":   dag.LevelNames(),
			})
			return nil
		},
	}
}

// NewGraphCmd создаёт команду вывода графа в формате Graphviz DOT.
func NewGraphCmd(optsFn func() (engine.Options, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "graph FILE",
		Short: "Print the step graph in Graphviz DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, dag, err := loadFile(args[0], optsFn)
			if err != nil {
				return err
			}

			dot := dag.DOT(wf.Name)
			outputFn().Text(dot, map[string]string{"workflow": wf.Name, "dot": dot})
			return nil
		},
	}
}

// NewResolveCmd создаёт команду подстановки результатов во входы шага.
//
// results.json: {"step": {"output": value}}.
func NewResolveCmd(optsFn func() (engine.Options, error), outputFn func() *Output) *cobra.Command {
	var resultsPath string

	cmd := &cobra.Command{
		Use:   "resolve FILE STEP",
		Short: "Resolve step inputs against recorded step results",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, dag, err := loadFile(args[0], optsFn)
			if err != nil {
				return err
			}
			out := outputFn()

			step, ok := wf.StepByName(args[1])
			if !ok {
				return fmt.Errorf("unknown step %q (steps: %s)", args[1], strings.Join(wf.StepNames(), ", "))
			}
			node := dag.GetNode(step.Name)

			results, err := readResults(resultsPath)
			if err != nil {
				return err
			}

			if missing := missingUpstream(dag, node, results); len(missing) > 0 {
				out.Error(fmt.Sprintf("step %s is not ready: no results for %s", node.ID, strings.Join(missing, ", ")))
			}

			resolved, err := engine.ResolveInputs(node.Step, results)
			if err != nil {
				return err
			}

			headers := []string{"INPUT", "TYPE", "SOURCE", "VALUE"}
			rows := make([][]string, len(node.Step.Inputs))
			for i, in := range node.Step.Inputs {
				rows[i] = []string{in.Name, in.Type, valueSource(in.Value), formatValue(resolved[in.Name])}
			}
			out.Print(headers, rows, resolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&resultsPath, "results", "", "JSON file with step results (required)")
	cmd.MarkFlagRequired("results")

	return cmd
}

// loadFile читает, разбирает и валидирует документ.
func loadFile(path string, optsFn func() (engine.Options, error)) (*domain.Workflow, *engine.DAG, error) {
	opts, err := optsFn()
	if err != nil {
		return nil, nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	wf, dag, err := engine.Load(src, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, dag, nil
}

// readResults читает результаты шагов из JSON-файла.
func readResults(path string) (engine.Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	results := make(engine.Results)
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", path, err)
	}
	return results, nil
}

// missingUpstream возвращает шаги выше node, для которых нет результатов.
func missingUpstream(dag *engine.DAG, node *engine.Node, results engine.Results) []string {
	completed := make(map[string]bool, len(results))
	for step := range results {
		completed[step] = true
	}

	for _, ready := range dag.GetReadyNodes(completed, nil) {
		if ready.ID == node.ID {
			return nil
		}
	}

	var missing []string
	for _, name := range dag.Upstream(node.ID) {
		if !completed[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// valueSource описывает, откуда берётся значение входа.
func valueSource(v domain.Value) string {
	switch v := v.(type) {
	case domain.Reference:
		return v.String()
	case domain.Literal:
		return "literal"
	default:
		return "none"
	}
}

// formatValue сериализует значение для таблицы.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
