package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Stepgraph/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Step — определение шага из Workflow.
	Step *domain.Step

	// ID — имя шага.
	ID string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// Level — длина самого длинного пути от корня (корни — 0).
	// Шаги одного уровня не зависят друг от друга.
	Level int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф шагов workflow.
type DAG struct {
	// Nodes — все узлы графа (имя шага → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей в порядке объявления.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node

	// Levels — узлы, сгруппированные по Level.
	Levels [][]*Node

	// declared — узлы в порядке объявления шагов.
	declared []*Node
}

// BuildDAG строит DAG из Workflow.
//
// Рёбра берутся из passed, а при PolicyImplicit — ещё и из ссылок ((step.output)).
// Порядок детерминирован: при равенстве побеждает порядок объявления шагов.
// Ошибки (неизвестный шаг, цикл) возвращаются как *ValidationError.
func BuildDAG(wf *domain.Workflow, opts Options) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if _, exists := dag.Nodes[step.Name]; exists {
			return nil, &ValidationError{Workflow: wf.Name, Violations: []Violation{{
				Kind:    KindDuplicateStep,
				Step:    step.Name,
				Message: fmt.Sprintf("duplicate step name %q", step.Name),
				Line:    step.Line,
			}}}
		}
		node := &Node{
			Step:       step,
			ID:         step.Name,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
		dag.Nodes[step.Name] = node
		dag.declared = append(dag.declared, node)
	}

	// Второй проход: связываем узлы по зависимостям
	var violations []Violation
	for _, node := range dag.declared {
		for _, dep := range dependencies(node.Step, opts.Policy) {
			depNode, exists := dag.Nodes[dep]
			if !exists {
				violations = append(violations, Violation{
					Kind:    KindUnknownStep,
					Step:    node.ID,
					Field:   "passed",
					Message: fmt.Sprintf("depends on unknown step %q", dep),
					Line:    node.Step.Line,
				})
				continue
			}
			if depNode == node {
				violations = append(violations, Violation{
					Kind:    KindSelfDependency,
					Step:    node.ID,
					Field:   "passed",
					Message: "step depends on itself",
					Line:    node.Step.Line,
				})
				continue
			}
			dag.addEdge(depNode, node)
		}
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Workflow: wf.Name, Violations: violations}
	}

	dag.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := dag.topologicalSort()
	if err != nil {
		return nil, &ValidationError{Workflow: wf.Name, Violations: dag.cycleViolations()}
	}
	dag.Order = order
	dag.buildLevels()

	return dag, nil
}

// dependencies возвращает имена шагов, от которых зависит step.
func dependencies(step *domain.Step, policy ReferencePolicy) []string {
	deps := make([]string, 0, len(step.Passed))
	seen := make(map[string]bool)

	for _, name := range step.Passed {
		if !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}

	if policy == PolicyImplicit {
		for _, ref := range step.References() {
			if ref.Step != step.Name && !seen[ref.Step] {
				seen[ref.Step] = true
				deps = append(deps, ref.Step)
			}
		}
	}

	return deps
}

// addEdge добавляет ребро между узлами.
// Дополнительно проверяет на дубликаты, чтобы избежать двойного учета InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.declared {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

// buildLevels вычисляет Level каждого узла и группирует узлы по уровням.
func (d *DAG) buildLevels() {
	d.Levels = make([][]*Node, 0)

	for _, node := range d.Order {
		node.Level = 0
		for _, dep := range node.DependsOn {
			if dep.Level+1 > node.Level {
				node.Level = dep.Level + 1
			}
		}
		for len(d.Levels) <= node.Level {
			d.Levels = append(d.Levels, make([]*Node, 0))
		}
		d.Levels[node.Level] = append(d.Levels[node.Level], node)
	}
}

// cycleViolations превращает найденные циклы в нарушения.
func (d *DAG) cycleViolations() []Violation {
	edges := make(map[string][]string, len(d.Nodes))
	names := make([]string, 0, len(d.declared))
	for _, node := range d.declared {
		names = append(names, node.ID)
		for _, dep := range node.DependsOn {
			edges[node.ID] = append(edges[node.ID], dep.ID)
		}
	}

	cycles := findCycles(names, edges)
	violations := make([]Violation, 0, len(cycles))
	for _, cycle := range cycles {
		violations = append(violations, newCycleViolation(cycle, d.Nodes[cycle[0]].Step.Line))
	}
	return violations
}

// newCycleViolation создаёт нарушение для цикла a → b → a.
func newCycleViolation(cycle []string, line int) Violation {
	path := append(append([]string{}, cycle...), cycle[0])
	return Violation{
		Kind:    KindCycle,
		Step:    cycle[0],
		Field:   "passed",
		Message: "cyclic dependency: " + strings.Join(path, " -> "),
		Line:    line,
		Cycle:   cycle,
	}
}

// findCycles ищет циклы обходом в глубину (три цвета).
//
// edges[a] — шаги, от которых зависит a. Каждый цикл возвращается один раз,
// повёрнутый так, чтобы начинаться с наименьшего имени.
func findCycles(names []string, edges map[string][]string) [][]string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(names))
	stack := make([]string, 0)
	seen := make(map[string]bool)
	cycles := make([][]string, 0)

	var visit func(name string)
	visit = func(name string) {
		color[name] = grey
		stack = append(stack, name)

		for _, next := range edges[name] {
			switch color[next] {
			case white:
				visit(next)
			case grey:
				// Ребро назад: всё от next до вершины стека — цикл.
				start := len(stack) - 1
				for start >= 0 && stack[start] != next {
					start--
				}
				cycle := normalizeCycle(stack[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, name := range names {
		if color[name] == white {
			visit(name)
		}
	}

	return cycles
}

// normalizeCycle поворачивает цикл к наименьшему имени.
// Путь зависимостей (a зависит от b) переворачивается в порядок выполнения.
func normalizeCycle(path []string) []string {
	cycle := make([]string, len(path))
	for i, name := range path {
		cycle[len(path)-1-i] = name
	}

	minIdx := 0
	for i := range cycle {
		if cycle[i] < cycle[minIdx] {
			minIdx = i
		}
	}
	return append(cycle[minIdx:], cycle[:minIdx]...)
}

// GetReadyNodes возвращает узлы, готовые к выполнению.
//
// Узел готов, если:
// - Все его зависимости завершены (в completed)
// - Сам узел ещё не завершён и не в процессе (не в completed и не в running)
//
// Stepgraph шаги не выполняет; метод нужен внешнему оркестратору.
func (d *DAG) GetReadyNodes(completed, running map[string]bool) []*Node {
	ready := make([]*Node, 0)

	for _, node := range d.Order {
		if completed[node.ID] || running[node.ID] {
			continue
		}

		allDepsCompleted := true
		for _, dep := range node.DependsOn {
			if !completed[dep.ID] {
				allDepsCompleted = false
				break
			}
		}

		if allDepsCompleted {
			ready = append(ready, node)
		}
	}

	return ready
}

// GetNode возвращает узел по имени шага.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// IsComplete проверяет, все ли узлы завершены.
func (d *DAG) IsComplete(completed map[string]bool) bool {
	for _, node := range d.Nodes {
		if !completed[node.ID] {
			return false
		}
	}
	return true
}

// OrderNames возвращает имена шагов в топологическом порядке.
func (d *DAG) OrderNames() []string {
	names := make([]string, len(d.Order))
	for i, node := range d.Order {
		names[i] = node.ID
	}
	return names
}

// LevelNames возвращает имена шагов по уровням.
func (d *DAG) LevelNames() [][]string {
	levels := make([][]string, len(d.Levels))
	for i, level := range d.Levels {
		levels[i] = make([]string, len(level))
		for j, node := range level {
			levels[i][j] = node.ID
		}
	}
	return levels
}

// Upstream возвращает все шаги, от которых транзитивно зависит id (отсортированы).
func (d *DAG) Upstream(id string) []string {
	node := d.Nodes[id]
	if node == nil {
		return nil
	}

	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, dep := range n.DependsOn {
			if !seen[dep.ID] {
				seen[dep.ID] = true
				walk(dep)
			}
		}
	}
	walk(node)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DOT возвращает граф в формате Graphviz.
func (d *DAG) DOT(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", name)
	b.WriteString("  rankdir=LR;\n")
	for _, node := range d.Order {
		if node.Step != nil && node.Step.Runtime.Function != "" {
			fmt.Fprintf(&b, "  %q [label=\"%s\\n%s\"];\n", node.ID, node.ID, node.Step.Runtime.Function)
			continue
		}
		fmt.Fprintf(&b, "  %q;\n", node.ID)
	}
	for _, node := range d.Order {
		for _, dependent := range node.Dependents {
			fmt.Fprintf(&b, "  %q -> %q;\n", node.ID, dependent.ID)
		}
	}
	b.WriteString("}\n")
	return b.String()
}
