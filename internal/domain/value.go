package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Input — вход шага.
//
// Значение — ровно один из вариантов: Literal, Reference или Absent.
type Input struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value Value  `json:"-"`
	Line  int    `json:"-"`
}

// Value — значение входа (sum type).
type Value interface {
	// ValueKind возвращает вид значения.
	ValueKind() ValueKind

	// String возвращает значение в нотации документа.
	String() string
}

// ValueKind — вид значения входа.
type ValueKind string

const (
	ValueLiteral   ValueKind = "literal"
	ValueReference ValueKind = "reference"
	ValueAbsent    ValueKind = "absent"
)

// LiteralKind — тип скалярного литерала.
type LiteralKind string

const (
	LiteralString LiteralKind = "string"
	LiteralInt    LiteralKind = "int"
	LiteralFloat  LiteralKind = "float"
	LiteralBool   LiteralKind = "bool"
)

// Literal — скалярное значение, заданное прямо в документе.
type Literal struct {
	Kind LiteralKind
	Raw  string
}

// ValueKind реализует Value.
func (Literal) ValueKind() ValueKind { return ValueLiteral }

// String реализует Value.
func (l Literal) String() string { return l.Raw }

// Interface возвращает значение литерала как Go-значение.
func (l Literal) Interface() any {
	switch l.Kind {
	case LiteralInt:
		if n, err := strconv.ParseInt(l.Raw, 0, 64); err == nil {
			return n
		}
	case LiteralFloat:
		if f, err := strconv.ParseFloat(l.Raw, 64); err == nil {
			return f
		}
	case LiteralBool:
		if b, err := strconv.ParseBool(l.Raw); err == nil {
			return b
		}
	}
	return l.Raw
}

// Reference — ссылка на выход другого шага: ((step.output)).
type Reference struct {
	Step   string
	Output string
}

// ValueKind реализует Value.
func (Reference) ValueKind() ValueKind { return ValueReference }

// String реализует Value.
func (r Reference) String() string {
	return fmt.Sprintf("((%s.%s))", r.Step, r.Output)
}

// MarshalJSON сериализует ссылку в нотации документа.
func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Absent — явно отсутствующее значение (null или "None").
type Absent struct{}

// ValueKind реализует Value.
func (Absent) ValueKind() ValueKind { return ValueAbsent }

// String реализует Value.
func (Absent) String() string { return "None" }

// inputJSON — представление Input в JSON.
type inputJSON struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Kind      ValueKind `json:"kind"`
	Value     any       `json:"value,omitempty"`
	Reference string    `json:"reference,omitempty"`
}

// MarshalJSON сериализует вход с явным видом значения.
func (in Input) MarshalJSON() ([]byte, error) {
	out := inputJSON{Name: in.Name, Type: in.Type, Kind: ValueAbsent}

	switch v := in.Value.(type) {
	case Literal:
		out.Kind = ValueLiteral
		out.Value = v.Interface()
	case Reference:
		out.Kind = ValueReference
		out.Reference = v.String()
	}

	return json.Marshal(out)
}
