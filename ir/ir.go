// Package ir implements the Core IR wire format (§6): a JSON-serialised AST
// for the small functional/imperative language the evaluator collaborator
// executes. The scheduler itself never looks inside these types — Evaluator
// implementations (see package eval) are the only consumers — but the
// format is part of this module's external interface, so it is decoded
// here rather than left to every collaborator to reinvent.
//
// Every tagged union (Decl, Type, Expr, Stmt, Pattern) follows the same
// shape: a JSON object with a literal "kind" string discriminator and
// kind-specific fields alongside it. Tag names and field layouts are
// normative per §6.
package ir

import (
	"encoding/json"
	"fmt"
)

// Module is the top-level unit: a name and an ordered list of declarations.
type Module struct {
	Name  string `json:"name"`
	Decls []Decl `json:"decls"`
}

// ParseModule decodes a Core IR module from its JSON wire form.
func ParseModule(data []byte) (*Module, error) {
	var raw struct {
		Name  string            `json:"name"`
		Decls []json.RawMessage `json:"decls"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ir: decode module: %w", err)
	}
	m := &Module{Name: raw.Name, Decls: make([]Decl, 0, len(raw.Decls))}
	for i, rd := range raw.Decls {
		d, err := decodeDecl(rd)
		if err != nil {
			return nil, fmt.Errorf("ir: decl %d: %w", i, err)
		}
		m.Decls = append(m.Decls, d)
	}
	return m, nil
}

// kindEnvelope is shared by every tagged union for the first decode pass.
type kindEnvelope struct {
	Kind string `json:"kind"`
}

func kindOf(data []byte) (string, error) {
	var env kindEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Kind == "" {
		return "", fmt.Errorf("missing \"kind\" field")
	}
	return env.Kind, nil
}

// --- Decl -------------------------------------------------------------

// Decl is one top-level declaration: Import, Func, Enum or Data (§6).
type Decl interface {
	declKind() string
}

// ImportDecl brings another module's declarations into scope.
type ImportDecl struct {
	Path  string `json:"path"`
	Alias string `json:"alias,omitempty"`
}

func (ImportDecl) declKind() string { return "Import" }

// FuncDecl declares a named function over Core IR statements.
type FuncDecl struct {
	Name    string   `json:"name"`
	Params  []Param  `json:"params"`
	Ret     Type     `json:"ret,omitempty"`
	Body    []Stmt   `json:"body"`
	Workflow bool    `json:"workflow,omitempty"`
}

func (FuncDecl) declKind() string { return "Func" }

// Param is one function parameter.
type Param struct {
	Name string `json:"name"`
	Type Type   `json:"type,omitempty"`
}

// UnmarshalJSON decodes a Param, dispatching its optional tagged "type"
// object through decodeType.
func (p *Param) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string          `json:"name"`
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Param{Name: raw.Name}
	if len(raw.Type) == 0 || string(raw.Type) == "null" {
		return nil
	}
	t, err := decodeType(raw.Type)
	p.Type = t
	return err
}

// EnumDecl declares a sum type as a set of named variants, each with an
// optional payload field list.
type EnumDecl struct {
	Name     string          `json:"name"`
	Variants []EnumVariant   `json:"variants"`
}

func (EnumDecl) declKind() string { return "Enum" }

// EnumVariant is one constructor of an EnumDecl.
type EnumVariant struct {
	Name   string  `json:"name"`
	Fields []Param `json:"fields,omitempty"`
}

// DataDecl declares a product type (record) as a named field list.
type DataDecl struct {
	Name   string  `json:"name"`
	Fields []Param `json:"fields"`
}

func (DataDecl) declKind() string { return "Data" }

func decodeDecl(data json.RawMessage) (Decl, error) {
	kind, err := kindOf(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Import":
		var d ImportDecl
		return d, unmarshalInto(data, &d)
	case "Func":
		var raw struct {
			Name     string            `json:"name"`
			Params   []Param           `json:"params"`
			Ret      json.RawMessage   `json:"ret"`
			Body     []json.RawMessage `json:"body"`
			Workflow bool              `json:"workflow"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		d := FuncDecl{Name: raw.Name, Params: raw.Params, Workflow: raw.Workflow}
		if len(raw.Ret) > 0 {
			t, err := decodeType(raw.Ret)
			if err != nil {
				return nil, err
			}
			d.Ret = t
		}
		for i, rs := range raw.Body {
			s, err := decodeStmt(rs)
			if err != nil {
				return nil, fmt.Errorf("func %s: stmt %d: %w", d.Name, i, err)
			}
			d.Body = append(d.Body, s)
		}
		return d, nil
	case "Enum":
		var d EnumDecl
		return d, unmarshalInto(data, &d)
	case "Data":
		var d DataDecl
		return d, unmarshalInto(data, &d)
	default:
		return nil, fmt.Errorf("unknown decl kind %q", kind)
	}
}

func unmarshalInto(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// --- Type ---------------------------------------------------------------

// Type is a Core IR type reference.
type Type interface {
	typeKind() string
}

// NamedType is a reference to a declared or builtin type by name
// (Int, Bool, String, or a user Enum/Data name).
type NamedType struct {
	Name string `json:"name"`
}

func (NamedType) typeKind() string { return "Named" }

// ListType is a homogeneous list type.
type ListType struct {
	Elem Type `json:"elem"`
}

func (ListType) typeKind() string { return "List" }

// FuncType is a function type.
type FuncType struct {
	Params []Type `json:"params"`
	Ret    Type   `json:"ret"`
}

func (FuncType) typeKind() string { return "Func" }

func decodeType(data json.RawMessage) (Type, error) {
	kind, err := kindOf(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Named":
		var t NamedType
		return t, unmarshalInto(data, &t)
	case "List":
		var raw struct {
			Elem json.RawMessage `json:"elem"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		elem, err := decodeType(raw.Elem)
		if err != nil {
			return nil, err
		}
		return ListType{Elem: elem}, nil
	case "Func":
		var raw struct {
			Params []json.RawMessage `json:"params"`
			Ret    json.RawMessage   `json:"ret"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		ft := FuncType{}
		for _, rp := range raw.Params {
			pt, err := decodeType(rp)
			if err != nil {
				return nil, err
			}
			ft.Params = append(ft.Params, pt)
		}
		ret, err := decodeType(raw.Ret)
		if err != nil {
			return nil, err
		}
		ft.Ret = ret
		return ft, nil
	default:
		return nil, fmt.Errorf("unknown type kind %q", kind)
	}
}
