// Package condition provides the expression evaluator used by workflow step
// conditions, stop conditions and stage-mapping predicates. Expressions are
// data, not code: a single binary comparison between a dotted entity path and
// a literal, e.g. `estimate.status == 'Sold'`.
//
// Expressions are parsed once into a typed AST at workflow-definition load
// time. Evaluation always performs a fresh entity read. Any parse error,
// lookup failure or type mismatch resolves to false: conditions gate
// side-effecting actions and must fail closed.
package condition

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a binary comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGte Op = ">="
	OpLte Op = "<="
)

// Literal is a parsed right-hand side value.
type Literal struct {
	Str    string
	Num    float64
	Bool   bool
	IsStr  bool
	IsNum  bool
	IsBool bool
}

// Condition is a parsed expression: `path op literal`.
type Condition struct {
	Raw     string
	Path    []string // dotted segments, e.g. ["estimate", "status"]
	Op      Op
	Literal Literal
}

var pathPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+$`)

// operators ordered so two-character operators match before their prefixes.
var operators = []Op{OpGte, OpLte, OpEq, OpNeq, OpGt, OpLt}

// Parse parses an expression string into a Condition.
func Parse(expr string) (Condition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Condition{}, fmt.Errorf("empty expression")
	}

	var op Op
	var idx int = -1
	for _, candidate := range operators {
		if i := strings.Index(trimmed, string(candidate)); i > 0 {
			op = candidate
			idx = i
			break
		}
	}
	if idx < 0 {
		return Condition{}, fmt.Errorf("no comparison operator in %q", expr)
	}

	left := strings.TrimSpace(trimmed[:idx])
	right := strings.TrimSpace(trimmed[idx+len(op):])

	if !pathPattern.MatchString(left) {
		return Condition{}, fmt.Errorf("invalid path %q", left)
	}

	lit, err := parseLiteral(right)
	if err != nil {
		return Condition{}, err
	}

	return Condition{
		Raw:     trimmed,
		Path:    strings.Split(left, "."),
		Op:      op,
		Literal: lit,
	}, nil
}

func parseLiteral(raw string) (Literal, error) {
	if raw == "" {
		return Literal{}, fmt.Errorf("missing literal")
	}

	if len(raw) >= 2 {
		if (raw[0] == '\'' && raw[len(raw)-1] == '\'') || (raw[0] == '"' && raw[len(raw)-1] == '"') {
			return Literal{Str: raw[1 : len(raw)-1], IsStr: true}, nil
		}
	}

	switch strings.ToLower(raw) {
	case "true":
		return Literal{Bool: true, IsBool: true}, nil
	case "false":
		return Literal{Bool: false, IsBool: true}, nil
	}

	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return Literal{Num: n, IsNum: true}, nil
	}

	return Literal{}, fmt.Errorf("unparseable literal %q", raw)
}

// StateReader provides the current state of an entity and its customer as a
// nested lookup map. Satisfied by entities.Repository.
type StateReader interface {
	EntityState(ctx context.Context, entityType string, entityID int64) (map[string]map[string]any, error)
}

// Evaluate resolves the condition against the entity's current state.
// Returns false on any lookup failure or type mismatch, never an error.
func (c Condition) Evaluate(ctx context.Context, reader StateReader, entityType string, entityID int64) bool {
	if len(c.Path) < 2 || reader == nil {
		return false
	}

	state, err := reader.EntityState(ctx, entityType, entityID)
	if err != nil {
		return false
	}

	section, ok := state[c.Path[0]]
	if !ok {
		return false
	}
	value, ok := section[c.Path[1]]
	if !ok {
		return false
	}

	return compare(value, c.Op, c.Literal)
}

func compare(value any, op Op, lit Literal) bool {
	switch {
	case lit.IsStr:
		s, ok := value.(string)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return s == lit.Str
		case OpNeq:
			return s != lit.Str
		default:
			// Ordering comparisons on strings are not meaningful for status
			// values; fail closed.
			return false
		}
	case lit.IsBool:
		b, ok := value.(bool)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return b == lit.Bool
		case OpNeq:
			return b != lit.Bool
		default:
			return false
		}
	case lit.IsNum:
		n, ok := toFloat(value)
		if !ok {
			return false
		}
		switch op {
		case OpEq:
			return n == lit.Num
		case OpNeq:
			return n != lit.Num
		case OpGt:
			return n > lit.Num
		case OpLt:
			return n < lit.Num
		case OpGte:
			return n >= lit.Num
		case OpLte:
			return n <= lit.Num
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// ParseAll parses a list of expressions, skipping unparseable entries. The
// returned slice holds only valid conditions; the second value reports the
// raw expressions that failed to parse.
func ParseAll(exprs []string) ([]Condition, []string) {
	conds := make([]Condition, 0, len(exprs))
	var bad []string
	for _, expr := range exprs {
		cond, err := Parse(expr)
		if err != nil {
			bad = append(bad, expr)
			continue
		}
		conds = append(conds, cond)
	}
	return conds, bad
}
