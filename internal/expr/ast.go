// Package expr parses and evaluates the restricted condition language used
// by workflow condition steps and conditional tool calls.
//
// The grammar is comparisons joined by logical operators over literals and
// dotted variable paths:
//
//	steps.check.result.count >= 3 && (status == "ok" || !retry)
//
// Evaluation is a pure walk of the tree; nothing in an expression can run
// code or reach outside the environment map it is given.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is an expression tree node: *Literal, *Variable, *Comparison,
// *Logical or *Not.
type Node interface {
	fmt.Stringer
	node()
}

// Literal is a constant: float64, string, bool or nil.
type Literal struct {
	Value any
}

// Variable is a dotted path into the environment.
type Variable struct {
	Path []string
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Comparison compares two operands.
type Comparison struct {
	Op          CompareOp
	Left, Right Node
}

// LogicalOp is a binary logical operator.
type LogicalOp string

const (
	OpAnd LogicalOp = "&&"
	OpOr  LogicalOp = "||"
)

// Logical combines two operands. Evaluation short-circuits.
type Logical struct {
	Op          LogicalOp
	Left, Right Node
}

// Not negates its operand.
type Not struct {
	Operand Node
}

func (*Literal) node()    {}
func (*Variable) node()   {}
func (*Comparison) node() {}
func (*Logical) node()    {}
func (*Not) node()        {}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (v *Variable) String() string { return strings.Join(v.Path, ".") }

func (c *Comparison) String() string {
	return "(" + c.Left.String() + " " + string(c.Op) + " " + c.Right.String() + ")"
}

func (l *Logical) String() string {
	return "(" + l.Left.String() + " " + string(l.Op) + " " + l.Right.String() + ")"
}

func (n *Not) String() string { return "!" + n.Operand.String() }
