package sql

import (
	"fmt"
	"strings"

	grafana_re "github.com/grafana/regexp"
)

type LogicalOp struct {
	fn      string
	clauses []SQLObject
}

func (op *LogicalOp) GetFunction() string {
	return op.fn
}

func (op *LogicalOp) append(clauses ...SQLCondition) {
	for _, v := range clauses {
		op.clauses = append(op.clauses, v)
	}
}

var orRe = grafana_re.MustCompile(`(?i)\sor\s`)

// needsParens reports whether a clause has to be wrapped to keep its
// precedence once joined with op.fn.
func (op *LogicalOp) needsParens(c SQLObject, str string) bool {
	switch c := c.(type) {
	case *LogicalOp:
		return c.fn != op.fn && (c.fn == "AND" || c.fn == "OR")
	case *RawCondition:
		return op.fn == "AND" && orRe.MatchString(str)
	}
	return false
}

func (op *LogicalOp) String(ctx *Ctx, options ...int) (string, error) {
	strClauses := make([]string, 0, len(op.clauses))
	for _, c := range op.clauses {
		s, err := c.String(ctx, options...)
		if err != nil {
			return "", err
		}
		if s == "" {
			continue
		}
		if op.needsParens(c, s) {
			s = "(" + s + ")"
		}
		strClauses = append(strClauses, s)
	}
	sep := " " + op.fn + " "
	if op.fn == "AND" || op.fn == "OR" {
		sep = "\n" + op.fn + " "
	}
	return strings.Join(strClauses, sep), nil
}

func newLogicalOp(fn string, clauses ...SQLCondition) *LogicalOp {
	op := &LogicalOp{fn: fn, clauses: make([]SQLObject, 0, len(clauses))}
	op.append(clauses...)
	return op
}

func And(clauses ...SQLCondition) *LogicalOp {
	return newLogicalOp("AND", clauses...)
}

func Or(clauses ...SQLCondition) *LogicalOp {
	return newLogicalOp("OR", clauses...)
}

// mergeAnd adds clauses to an AND chain, starting one when cond is not
// already an AND.
func mergeAnd(cond SQLCondition, clauses ...SQLCondition) SQLCondition {
	if len(clauses) == 0 {
		return cond
	}
	if cond == nil {
		return And(clauses...)
	}
	if op, ok := cond.(*LogicalOp); ok && op.fn == "AND" {
		op.append(clauses...)
		return op
	}
	return And(append([]SQLCondition{cond}, clauses...)...)
}

// RawCondition is a predicate supplied as SQL text, e.g. a fact table filter.
type RawCondition struct {
	expr string
}

func (r *RawCondition) GetFunction() string {
	return "raw"
}

func (r *RawCondition) String(ctx *Ctx, options ...int) (string, error) {
	return r.expr, nil
}

func NewRawCondition(expr string) SQLCondition {
	return &RawCondition{expr: expr}
}

func FmtRawCondition(tmpl string, args ...any) SQLCondition {
	return &RawCondition{expr: fmt.Sprintf(tmpl, args...)}
}

// RawConditions wraps every predicate string into a RawCondition.
func RawConditions(exprs ...string) []SQLCondition {
	res := make([]SQLCondition, len(exprs))
	for i, e := range exprs {
		res[i] = NewRawCondition(e)
	}
	return res
}
