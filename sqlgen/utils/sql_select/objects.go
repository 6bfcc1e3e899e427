package sql

import (
	"fmt"
	"strconv"
	"strings"
)

type RawObject struct {
	val string
}

func (r *RawObject) String(ctx *Ctx, options ...int) (string, error) {
	return r.val, nil
}

func NewRawObject(val string) *RawObject {
	return &RawObject{
		val: val,
	}
}

type OrderBy struct {
	col       SQLObject
	direction int
}

func (o *OrderBy) String(ctx *Ctx, options ...int) (string, error) {
	order := "DESC"
	if o.direction == ORDER_BY_DIRECTION_ASC {
		order = "ASC"
	}
	str, err := o.col.String(ctx, options...)
	return fmt.Sprintf("%s %s", str, order), err
}

func NewOrderBy(col SQLObject, direction int) *OrderBy {
	return &OrderBy{
		col:       col,
		direction: direction,
	}
}

// With is a named CTE. The body is either a nested ISelect or a prebuilt
// fragment wrapped in a RawObject.
type With struct {
	query SQLObject
	alias string
}

func (w *With) GetQuery() SQLObject {
	return w.query
}

func (w *With) String(ctx *Ctx, options ...int) (string, error) {
	str, err := w.query.String(ctx, options...)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s AS (\n%s\n)", w.alias, strings.TrimSpace(str)), nil
}

func NewWith(query SQLObject, alias string) *With {
	return &With{
		query: query,
		alias: alias,
	}
}

// WithRef names a CTE in a FROM or JOIN. STRING_OPT_INLINE_WITH renders the
// CTE body in place as a subquery.
type WithRef struct {
	ref *With
}

func (w *WithRef) String(ctx *Ctx, options ...int) (string, error) {
	if w.ref.alias == "" {
		return "", fmt.Errorf("alias is empty")
	}
	if !hasOption(options, STRING_OPT_INLINE_WITH) {
		return w.ref.alias, nil
	}
	var opts []int
	for _, opt := range options {
		if opt != WITH_REF_NO_ALIAS {
			opts = append(opts, opt)
		}
	}
	str, err := w.ref.GetQuery().String(ctx, opts...)
	if err != nil {
		return "", err
	}
	res := "(" + str + ")"
	if !hasOption(options, WITH_REF_NO_ALIAS) {
		res += " " + w.ref.alias
	}
	return res, nil
}

func NewWithRef(ref *With) *WithRef {
	return &WithRef{ref: ref}
}

type Join struct {
	tp    string
	table SQLObject
	on    SQLCondition
}

func (l *Join) String(ctx *Ctx, options ...int) (string, error) {
	tbl, err := l.table.String(ctx, options...)
	if err != nil {
		return "", err
	}
	if l.on == nil {
		return tbl, nil
	}
	on, err := l.on.String(ctx, options...)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ON (%s)", tbl, on), nil
}

func NewJoin(tp string, table SQLObject, on SQLCondition) *Join {
	return &Join{
		tp:    tp,
		table: table,
		on:    on,
	}
}

func NewCrossJoin(table SQLObject) *Join {
	return &Join{tp: "CROSS", table: table}
}

type IntVal struct {
	val int64
}

func (i *IntVal) String(ctx *Ctx, options ...int) (string, error) {
	return strconv.FormatInt(i.val, 10), nil
}

func NewIntVal(val int64) *IntVal {
	return &IntVal{
		val: val,
	}
}

type Col struct {
	expr  SQLObject
	alias string
}

func (c *Col) GetExpr() SQLObject {
	return c.expr
}

func (c *Col) GetAlias() string {
	return c.alias
}

func (c *Col) String(ctx *Ctx, options ...int) (string, error) {
	expr, err := c.expr.String(ctx, append(options[:len(options):len(options)], WITH_REF_NO_ALIAS)...)
	if c.alias == "" || c.alias == expr {
		return expr, err
	}
	return fmt.Sprintf("%s AS %s", expr, c.alias), err
}

func NewCol(expr SQLObject, alias string) SQLObject {
	return &Col{
		expr:  expr,
		alias: alias,
	}
}

func NewSimpleCol(name string, alias string) SQLObject {
	return &Col{
		expr:  NewRawObject(name),
		alias: alias,
	}
}

type CustomCol struct {
	stringify func(ctx *Ctx, options ...int) (string, error)
}

func (c *CustomCol) String(ctx *Ctx, options ...int) (string, error) {
	return c.stringify(ctx, options...)
}

func NewCustomCol(fn func(ctx *Ctx, options ...int) (string, error)) SQLObject {
	return &CustomCol{stringify: fn}
}
