package sql

// Render options understood by String.
const (
	STRING_OPT_SKIP_WITH    = 1
	STRING_OPT_INLINE_WITH  = 2
	ORDER_BY_DIRECTION_ASC  = 3
	ORDER_BY_DIRECTION_DESC = 4
	WITH_REF_NO_ALIAS       = 5
)

type SQLObject interface {
	String(ctx *Ctx, options ...int) (string, error)
}

type SQLCondition interface {
	SQLObject
	GetFunction() string
}

// Ctx is threaded through one render. CTE names are fixed by the planners,
// so it only counts rendered objects for diagnostics.
type Ctx struct {
	Rendered int
}

func NewCtx() *Ctx {
	return &Ctx{}
}

type ISelect interface {
	SQLObject
	Comment(comment string) ISelect
	Select(cols ...SQLObject) ISelect
	AddSelect(cols ...SQLObject) ISelect
	From(table SQLObject) ISelect
	AndWhere(clauses ...SQLCondition) ISelect
	GroupBy(fields ...SQLObject) ISelect
	OrderBy(fields ...SQLObject) ISelect
	Limit(limit SQLObject) ISelect
	Top(limit SQLObject) ISelect
	With(withs ...*With) ISelect
	AddWith(withs ...*With) ISelect
	GetWith() []*With
	Join(joins ...*Join) ISelect
	AddJoin(joins ...*Join) ISelect
	UnionAll(selects ...ISelect) ISelect
}

type Aliased interface {
	SQLObject
	GetExpr() SQLObject
	GetAlias() string
}
