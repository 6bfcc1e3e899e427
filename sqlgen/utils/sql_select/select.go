package sql

import (
	"fmt"
	"strings"
)

type Select struct {
	comment  string
	columns  []SQLObject
	from     SQLObject
	where    SQLCondition
	groupBy  []SQLObject
	orderBy  []SQLObject
	limit    SQLObject
	top      SQLObject
	withs    []*With
	joins    []*Join
	unions   []ISelect
	raw      string
}

func NewSelect() ISelect {
	return &Select{}
}

// NewRawSelect wraps a statement that was built as text. Only the WITH
// list of the result is rendered from the IR.
func NewRawSelect(body string) ISelect {
	return &Select{raw: body}
}

func (s *Select) Comment(comment string) ISelect {
	s.comment = comment
	return s
}

func (s *Select) Select(cols ...SQLObject) ISelect {
	s.columns = cols
	return s
}

func (s *Select) AddSelect(cols ...SQLObject) ISelect {
	s.columns = append(s.columns, cols...)
	return s
}

func (s *Select) From(table SQLObject) ISelect {
	s.from = table
	return s
}

func (s *Select) AndWhere(clauses ...SQLCondition) ISelect {
	s.where = mergeAnd(s.where, clauses...)
	return s
}

func (s *Select) GroupBy(fields ...SQLObject) ISelect {
	s.groupBy = fields
	return s
}

func (s *Select) OrderBy(fields ...SQLObject) ISelect {
	s.orderBy = fields
	return s
}

func (s *Select) Limit(limit SQLObject) ISelect {
	s.limit = limit
	return s
}

// Top caps the rows as SELECT TOP n for engines without LIMIT.
func (s *Select) Top(limit SQLObject) ISelect {
	s.top = limit
	return s
}

// With replaces the CTE list.
func (s *Select) With(withs ...*With) ISelect {
	s.withs = []*With{}
	return s.AddWith(withs...)
}

// AddWith appends CTEs unless their alias is already present. The CTEs of a
// nested select are hoisted in front of it.
func (s *Select) AddWith(withs ...*With) ISelect {
	for _, w := range withs {
		if s.hasWith(w.alias) {
			continue
		}
		if sel, ok := w.GetQuery().(ISelect); ok {
			s.AddWith(sel.GetWith()...)
		}
		s.withs = append(s.withs, w)
	}
	return s
}

func (s *Select) hasWith(alias string) bool {
	for _, w := range s.withs {
		if w.alias == alias {
			return true
		}
	}
	return false
}

func (s *Select) GetWith() []*With {
	return append([]*With(nil), s.withs...)
}

func (s *Select) Join(joins ...*Join) ISelect {
	s.joins = joins
	return s
}

func (s *Select) AddJoin(joins ...*Join) ISelect {
	s.joins = append(s.joins, joins...)
	return s
}

func (s *Select) UnionAll(selects ...ISelect) ISelect {
	s.unions = append(s.unions, selects...)
	return s
}

func joinObjects(ctx *Ctx, objs []SQLObject, sep string, options ...int) (string, error) {
	parts := make([]string, len(objs))
	for i, o := range objs {
		str, err := o.String(ctx, options...)
		if err != nil {
			return "", err
		}
		parts[i] = str
	}
	return strings.Join(parts, sep), nil
}

func hasOption(options []int, opts ...int) bool {
	for _, o := range options {
		for _, opt := range opts {
			if o == opt {
				return true
			}
		}
	}
	return false
}

func (s *Select) String(ctx *Ctx, options ...int) (string, error) {
	ctx.Rendered++
	res := strings.Builder{}
	if s.comment != "" {
		res.WriteString("-- " + s.comment + "\n")
	}
	nested := append(options[:len(options):len(options)], STRING_OPT_SKIP_WITH)
	if len(s.withs) > 0 && !hasOption(options, STRING_OPT_SKIP_WITH, STRING_OPT_INLINE_WITH) {
		res.WriteString("WITH\n")
		for i, w := range s.withs {
			str, err := w.String(ctx, nested...)
			if err != nil {
				return "", err
			}
			if i != 0 {
				res.WriteString(",\n")
			}
			res.WriteString(str)
		}
		res.WriteString("\n")
	}
	if s.raw != "" {
		res.WriteString(s.raw)
		return res.String(), nil
	}
	if len(s.columns) == 0 {
		return "", fmt.Errorf("no 'SELECT' part")
	}

	clause := func(prefix string, obj SQLObject) error {
		if obj == nil {
			return nil
		}
		str, err := obj.String(ctx, options...)
		if err != nil || str == "" {
			return err
		}
		res.WriteString(prefix + str)
		return nil
	}
	list := func(prefix string, objs []SQLObject, sep string) error {
		if len(objs) == 0 {
			return nil
		}
		str, err := joinObjects(ctx, objs, sep, options...)
		if err != nil {
			return err
		}
		res.WriteString(prefix + str)
		return nil
	}

	res.WriteString("SELECT")
	if err := clause(" TOP ", s.top); err != nil {
		return "", err
	}
	if err := list("\n", s.columns, ",\n"); err != nil {
		return "", err
	}
	if s.from != nil {
		if err := clause("\nFROM ", s.from); err != nil {
			return "", err
		}
		for _, j := range s.joins {
			prefix := "\nJOIN "
			if j.tp != "" {
				prefix = "\n" + j.tp + " JOIN "
			}
			if err := clause(prefix, j); err != nil {
				return "", err
			}
		}
	}
	for _, err := range []error{
		clause("\nWHERE ", s.where),
		list("\nGROUP BY ", s.groupBy, ", "),
		list("\nORDER BY ", s.orderBy, ", "),
		clause("\nLIMIT ", s.limit),
	} {
		if err != nil {
			return "", err
		}
	}
	for _, u := range s.unions {
		str, err := u.String(ctx, nested...)
		if err != nil {
			return "", err
		}
		res.WriteString("\nUNION ALL\n" + str)
	}
	return res.String(), nil
}
