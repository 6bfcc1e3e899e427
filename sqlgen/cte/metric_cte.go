package cte

import (
	"fmt"
	"strings"
	"time"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

type MetricCTEParams struct {
	Metric         model.Metric
	BaseIDType     string
	IDJoinMap      model.IdentityJoinMap
	StartDate      time.Time
	EndDate        *time.Time
	ExperimentID   string
	Phase          *template.Phase
	CustomFields   map[string]any
	FactTables     model.FactTableMap
	UseDenominator bool
}

func (p *MetricCTEParams) templateVars() template.Variables {
	vars := template.Variables{
		StartDate:         p.StartDate,
		ExperimentID:      p.ExperimentID,
		Phase:             p.Phase,
		CustomFields:      p.CustomFields,
		TemplateVariables: model.TemplateVariables(p.Metric, p.FactTables, p.UseDenominator),
	}
	if p.EndDate != nil {
		vars.EndDate = *p.EndDate
	}
	return vars
}

// BuildMetricCTE renders the (user id, value, timestamp) rows of one metric.
func BuildMetricCTE(d dialect.Dialect, p MetricCTEParams) (string, error) {
	cols, err := GetMetricColumns(d, p.Metric, p.FactTables, "m", p.UseDenominator)
	if err != nil {
		return "", err
	}
	userIDTypes := model.UserIDTypes(p.Metric, p.FactTables, p.UseDenominator)
	userIDCol, join := IdentityJoin(userIDTypes, p.BaseIDType, p.IDJoinMap, cols.UserIDs)

	from, where, err := metricSource(d, p)
	if err != nil {
		return "", err
	}

	sel := sql.NewSelect().
		Comment(fmt.Sprintf("Metric (%s)", p.Metric.GetName())).
		Select(
			sql.NewSimpleCol(userIDCol, p.BaseIDType),
			sql.NewSimpleCol(cols.Value, "value"),
			sql.NewSimpleCol(d.CastUserDateCol(cols.Timestamp), "timestamp"),
		).
		From(from).
		AndWhere(sql.RawConditions(where...)...).
		AndWhere(dateBounds(d, cols.Timestamp, p.StartDate, p.EndDate)...)
	if join != nil {
		sel.AddJoin(join)
	}
	str, err := sel.String(sql.NewCtx())
	if err != nil {
		return "", err
	}
	return template.Compile(str, p.templateVars())
}

// metricSource returns the FROM object and the metric's own predicates.
func metricSource(d dialect.Dialect, p MetricCTEParams) (sql.SQLObject, []string, error) {
	switch m := p.Metric.(type) {
	case *model.FactMetric:
		ref := m.ColumnRef(p.UseDenominator)
		ft, ok := p.FactTables.Get(ref.FactTableID)
		if !ok {
			return nil, nil, custom_errors.NewConfigError("Could not find fact table %s", ref.FactTableID)
		}
		where, err := ColumnRefWhereClause(d, ft, ref)
		return subquery(ft.SQL, "m"), where, err
	case *model.LegacyMetric:
		if m.QueryFormat == model.QueryFormatBuilder {
			where := make([]string, len(m.Conditions))
			for i, c := range m.Conditions {
				where[i] = fmt.Sprintf("m.%s %s '%s'", c.Column, c.Operator, d.EscapeStringLiteral(c.Value))
			}
			return sql.NewRawObject(m.Table + " m"), where, nil
		}
		if strings.TrimSpace(m.SQL) == "" {
			return nil, nil, custom_errors.NewConfigError("Metric %s is missing SQL", m.ID)
		}
		return subquery(m.SQL, "m"), nil, nil
	}
	return nil, nil, custom_errors.NewConfigError("unsupported metric type %T", p.Metric)
}

func subquery(query string, alias string) sql.SQLObject {
	return sql.NewRawObject(fmt.Sprintf("(\n%s\n) %s", strings.TrimSpace(query), alias))
}

func dateBounds(d dialect.Dialect, col string, start time.Time, end *time.Time) []sql.SQLCondition {
	res := []sql.SQLCondition{sql.FmtRawCondition("%s >= %s", col, d.ToTimestamp(start))}
	if end != nil {
		res = append(res, sql.FmtRawCondition("%s <= %s", col, d.ToTimestamp(*end)))
	}
	return res
}
