package cte

import (
	"fmt"
	"time"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

type FactMetricCTEParams struct {
	// Metrics keep their position: metric i renders m<i>_value even when
	// earlier metrics belong to another fact table.
	Metrics      []*model.FactMetric
	FactTable    *model.FactTable
	BaseIDType   string
	IDJoinMap    model.IdentityJoinMap
	StartDate    time.Time
	EndDate      *time.Time
	ExperimentID string
	Phase        *template.Phase
	CustomFields map[string]any
	// AddFiltersToWhere pushes the OR of all metric filters into WHERE, but
	// only when every contributing column is filtered.
	AddFiltersToWhere bool
}

type factMetricColumn struct {
	alias   string
	value   string
	filters []string
}

// BuildFactMetricCTE reads one fact table once for a batch of metrics.
func BuildFactMetricCTE(d dialect.Dialect, p FactMetricCTEParams) (string, error) {
	ft := p.FactTable
	if ft == nil {
		return "", custom_errors.NewConfigError("Could not find fact table")
	}
	factTables := model.NewFactTableMap(ft)
	userIDCols := make(map[string]string, len(ft.UserIDTypes))
	for _, idType := range ft.UserIDTypes {
		userIDCols[idType] = "m." + idType
	}
	userIDCol, join := IdentityJoin(ft.UserIDTypes, p.BaseIDType, p.IDJoinMap, userIDCols)

	columns, err := batchColumns(d, p.Metrics, ft, factTables)
	if err != nil {
		return "", err
	}

	sel := sql.NewSelect().
		Select(
			sql.NewSimpleCol(userIDCol, p.BaseIDType),
			sql.NewSimpleCol(d.CastUserDateCol("m.timestamp"), "timestamp"),
		).
		From(subquery(ft.SQL, "m")).
		AndWhere(dateBounds(d, "m.timestamp", p.StartDate, p.EndDate)...)
	if join != nil {
		sel.AddJoin(join)
	}

	allFiltered := len(columns) > 0
	var filterSets []sql.SQLCondition
	for _, c := range columns {
		if len(c.filters) == 0 {
			allFiltered = false
			sel.AddSelect(sql.NewSimpleCol(c.value, c.alias))
			continue
		}
		var cond sql.SQLCondition = sql.NewRawCondition(c.filters[0])
		if len(c.filters) > 1 {
			cond = sql.And(sql.RawConditions(c.filters...)...)
		}
		filterSets = append(filterSets, cond)
		sel.AddSelect(sql.NewCol(sql.NewCustomCol(func(ctx *sql.Ctx, options ...int) (string, error) {
			str, err := cond.String(ctx, options...)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("CASE WHEN %s THEN %s ELSE NULL END", str, c.value), nil
		}), c.alias))
	}
	if p.AddFiltersToWhere && allFiltered {
		sel.AndWhere(sql.Or(filterSets...))
	}

	str, err := sel.String(sql.NewCtx())
	if err != nil {
		return "", err
	}
	vars := template.Variables{
		StartDate:         p.StartDate,
		ExperimentID:      p.ExperimentID,
		Phase:             p.Phase,
		CustomFields:      p.CustomFields,
		TemplateVariables: map[string]string{"eventName": ft.EventName},
	}
	if p.EndDate != nil {
		vars.EndDate = *p.EndDate
	}
	return template.Compile(str, vars)
}

func batchColumns(d dialect.Dialect, metrics []*model.FactMetric, ft *model.FactTable,
	factTables model.FactTableMap) ([]factMetricColumn, error) {
	var res []factMetricColumn
	for i, m := range metrics {
		if m.Numerator.FactTableID == ft.ID {
			col, err := batchColumn(d, m, ft, factTables, false)
			if err != nil {
				return nil, err
			}
			col.alias = fmt.Sprintf("m%d_value", i)
			res = append(res, col)
		}
		if model.IsRatioMetric(m) && m.Denominator.FactTableID == ft.ID {
			col, err := batchColumn(d, m, ft, factTables, true)
			if err != nil {
				return nil, err
			}
			col.alias = fmt.Sprintf("m%d_denominator", i)
			res = append(res, col)
		}
	}
	return res, nil
}

func batchColumn(d dialect.Dialect, m *model.FactMetric, ft *model.FactTable,
	factTables model.FactTableMap, useDenominator bool) (factMetricColumn, error) {
	cols, err := GetMetricColumns(d, m, factTables, "m", useDenominator)
	if err != nil {
		return factMetricColumn{}, err
	}
	filters, err := ColumnRefWhereClause(d, ft, m.ColumnRef(useDenominator))
	if err != nil {
		return factMetricColumn{}, err
	}
	return factMetricColumn{value: cols.Value, filters: filters}, nil
}
