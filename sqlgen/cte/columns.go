package cte

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
)

// MetricColumns are the expressions a metric source exposes, keyed by
// user id type for the ids.
type MetricColumns struct {
	UserIDs   map[string]string
	Timestamp string
	Value     string
}

// GetMetricColumns resolves user ids, timestamp and value for legacy SQL,
// legacy builder and fact metrics alike.
func GetMetricColumns(d dialect.Dialect, metric model.Metric, factTables model.FactTableMap,
	alias string, useDenominator bool) (MetricColumns, error) {
	switch m := metric.(type) {
	case *model.FactMetric:
		return factMetricColumns(d, m, factTables, alias, useDenominator)
	case *model.LegacyMetric:
		return legacyMetricColumns(m, alias), nil
	}
	return MetricColumns{}, custom_errors.NewConfigError("unsupported metric type %T", metric)
}

func factMetricColumns(d dialect.Dialect, m *model.FactMetric, factTables model.FactTableMap,
	alias string, useDenominator bool) (MetricColumns, error) {
	ref := m.ColumnRef(useDenominator)
	if ref == nil {
		return MetricColumns{}, custom_errors.NewConfigError("Metric %s has no denominator", m.ID)
	}
	ft, ok := factTables.Get(ref.FactTableID)
	if !ok {
		return MetricColumns{}, custom_errors.NewConfigError("Could not find fact table %s", ref.FactTableID)
	}
	res := MetricColumns{
		UserIDs:   make(map[string]string, len(ft.UserIDTypes)),
		Timestamp: alias + ".timestamp",
	}
	for _, idType := range ft.UserIDTypes {
		res.UserIDs[idType] = alias + "." + idType
	}
	switch {
	case !useDenominator && (m.MetricType == model.MetricTypeProportion || m.MetricType == model.MetricTypeRetention):
		res.Value = "1"
	case ref.Column == model.ColumnCount || ref.Column == model.ColumnDistinctUsers:
		res.Value = "1"
	case ref.Column == model.ColumnDistinctDates:
		res.Value = d.DateTrunc(res.Timestamp)
	default:
		val, err := factColumnExpr(d, ft, ref.Column, alias, true)
		if err != nil {
			return MetricColumns{}, err
		}
		res.Value = val
	}
	return res, nil
}

func legacyMetricColumns(m *model.LegacyMetric, alias string) MetricColumns {
	res := MetricColumns{UserIDs: make(map[string]string, len(m.UserIDTypes))}
	if m.QueryFormat == model.QueryFormatBuilder {
		for _, idType := range m.UserIDTypes {
			col := idType
			if c, ok := m.UserIDColumns[idType]; ok && c != "" {
				col = c
			}
			res.UserIDs[idType] = col
		}
		tsCol := m.TimestampColumn
		if tsCol == "" {
			tsCol = "received_at"
		}
		res.Timestamp = alias + "." + tsCol
		res.Value = "1"
		if m.Type != model.LegacyBinomial && m.Column != "" {
			res.Value = alias + "." + m.Column
		}
		return res
	}
	for _, idType := range m.UserIDTypes {
		res.UserIDs[idType] = alias + "." + idType
	}
	res.Timestamp = alias + ".timestamp"
	res.Value = alias + ".value"
	if m.Type == model.LegacyBinomial {
		res.Value = "1"
	}
	return res
}

// factColumnExpr renders a fact table column, extracting dotted JSON
// references. numericJSON casts JSON number fields.
func factColumnExpr(d dialect.Dialect, ft *model.FactTable, column string, alias string,
	numericJSON bool) (string, error) {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	if ft.GetColumn(column) != nil {
		return prefix + column, nil
	}
	jsonCol, path, ok := ft.SplitJSONColumn(column)
	if !ok {
		return prefix + column, nil
	}
	isNumeric := false
	if field, ok := jsonCol.JSONFields[path]; ok {
		isNumeric = numericJSON && field.Datatype == model.DatatypeNumber
	}
	return d.ExtractJSONField(prefix+jsonCol.Column, path, isNumeric)
}

// ColumnRefWhereClause lists the predicates a column reference applies to
// its fact table: inline filters first, ordered by column, then the named
// filters. Duplicates are dropped.
func ColumnRefWhereClause(d dialect.Dialect, ft *model.FactTable, ref *model.ColumnRef) ([]string, error) {
	var where []string
	add := func(cond string) {
		if cond != "" && !slices.Contains(where, cond) {
			where = append(where, cond)
		}
	}

	columns := make([]string, 0, len(ref.InlineFilters))
	for column := range ref.InlineFilters {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		var values []string
		for _, v := range ref.InlineFilters[column] {
			if v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		cond, err := inlineFilter(d, ft, column, values)
		if err != nil {
			return nil, err
		}
		add(cond)
	}

	for _, id := range ref.Filters {
		if f := ft.GetFilter(id); f != nil {
			add(strings.TrimSpace(f.Value))
		}
	}
	return where, nil
}

func inlineFilter(d dialect.Dialect, ft *model.FactTable, column string, values []string) (string, error) {
	colExpr, err := factColumnExpr(d, ft, column, "", false)
	if err != nil {
		return "", err
	}
	datatype, _ := ft.ColumnDatatype(column)
	if datatype == model.DatatypeBoolean {
		return d.EvalBoolean(colExpr, values[0] == "true"), nil
	}
	col := ft.GetColumn(column)
	if col != nil && col.IsAutoSliceColumn && slices.Contains(values, model.OtherSliceValue) {
		var explicit []string
		for _, v := range values {
			if v != model.OtherSliceValue {
				explicit = append(explicit, v)
			}
		}
		if len(col.AutoSlices) == 0 {
			return "", nil
		}
		cond := fmt.Sprintf("%s NOT IN (%s) OR %s IS NULL", colExpr, quoteList(d, col.AutoSlices), colExpr)
		if len(explicit) > 0 {
			cond = fmt.Sprintf("%s IN (%s) OR %s", colExpr, quoteList(d, explicit), cond)
		}
		return cond, nil
	}
	if len(values) == 1 {
		return fmt.Sprintf("%s = '%s'", colExpr, d.EscapeStringLiteral(values[0])), nil
	}
	return fmt.Sprintf("%s IN (%s)", colExpr, quoteList(d, values)), nil
}

func quoteList(d dialect.Dialect, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + d.EscapeStringLiteral(v) + "'"
	}
	return strings.Join(quoted, ", ")
}
