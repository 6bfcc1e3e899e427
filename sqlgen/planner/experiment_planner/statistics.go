package experiment_planner

import (
	"fmt"
	"strconv"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

const (
	UserMetricAggTable   = "__userMetricAgg"
	CapValueTable        = "__capValue"
	CovariateMetricTable = "__userCovariateMetric"
	EventQuantileTable   = "__eventQuantileMetric"
	UnitQuantileTable    = "__unitQuantileMetric"
)

// quantileAlias names the join alias of a quantile CTE.
func quantileAlias(t model.QuantileType) string {
	if t == model.QuantileEvent {
		return "qe"
	}
	return "qu"
}

func quantileTable(t model.QuantileType) string {
	if t == model.QuantileEvent {
		return EventQuantileTable
	}
	return UnitQuantileTable
}

// MetricStatistics describes the statistics columns of one metric. Alias
// prefixes the columns (m0) and Suffix selects the fact table group the
// metric's values are read from.
type MetricStatistics struct {
	Alias    string
	MetricID string
	Suffix   string

	IsPercentileCapped   bool
	IsRatioMetric        bool
	IsRegressionAdjusted bool
	// AbsoluteCap caps values at a constant when greater than zero.
	AbsoluteCap float64
	// QuantileType is set for quantile metrics. Their quantile is read from
	// the per-variation quantile CTE of the group.
	QuantileType model.QuantileType
}

func (m *MetricStatistics) col(table string, column string) string {
	return fmt.Sprintf("%s%s.%s_%s", table, m.Suffix, m.Alias, column)
}

// capped clamps a per-user value the way the metric caps it.
func (m *MetricStatistics) capped(d dialect.Dialect, table string, column string, capColumn string) string {
	val := d.EnsureFloat(fmt.Sprintf("COALESCE(%s, 0)", m.col(table, column)))
	switch {
	case m.IsPercentileCapped:
		return fmt.Sprintf("LEAST(%s, %s)", val, m.col("cap", capColumn))
	case m.AbsoluteCap > 0:
		return fmt.Sprintf("LEAST(%s, %s)", val, strconv.FormatFloat(m.AbsoluteCap, 'f', -1, 64))
	}
	return val
}

// GenerateMetricStatisticsColumns emits the sums the statistics engine
// needs. Cap, ratio and covariate column blocks depend only on the three
// flags of m.
func GenerateMetricStatisticsColumns(d dialect.Dialect, m MetricStatistics) []sql.SQLObject {
	a := m.Alias
	main := m.capped(d, "m", "value", "value_cap")
	res := []sql.SQLObject{
		sql.NewSimpleCol(fmt.Sprintf("'%s'", d.EscapeStringLiteral(m.MetricID)), a+"_id"),
		sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", main), a+"_main_sum"),
		sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", main), a+"_main_sum_squares"),
	}
	if m.IsPercentileCapped {
		res = append(res, sql.NewSimpleCol(fmt.Sprintf("MAX(%s)", m.col("cap", "value_cap")), a+"_main_cap_value"))
	}
	if m.QuantileType != "" {
		qa := quantileAlias(m.QuantileType)
		res = append(res,
			sql.NewSimpleCol(fmt.Sprintf("MAX(%s)", m.col(qa, "quantile")), a+"_quantile"),
			sql.NewSimpleCol(fmt.Sprintf("MAX(%s)", m.col(qa, "quantile_n")), a+"_quantile_n"),
		)
	}

	var denominator string
	if m.IsRatioMetric {
		denominator = m.capped(d, "m", "denominator", "denominator_cap")
		res = append(res,
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", denominator), a+"_denominator_sum"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", denominator), a+"_denominator_sum_squares"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", main, denominator), a+"_main_denominator_sum_product"),
		)
		if m.IsPercentileCapped {
			res = append(res, sql.NewSimpleCol(fmt.Sprintf("MAX(%s)", m.col("cap", "denominator_cap")),
				a+"_denominator_cap_value"))
		}
	}

	if m.IsRegressionAdjusted {
		covariate := m.capped(d, "c", "value", "value_cap")
		res = append(res,
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", covariate), a+"_covariate_sum"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", covariate), a+"_covariate_sum_squares"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", main, covariate), a+"_main_covariate_sum_product"),
		)
		if m.IsRatioMetric {
			preDenominator := m.capped(d, "c", "denominator", "denominator_cap")
			res = append(res,
				sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", preDenominator), a+"_denominator_pre_sum"),
				sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", preDenominator), a+"_denominator_pre_sum_squares"),
				sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", main, preDenominator),
					a+"_main_post_denominator_pre_sum_product"),
				sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", covariate, denominator),
					a+"_main_pre_denominator_post_sum_product"),
				sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", covariate, preDenominator),
					a+"_main_pre_denominator_pre_sum_product"),
				sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", denominator, preDenominator),
					a+"_denominator_post_denominator_pre_sum_product"),
			)
		}
	}
	return res
}

type StatisticsSelectParams struct {
	BaseIDType string
	Dimensions []string
	Metrics    []MetricStatistics
}

// GenerateExperimentStatisticsSelect aggregates the per-user rows of every
// fact table group into one row per variation and dimension.
func GenerateExperimentStatisticsSelect(d dialect.Dialect, p StatisticsSelectParams) (sql.ISelect, error) {
	if len(p.Metrics) == 0 {
		return nil, custom_errors.NewConfigError("At least one metric is required")
	}
	var suffixes []string
	hasCovariate := map[string]bool{}
	hasCap := map[string]bool{}
	hasQuantile := map[string]map[model.QuantileType]bool{}
	for _, m := range p.Metrics {
		if _, ok := hasCovariate[m.Suffix]; !ok {
			suffixes = append(suffixes, m.Suffix)
			hasCovariate[m.Suffix] = false
		}
		hasCovariate[m.Suffix] = hasCovariate[m.Suffix] || m.IsRegressionAdjusted
		hasCap[m.Suffix] = hasCap[m.Suffix] || m.IsPercentileCapped
		if m.QuantileType != "" {
			if hasQuantile[m.Suffix] == nil {
				hasQuantile[m.Suffix] = map[model.QuantileType]bool{}
			}
			hasQuantile[m.Suffix][m.QuantileType] = true
		}
	}

	main := "m" + suffixes[0]
	sel := sql.NewSelect().
		Select(sql.NewSimpleCol(main+".variation", "variation")).
		From(sql.NewRawObject(UserMetricAggTable + suffixes[0] + " " + main))
	for _, dim := range p.Dimensions {
		sel.AddSelect(sql.NewSimpleCol(main+"."+dim, dim))
	}
	sel.AddSelect(sql.NewSimpleCol("COUNT(*)", "users"))
	for _, m := range p.Metrics {
		sel.AddSelect(GenerateMetricStatisticsColumns(d, m)...)
	}

	onBase := func(alias string) sql.SQLCondition {
		return sql.FmtRawCondition("%s.%s = %s.%s", alias, p.BaseIDType, main, p.BaseIDType)
	}
	for i, s := range suffixes {
		if i > 0 {
			sel.AddJoin(sql.NewJoin("LEFT", sql.NewRawObject(UserMetricAggTable+s+" m"+s), onBase("m"+s)))
		}
		if hasCovariate[s] {
			sel.AddJoin(sql.NewJoin("LEFT", sql.NewRawObject(CovariateMetricTable+s+" c"+s), onBase("c"+s)))
		}
		if hasCap[s] {
			sel.AddJoin(sql.NewCrossJoin(sql.NewRawObject(CapValueTable + s + " cap" + s)))
		}
		for _, t := range []model.QuantileType{model.QuantileEvent, model.QuantileUnit} {
			if !hasQuantile[s][t] {
				continue
			}
			alias := quantileAlias(t) + s
			on := []sql.SQLCondition{sql.FmtRawCondition("%s.variation = %s.variation", alias, main)}
			for _, dim := range p.Dimensions {
				on = append(on, sql.FmtRawCondition("%s.%s = %s.%s", alias, dim, main, dim))
			}
			sel.AddJoin(sql.NewJoin("LEFT", sql.NewRawObject(quantileTable(t)+s+" "+alias), sql.And(on...)))
		}
	}

	groupBy := []sql.SQLObject{sql.NewRawObject(main + ".variation")}
	for _, dim := range p.Dimensions {
		groupBy = append(groupBy, sql.NewRawObject(main+"."+dim))
	}
	sel.GroupBy(groupBy...)
	return sel, nil
}
