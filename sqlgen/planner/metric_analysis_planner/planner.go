package metric_analysis_planner

import (
	"fmt"
	"strconv"
	"time"

	"github.com/metrico/expsql/sqlgen/cte"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/planner/shared"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/sirupsen/logrus"
)

type MetricAnalysisParams struct {
	Metric     *model.FactMetric
	FactTables model.FactTableMap
	BaseIDType string
	IDJoinMap  model.IdentityJoinMap
	StartDate  time.Time
	EndDate    time.Time
	// Segment restricts the analysis to the units it contains.
	Segment      *model.Segment
	CustomFields map[string]any
	// HistogramBins adds __histogram when positive.
	HistogramBins int
}

type Planner struct {
	Params MetricAnalysisParams
}

func NewPlanner(p MetricAnalysisParams) shared.SQLRequestPlanner {
	return &Planner{Params: p}
}

// GenerateMetricAnalysisQuery renders the daily and overall statistics of
// one fact metric.
func GenerateMetricAnalysisQuery(d dialect.Dialect, p MetricAnalysisParams) (string, error) {
	ctx := shared.NewPlannerContext(d, p.FactTables)
	ctx.IDJoinMap = p.IDJoinMap
	if p.BaseIDType != "" {
		ctx.BaseIDType = p.BaseIDType
	}
	return shared.Render(ctx, NewPlanner(p))
}

func (a *Planner) Process(ctx *shared.PlannerContext) (sql.ISelect, error) {
	d := ctx.Dialect
	m := a.Params.Metric
	if m == nil {
		return nil, custom_errors.NewConfigError("metric is not set")
	}
	if err := model.ValidateFactMetric(m, ctx.FactTables); err != nil {
		return nil, err
	}
	ft, _ := ctx.FactTables.Get(m.Numerator.FactTableID)
	isRatio := model.IsRatioMetric(m)
	if isRatio && m.Denominator.FactTableID != ft.ID {
		return nil, custom_errors.NewConfigError(
			"Metric %s: numerator and denominator must use the same fact table", m.ID)
	}
	base := ctx.BaseIDType

	var withs []*sql.With
	if a.Params.Segment != nil {
		segment, err := cte.BuildSegmentCTE(d, cte.SegmentCTEParams{
			Segment:    a.Params.Segment,
			BaseIDType: base,
			IDJoinMap:  ctx.IDJoinMap,
			FactTables: ctx.FactTables,
			Vars:       &template.Variables{StartDate: a.Params.StartDate, EndDate: a.Params.EndDate},
		})
		if err != nil {
			return nil, err
		}
		withs = append(withs, sql.NewWith(sql.NewRawObject(segment), "__segment"))
	}

	endDate := a.Params.EndDate
	factTable, err := cte.BuildFactMetricCTE(d, cte.FactMetricCTEParams{
		Metrics:      []*model.FactMetric{m},
		FactTable:    ft,
		BaseIDType:   base,
		IDJoinMap:    ctx.IDJoinMap,
		StartDate:    a.Params.StartDate,
		EndDate:      &endDate,
		CustomFields: a.Params.CustomFields,
	})
	if err != nil {
		return nil, err
	}
	withs = append(withs, sql.NewWith(sql.NewRawObject(factTable), "__factTable"))

	numAgg := MetricAggregation(d, m, false)
	var denAgg AggregationFunctions
	if isRatio {
		denAgg = MetricAggregation(d, m, true)
	}

	daily := sql.NewSelect().
		Select(
			sql.NewSimpleCol("f."+base, base),
			sql.NewSimpleCol(d.DateTrunc("f.timestamp"), "date"),
			sql.NewSimpleCol(numAgg.Partial("f.m0_value"), "value"),
		).
		From(sql.NewRawObject("__factTable f")).
		GroupBy(sql.NewRawObject(d.DateTrunc("f.timestamp")), sql.NewRawObject("f."+base))
	if isRatio {
		daily.AddSelect(sql.NewSimpleCol(denAgg.Partial("f.m0_denominator"), "denominator"))
	}
	a.segmentJoin(daily, base)
	withs = append(withs, sql.NewWith(daily, "__userMetricDaily"))

	overall := sql.NewSelect().
		Select(
			sql.NewSimpleCol(base, ""),
			sql.NewSimpleCol(numAgg.Reaggregate("value"), "value"),
		).
		From(sql.NewRawObject("__userMetricDaily")).
		GroupBy(sql.NewRawObject(base))
	if isRatio {
		overall.AddSelect(sql.NewSimpleCol(denAgg.Reaggregate("denominator"), "denominator"))
	}
	withs = append(withs, sql.NewWith(overall, "__userMetricOverall"))

	pctCapped := model.IsPercentileCapped(m)
	if pctCapped {
		capValue, err := capValueCTE(d, m, isRatio)
		if err != nil {
			return nil, err
		}
		withs = append(withs, sql.NewWith(capValue, "__capValue"))
	}

	var quantile *quantileParams
	if model.IsQuantileMetric(m) {
		q, err := d.Quantile()
		if err != nil {
			return nil, err
		}
		quantile = &quantileParams{fn: q, settings: m.QuantileSettings}
		if m.QuantileSettings.Type == model.QuantileEvent {
			eventOverall, eventDaily := a.eventQuantileCTEs(d, quantile, base)
			withs = append(withs,
				sql.NewWith(eventOverall, "__eventQuantileOverall"),
				sql.NewWith(eventDaily, "__eventQuantileDaily"))
		}
	}

	bins := a.Params.HistogramBins
	stats := statisticsParams{metric: m, base: base, num: numAgg, den: denAgg,
		isRatio: isRatio, pctCapped: pctCapped, bins: bins, quantile: quantile}
	withs = append(withs,
		sql.NewWith(statisticsCTE(d, stats, false), "__statisticsOverall"),
		sql.NewWith(statisticsCTE(d, stats, true), "__statisticsDaily"),
	)
	if bins > 0 {
		histogram := sql.NewSelect().
			Select(GenerateHistogramBins(d, bins)...).
			From(sql.NewRawObject("__userMetricOverall m")).
			AddJoin(sql.NewCrossJoin(sql.NewRawObject("__statisticsOverall s")))
		withs = append(withs, sql.NewWith(histogram, "__histogram"))
	}

	res := sql.NewSelect().
		Select(sql.NewRawObject("*")).
		From(sql.NewRawObject("__statisticsOverall"))
	if bins > 0 {
		res.AddJoin(sql.NewCrossJoin(sql.NewRawObject("__histogram")))
	}
	res.UnionAll(sql.NewSelect().
		Select(sql.NewRawObject("*")).
		From(sql.NewRawObject("__statisticsDaily")))
	res.With(withs...)

	logger.WithFields(logrus.Fields{
		"generator": "metric_analysis",
		"dialect":   d.Type(),
		"metric":    m.ID,
		"ctes":      len(withs),
	}).Debug("metric analysis query planned")
	return res, nil
}

func (a *Planner) segmentJoin(sel sql.ISelect, base string) {
	if a.Params.Segment == nil {
		return
	}
	sel.AddJoin(sql.NewJoin("", sql.NewRawObject("__segment s"),
		sql.FmtRawCondition("s.%s = f.%s", base, base))).
		AndWhere(sql.NewRawCondition("s.date <= f.timestamp"))
}

type quantileParams struct {
	fn       dialect.Quantile
	settings *model.QuantileSettings
}

// columns takes the quantile of col and counts the values it ranked.
func (q *quantileParams) columns(col string) []sql.SQLObject {
	if q.settings.IgnoreZeros {
		col = fmt.Sprintf("CASE WHEN %s != 0 THEN %s ELSE NULL END", col, col)
	}
	return []sql.SQLObject{
		sql.NewSimpleCol(q.fn.ApproxQuantile(col, strconv.FormatFloat(q.settings.Quantile, 'f', -1, 64)), "quantile"),
		sql.NewSimpleCol(fmt.Sprintf("COUNT(%s)", col), "quantile_n"),
	}
}

// eventQuantileCTEs rank the raw fact rows, once overall and once per day.
func (a *Planner) eventQuantileCTEs(d dialect.Dialect, q *quantileParams, base string) (sql.ISelect, sql.ISelect) {
	overall := sql.NewSelect().
		Select(q.columns("f.m0_value")...).
		From(sql.NewRawObject("__factTable f"))
	a.segmentJoin(overall, base)
	daily := sql.NewSelect().
		Select(sql.NewSimpleCol(d.DateTrunc("f.timestamp"), "date")).
		AddSelect(q.columns("f.m0_value")...).
		From(sql.NewRawObject("__factTable f")).
		GroupBy(sql.NewRawObject(d.DateTrunc("f.timestamp")))
	a.segmentJoin(daily, base)
	return overall, daily
}

func capValueCTE(d dialect.Dialect, m *model.FactMetric, isRatio bool) (sql.ISelect, error) {
	q, err := d.Quantile()
	if err != nil {
		return nil, err
	}
	quantile := strconv.FormatFloat(m.CappingSettings.Value, 'f', -1, 64)
	capped := func(col string) string {
		if m.CappingSettings.IgnoreZeros {
			col = fmt.Sprintf("CASE WHEN %s != 0 THEN %s ELSE NULL END", col, col)
		}
		return q.ApproxQuantile(col, quantile)
	}
	sel := sql.NewSelect().
		Select(sql.NewSimpleCol(capped("value"), "value_cap")).
		From(sql.NewRawObject("__userMetricOverall"))
	if isRatio {
		sel.AddSelect(sql.NewSimpleCol(capped("denominator"), "denominator_cap"))
	}
	return sel, nil
}

type statisticsParams struct {
	metric    *model.FactMetric
	base      string
	num       AggregationFunctions
	den       AggregationFunctions
	isRatio   bool
	pctCapped bool
	bins      int
	quantile  *quantileParams
}

// statisticsCTE renders __statisticsDaily or __statisticsOverall. Both
// have the same columns so they can be stacked with UNION ALL.
func statisticsCTE(d dialect.Dialect, p statisticsParams, daily bool) sql.ISelect {
	capped := func(col string, capCol string) string {
		switch {
		case p.pctCapped:
			return fmt.Sprintf("LEAST(%s, cap.%s)", col, capCol)
		case model.IsAbsoluteCapped(p.metric):
			return fmt.Sprintf("LEAST(%s, %s)", col, strconv.FormatFloat(p.metric.CappingSettings.Value, 'f', -1, 64))
		}
		return col
	}
	value := capped("value", "value_cap")
	var from sql.SQLObject = sql.NewRawObject("__userMetricOverall")
	dateCol := d.CastToDate("NULL")
	dataType := "'overall'"
	if daily {
		// daily partial states are finalized per unit and day first
		perDay := sql.NewSelect().
			Select(
				sql.NewSimpleCol(p.base, ""),
				sql.NewSimpleCol("date", ""),
				sql.NewSimpleCol(p.num.Reaggregate("value"), "value"),
			).
			From(sql.NewRawObject("__userMetricDaily")).
			GroupBy(sql.NewRawObject(p.base), sql.NewRawObject("date"))
		if p.isRatio {
			perDay.AddSelect(sql.NewSimpleCol(p.den.Reaggregate("denominator"), "denominator"))
		}
		from = sql.NewCustomCol(func(ctx *sql.Ctx, options ...int) (string, error) {
			str, err := perDay.String(ctx, options...)
			if err != nil {
				return "", err
			}
			return "(\n" + str + "\n) d", nil
		})
		dateCol = "date"
		dataType = "'date'"
	}

	sel := sql.NewSelect().
		Select(
			sql.NewSimpleCol(dateCol, "date"),
			sql.NewSimpleCol(dataType, "data_type"),
			sql.NewSimpleCol("COUNT(*)", "units"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", value), "main_sum"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", value), "main_sum_squares"),
		).
		From(from)
	if p.isRatio {
		denominator := capped("denominator", "denominator_cap")
		sel.AddSelect(
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s)", denominator), "denominator_sum"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(POWER(%s, 2))", denominator), "denominator_sum_squares"),
			sql.NewSimpleCol(fmt.Sprintf("SUM(%s * %s)", value, denominator), "main_denominator_sum_product"),
		)
	}
	if p.pctCapped {
		sel.AddSelect(sql.NewSimpleCol("MAX(cap.value_cap)", "main_cap_value")).
			AddJoin(sql.NewCrossJoin(sql.NewRawObject("__capValue cap")))
	}
	if q := p.quantile; q != nil {
		switch {
		case q.settings.Type == model.QuantileUnit:
			sel.AddSelect(q.columns("value")...)
		case daily:
			sel.AddSelect(
				sql.NewSimpleCol("MAX(q.quantile)", "quantile"),
				sql.NewSimpleCol("MAX(q.quantile_n)", "quantile_n"),
			).AddJoin(sql.NewJoin("LEFT", sql.NewRawObject("__eventQuantileDaily q"),
				sql.NewRawCondition("q.date = d.date")))
		default:
			sel.AddSelect(
				sql.NewSimpleCol("MAX(q.quantile)", "quantile"),
				sql.NewSimpleCol("MAX(q.quantile_n)", "quantile_n"),
			).AddJoin(sql.NewCrossJoin(sql.NewRawObject("__eventQuantileOverall q")))
		}
	}
	if p.bins > 0 {
		if daily {
			sel.AddSelect(
				sql.NewSimpleCol(d.EnsureFloat("NULL"), "value_min"),
				sql.NewSimpleCol(d.EnsureFloat("NULL"), "value_max"),
				sql.NewSimpleCol(d.EnsureFloat("NULL"), "bin_width"),
			)
			for i := 0; i < p.bins; i++ {
				sel.AddSelect(sql.NewSimpleCol("NULL", fmt.Sprintf("units_bin_%d", i)))
			}
		} else {
			sel.AddSelect(
				sql.NewSimpleCol(fmt.Sprintf("MIN(%s)", value), "value_min"),
				sql.NewSimpleCol(fmt.Sprintf("MAX(%s)", value), "value_max"),
				sql.NewSimpleCol(fmt.Sprintf("(MAX(%s) - MIN(%s)) / %d.0", value, value, p.bins), "bin_width"),
			)
		}
	}
	if daily {
		sel.GroupBy(sql.NewRawObject("date"))
	}
	return sel
}

// GenerateHistogramBins counts units per bin. The first and last bins are
// open ended, the others are [min+width*i, min+width*(i+1)).
func GenerateHistogramBins(_ dialect.Dialect, n int) []sql.SQLObject {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []sql.SQLObject{sql.NewSimpleCol("COUNT(*)", "units_bin_0")}
	}
	bin := func(cond string) string {
		return fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", cond)
	}
	res := make([]sql.SQLObject, n)
	res[0] = sql.NewSimpleCol(bin("m.value < (s.value_min + s.bin_width)"), "units_bin_0")
	for i := 1; i < n-1; i++ {
		res[i] = sql.NewSimpleCol(bin(fmt.Sprintf(
			"m.value >= (s.value_min + s.bin_width*%d.0) AND m.value < (s.value_min + s.bin_width*%d.0)", i, i+1)),
			fmt.Sprintf("units_bin_%d", i))
	}
	res[n-1] = sql.NewSimpleCol(bin(fmt.Sprintf("m.value >= (s.value_min + s.bin_width*%d.0)", n-1)),
		fmt.Sprintf("units_bin_%d", n-1))
	return res
}
