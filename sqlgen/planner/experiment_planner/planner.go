package experiment_planner

import (
	"fmt"
	"strconv"
	"time"

	"github.com/metrico/expsql/sqlgen/cte"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/planner/metric_analysis_planner"
	"github.com/metrico/expsql/sqlgen/planner/shared"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/sirupsen/logrus"
)

const multipleExposures = "__multiple__"

// ExposureQuery returns one row per exposure with the columns
// <userIdType>, timestamp, experiment_id, variation_id and the dimensions.
type ExposureQuery struct {
	ID         string   `json:"id" yaml:"id"`
	UserIDType string   `json:"userIdType" yaml:"userIdType" validate:"required"`
	SQL        string   `json:"query" yaml:"query" validate:"required"`
	Dimensions []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// IdentityQuery maps several user id types onto each other.
type IdentityQuery struct {
	IDTypes []string `json:"ids" yaml:"ids"`
	SQL     string   `json:"query" yaml:"query"`
}

type ExperimentParams struct {
	ExperimentID  string
	ExposureQuery ExposureQuery
	Identities    []IdentityQuery
	StartDate     time.Time
	EndDate       time.Time
	Phase         *template.Phase
	CustomFields  map[string]any
	Metrics       []*model.FactMetric
	Segment       *model.Segment
	// Dimensions are exposure query columns to break results down by.
	Dimensions                []string
	OverrideConversionWindows bool
	BanditDates               []time.Time
}

type Planner struct {
	Params ExperimentParams
}

func NewPlanner(p ExperimentParams) shared.SQLRequestPlanner {
	return &Planner{Params: p}
}

// GenerateExperimentQuery renders the statistics of every metric of an
// experiment, broken down by variation and dimensions.
func GenerateExperimentQuery(d dialect.Dialect, factTables model.FactTableMap, p ExperimentParams) (string, error) {
	ctx := shared.NewPlannerContext(d, factTables)
	return shared.Render(ctx, NewPlanner(p))
}

type metricGroup struct {
	factTable *model.FactTable
	indexes   []int
}

func (e *Planner) vars() template.Variables {
	return template.Variables{
		StartDate:    e.Params.StartDate,
		EndDate:      e.Params.EndDate,
		ExperimentID: e.Params.ExperimentID,
		Phase:        e.Params.Phase,
		CustomFields: e.Params.CustomFields,
	}
}

func (e *Planner) Process(ctx *shared.PlannerContext) (sql.ISelect, error) {
	d := ctx.Dialect
	p := e.Params
	if p.ExposureQuery.UserIDType == "" || p.ExposureQuery.SQL == "" {
		return nil, custom_errors.NewConfigError("Experiment %s is missing an exposure query", p.ExperimentID)
	}
	ctx.BaseIDType = p.ExposureQuery.UserIDType
	base := ctx.BaseIDType

	groups, err := e.groupMetrics(ctx)
	if err != nil {
		return nil, err
	}

	var identities []CTE
	idJoinMap := model.IdentityJoinMap{}
	for k, v := range ctx.IDJoinMap {
		idJoinMap[k] = v
	}
	for i, q := range p.Identities {
		name := "__identities" + strconv.Itoa(i)
		identities = append(identities, CTE{Name: name, Query: sql.NewRawObject(q.SQL)})
		for _, idType := range q.IDTypes {
			if _, ok := idJoinMap[idType]; !ok && idType != base {
				idJoinMap[idType] = name
			}
		}
	}
	ctx.IDJoinMap = idJoinMap

	units, err := e.experimentUnits(ctx)
	if err != nil {
		return nil, err
	}
	if p.Segment != nil {
		vars := e.vars()
		segment, err := cte.BuildSegmentCTE(d, cte.SegmentCTEParams{
			Segment:    p.Segment,
			BaseIDType: base,
			IDJoinMap:  idJoinMap,
			FactTables: ctx.FactTables,
			Vars:       &vars,
		})
		if err != nil {
			return nil, err
		}
		identities = append(identities, CTE{Name: "__segment", Query: sql.NewRawObject(segment)})
	}

	dimensions := make([]string, len(p.Dimensions))
	for i, dim := range p.Dimensions {
		dimensions[i] = "dim_" + dim
	}
	var covariates []CovariateWindow
	for i, m := range p.Metrics {
		if model.IsRegressionAdjusted(m) {
			covariates = append(covariates, CovariateWindow{
				Alias:         metricAlias(i),
				DelayHours:    m.WindowSettings.DelayHours,
				LookbackHours: float64(m.RegressionAdjustmentDays) * 24,
			})
		}
	}
	distinctUsers := GenerateDistinctUsersCTE(d, DistinctUsersParams{
		BaseIDType:  base,
		Dimensions:  dimensions,
		Conditions:  []string{fmt.Sprintf("variation != '%s'", multipleExposures)},
		BanditDates: p.BanditDates,
		Covariates:  covariates,
	})

	assembleParams := AssembleParams{
		IdentityCTEs:    identities,
		ExperimentUnits: units,
		DistinctUsers:   distinctUsers,
	}
	var stats []MetricStatistics
	for gi, g := range groups {
		suffix := GroupSuffix(gi)
		group, err := e.factTableGroup(ctx, g, suffix, dimensions)
		if err != nil {
			return nil, err
		}
		assembleParams.FactTableGroups = append(assembleParams.FactTableGroups, group)
		for _, i := range g.indexes {
			m := p.Metrics[i]
			ms := MetricStatistics{
				Alias:                metricAlias(i),
				MetricID:             m.ID,
				Suffix:               suffix,
				IsPercentileCapped:   model.IsPercentileCapped(m),
				IsRatioMetric:        model.IsRatioMetric(m),
				IsRegressionAdjusted: model.IsRegressionAdjusted(m),
			}
			if model.IsAbsoluteCapped(m) {
				ms.AbsoluteCap = m.CappingSettings.Value
			}
			if model.IsQuantileMetric(m) {
				ms.QuantileType = m.QuantileSettings.Type
			}
			stats = append(stats, ms)
		}
	}
	assembleParams.Statistics, err = GenerateExperimentStatisticsSelect(d, StatisticsSelectParams{
		BaseIDType: base,
		Dimensions: dimensions,
		Metrics:    stats,
	})
	if err != nil {
		return nil, err
	}

	res, err := assemble(assembleParams)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"generator":   "experiment",
		"dialect":     d.Type(),
		"experiment":  p.ExperimentID,
		"fact_tables": len(groups),
		"metrics":     len(p.Metrics),
	}).Debug("experiment query planned")
	return res, nil
}

func metricAlias(i int) string {
	return "m" + strconv.Itoa(i)
}

// groupMetrics buckets the metrics by fact table in order of appearance.
func (e *Planner) groupMetrics(ctx *shared.PlannerContext) ([]metricGroup, error) {
	if len(e.Params.Metrics) == 0 {
		return nil, custom_errors.NewConfigError("At least one metric is required")
	}
	var groups []metricGroup
	byTable := map[string]int{}
	for i, m := range e.Params.Metrics {
		if err := model.ValidateFactMetric(m, ctx.FactTables); err != nil {
			return nil, err
		}
		if model.IsRatioMetric(m) && m.Denominator.FactTableID != m.Numerator.FactTableID {
			return nil, custom_errors.NewConfigError(
				"Metric %s: numerator and denominator must use the same fact table", m.ID)
		}
		gi, ok := byTable[m.Numerator.FactTableID]
		if !ok {
			ft, _ := ctx.FactTables.Get(m.Numerator.FactTableID)
			gi = len(groups)
			byTable[ft.ID] = gi
			groups = append(groups, metricGroup{factTable: ft})
		}
		groups[gi].indexes = append(groups[gi].indexes, i)
	}
	return groups, nil
}

// experimentUnits collapses exposures to one row per unit. Units seen in
// more than one variation are flagged so distinct users can drop them.
func (e *Planner) experimentUnits(ctx *shared.PlannerContext) (sql.ISelect, error) {
	d := ctx.Dialect
	p := e.Params
	base := ctx.BaseIDType
	exposureSQL, err := template.Compile(p.ExposureQuery.SQL, e.vars())
	if err != nil {
		return nil, err
	}
	variation := d.CastToString("e.variation_id")
	sel := sql.NewSelect().
		Select(sql.NewSimpleCol("e."+base, base)).
		From(sql.NewRawObject(fmt.Sprintf("(\n%s\n) e", exposureSQL))).
		AndWhere(
			sql.FmtRawCondition("e.experiment_id = '%s'", d.EscapeStringLiteral(p.ExperimentID)),
			sql.FmtRawCondition("e.timestamp >= %s", d.ToTimestamp(p.StartDate)),
			sql.FmtRawCondition("e.timestamp <= %s", d.ToTimestamp(p.EndDate)),
		).
		GroupBy(sql.NewRawObject("e." + base))
	for _, dim := range p.Dimensions {
		sel.AddSelect(sql.NewSimpleCol(fmt.Sprintf("MAX(e.%s)", dim), "dim_"+dim))
	}
	sel.AddSelect(
		sql.NewSimpleCol(d.IfElse(fmt.Sprintf("COUNT(DISTINCT %s) > 1", variation),
			fmt.Sprintf("'%s'", multipleExposures), fmt.Sprintf("MAX(%s)", variation)), "variation"),
		sql.NewSimpleCol("MIN(e.timestamp)", "first_exposure_timestamp"),
	)
	if p.Segment != nil {
		sel.AddJoin(sql.NewJoin("", sql.NewRawObject("__segment s"),
			sql.FmtRawCondition("s.%s = e.%s", base, base))).
			AndWhere(sql.NewRawCondition("s.date <= e.timestamp"))
	}
	return sel, nil
}

// metricWindow is the metric timestamp range, relative to the first
// exposure, that can contribute to the analysis.
func (e *Planner) metricWindow(m *model.FactMetric) ConversionWindowParams {
	w := ConversionWindowParams{
		ConversionWindowStart:     m.WindowSettings.DelayHours,
		OverrideConversionWindows: e.Params.OverrideConversionWindows,
		EndDate:                   e.Params.EndDate,
	}
	switch m.WindowSettings.Type {
	case model.WindowConversion:
		end := m.WindowSettings.DelayHours + m.WindowSettings.WindowHours()
		w.ConversionWindowEnd = &end
	case model.WindowLookback:
		w.LookbackHours = m.WindowSettings.WindowHours()
	}
	return w
}

func (e *Planner) factTableGroup(ctx *shared.PlannerContext, g metricGroup, suffix string,
	dimensions []string) (FactTableGroup, error) {
	d := ctx.Dialect
	p := e.Params
	base := ctx.BaseIDType

	// the fact table scan has to cover delayed windows and pre-exposure
	// covariate windows
	startOffset := 0.0
	var endOffset float64
	hasCovariate := false
	hasCap := false
	for _, i := range g.indexes {
		m := p.Metrics[i]
		startOffset = min(startOffset, m.WindowSettings.DelayHours)
		if model.IsRegressionAdjusted(m) {
			hasCovariate = true
			startOffset = min(startOffset, m.WindowSettings.DelayHours-float64(m.RegressionAdjustmentDays)*24)
		}
		if w := e.metricWindow(m); w.ConversionWindowEnd != nil && !p.OverrideConversionWindows {
			endOffset = max(endOffset, *w.ConversionWindowEnd)
		}
		hasCap = hasCap || model.IsPercentileCapped(m)
	}
	end := p.EndDate.Add(time.Duration(endOffset * float64(time.Hour)))
	if p.OverrideConversionWindows {
		end = p.EndDate
	}
	factTable, err := cte.BuildFactMetricCTE(d, cte.FactMetricCTEParams{
		Metrics:           p.Metrics,
		FactTable:         g.factTable,
		BaseIDType:        base,
		IDJoinMap:         ctx.IDJoinMap,
		StartDate:         p.StartDate.Add(time.Duration(startOffset * float64(time.Hour))),
		EndDate:           &end,
		ExperimentID:      p.ExperimentID,
		Phase:             p.Phase,
		CustomFields:      p.CustomFields,
		AddFiltersToWhere: true,
	})
	if err != nil {
		return FactTableGroup{}, err
	}

	res := FactTableGroup{FactTable: sql.NewRawObject(factTable)}
	userCols := func(table string) []sql.SQLObject {
		cols := []sql.SQLObject{sql.NewSimpleCol(table+"variation", "variation")}
		for _, dim := range dimensions {
			cols = append(cols, sql.NewSimpleCol(table+dim, dim))
		}
		return append(cols, sql.NewSimpleCol(table+base, base))
	}

	join := sql.NewSelect().
		Select(userCols("d.")...).
		From(sql.NewRawObject(DistinctUsersTable + " d")).
		AddJoin(sql.NewJoin("LEFT", sql.NewRawObject(FactTableTable+suffix+" m"),
			sql.FmtRawCondition("m.%s = d.%s", base, base)))
	agg := sql.NewSelect().
		Select(userCols("")...).
		From(sql.NewRawObject(UserMetricJoinTable + suffix))
	groupBy := []sql.SQLObject{sql.NewRawObject("variation")}
	for _, dim := range dimensions {
		groupBy = append(groupBy, sql.NewRawObject(dim))
	}
	agg.GroupBy(append(groupBy, sql.NewRawObject(base))...)

	var capCols, covCols []sql.SQLObject
	quantileCols := map[model.QuantileType][]sql.SQLObject{}
	for _, i := range g.indexes {
		m := p.Metrics[i]
		alias := metricAlias(i)
		window := e.metricWindow(m)
		columns := []string{"value"}
		if model.IsRatioMetric(m) {
			columns = append(columns, "denominator")
		}
		for _, c := range columns {
			col := alias + "_" + c
			aggFns := metric_analysis_planner.MetricAggregation(d, m, c == "denominator")
			window.ValueCol = "m." + col
			join.AddSelect(sql.NewSimpleCol(GenerateConversionWindowFilter(d, window), col))
			agg.AddSelect(sql.NewSimpleCol(aggFns.Full(col), col))
			if model.IsPercentileCapped(m) {
				capCol, err := capValue(d, m, col)
				if err != nil {
					return FactTableGroup{}, err
				}
				capCols = append(capCols, sql.NewSimpleCol(capCol, alias+"_"+c+"_cap"))
			}
			if model.IsRegressionAdjusted(m) {
				covCols = append(covCols, sql.NewSimpleCol(aggFns.Full(fmt.Sprintf(
					"CASE WHEN m.timestamp >= d.%s_preexposure_start AND m.timestamp < d.%s_preexposure_end THEN m.%s ELSE NULL END",
					alias, alias, col)), col))
			}
		}
		if model.IsQuantileMetric(m) {
			cols, err := quantileColumns(d, m, alias)
			if err != nil {
				return FactTableGroup{}, err
			}
			t := m.QuantileSettings.Type
			quantileCols[t] = append(quantileCols[t], cols...)
		}
	}
	res.UserMetricJoin = join
	res.UserMetricAgg = agg

	// event quantiles rank the windowed rows, unit quantiles the per-user
	// totals
	quantileSelect := func(from string, cols []sql.SQLObject) sql.ISelect {
		sel := sql.NewSelect().
			Select(sql.NewSimpleCol("variation", "")).
			From(sql.NewRawObject(from))
		for _, dim := range dimensions {
			sel.AddSelect(sql.NewSimpleCol(dim, ""))
		}
		return sel.AddSelect(cols...).GroupBy(groupBy...)
	}
	if cols := quantileCols[model.QuantileEvent]; len(cols) > 0 {
		res.EventQuantile = quantileSelect(UserMetricJoinTable+suffix, cols)
	}
	if cols := quantileCols[model.QuantileUnit]; len(cols) > 0 {
		res.UnitQuantile = quantileSelect(UserMetricAggTable+suffix, cols)
	}

	if hasCap {
		res.CapValue = sql.NewSelect().
			Select(capCols...).
			From(sql.NewRawObject(UserMetricAggTable + suffix))
	}
	if hasCovariate {
		res.Covariate = sql.NewSelect().
			Select(sql.NewSimpleCol("d."+base, base)).
			AddSelect(covCols...).
			From(sql.NewRawObject(DistinctUsersTable + " d")).
			AddJoin(sql.NewJoin("", sql.NewRawObject(FactTableTable+suffix+" m"),
				sql.FmtRawCondition("m.%s = d.%s", base, base))).
			AndWhere(
				sql.NewRawCondition("m.timestamp >= d.min_preexposure_start"),
				sql.NewRawCondition("m.timestamp < d.max_preexposure_end"),
			).
			GroupBy(sql.NewRawObject("d." + base))
	}
	return res, nil
}

// quantileColumns renders the quantile of a metric and the number of
// values it was taken over.
func quantileColumns(d dialect.Dialect, m *model.FactMetric, alias string) ([]sql.SQLObject, error) {
	q, err := d.Quantile()
	if err != nil {
		return nil, err
	}
	value := alias + "_value"
	if m.QuantileSettings.IgnoreZeros {
		value = fmt.Sprintf("CASE WHEN %s != 0 THEN %s ELSE NULL END", value, value)
	}
	quantile := strconv.FormatFloat(m.QuantileSettings.Quantile, 'f', -1, 64)
	return []sql.SQLObject{
		sql.NewSimpleCol(q.ApproxQuantile(value, quantile), alias+"_quantile"),
		sql.NewSimpleCol(fmt.Sprintf("COUNT(%s)", value), alias+"_quantile_n"),
	}, nil
}

func capValue(d dialect.Dialect, m *model.FactMetric, col string) (string, error) {
	q, err := d.Quantile()
	if err != nil {
		return "", err
	}
	value := col
	if m.CappingSettings.IgnoreZeros {
		value = fmt.Sprintf("CASE WHEN %s != 0 THEN %s ELSE NULL END", col, col)
	}
	return q.ApproxQuantile(value, strconv.FormatFloat(m.CappingSettings.Value, 'f', -1, 64)), nil
}
