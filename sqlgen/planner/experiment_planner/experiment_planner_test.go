package experiment_planner

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy/v2"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan31 = time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
)

func factTables() model.FactTableMap {
	return model.NewFactTableMap(
		&model.FactTable{
			ID:          "ftb_revenue",
			Name:        "Revenue",
			SQL:         "SELECT user_id, timestamp, amount FROM purchases",
			UserIDTypes: []string{"user_id"},
			Columns: []model.ColumnInterface{
				{Column: "amount", Datatype: model.DatatypeNumber},
			},
		},
		&model.FactTable{
			ID:          "ftb_pageviews",
			Name:        "Pageviews",
			SQL:         "SELECT user_id, timestamp, path FROM pageviews",
			UserIDTypes: []string{"user_id"},
			Columns: []model.ColumnInterface{
				{Column: "path", Datatype: model.DatatypeString},
			},
			Filters: []model.FactFilter{
				{ID: "flt_home", Name: "Home", Value: "path = '/'"},
			},
		},
	)
}

func cappedRevenue() *model.FactMetric {
	return &model.FactMetric{
		ID:         "fact_revenue",
		MetricType: model.MetricTypeMean,
		Numerator:  model.ColumnRef{FactTableID: "ftb_revenue", Column: "amount"},
		WindowSettings: model.WindowSettings{
			Type:        model.WindowConversion,
			WindowValue: 72,
			WindowUnit:  "hours",
		},
		CappingSettings: model.CappingSettings{Type: model.CappingPercentile, Value: 0.95},
	}
}

func revenuePerOrder() *model.FactMetric {
	return &model.FactMetric{
		ID:                          "fact_aov",
		MetricType:                  model.MetricTypeRatio,
		Numerator:                   model.ColumnRef{FactTableID: "ftb_revenue", Column: "amount"},
		Denominator:                 &model.ColumnRef{FactTableID: "ftb_revenue", Column: model.ColumnCount},
		RegressionAdjustmentEnabled: true,
		RegressionAdjustmentDays:    14,
	}
}

func homeVisitors() *model.FactMetric {
	return &model.FactMetric{
		ID:         "fact_home",
		MetricType: model.MetricTypeProportion,
		Numerator: model.ColumnRef{FactTableID: "ftb_pageviews", Column: model.ColumnDistinctUsers,
			Filters: []string{"flt_home"}},
	}
}

func experimentParams(metrics ...*model.FactMetric) ExperimentParams {
	return ExperimentParams{
		ExperimentID: "exp_1",
		ExposureQuery: ExposureQuery{
			ID:         "user_exposures",
			UserIDType: "user_id",
			SQL:        "SELECT user_id, timestamp, experiment_id, variation_id, country FROM exposures",
			Dimensions: []string{"country"},
		},
		StartDate:  jan1,
		EndDate:    jan31,
		Metrics:    metrics,
		Dimensions: []string{"country"},
	}
}

func statisticsAliases(cols []sql.SQLObject) []string {
	res := make([]string, len(cols))
	for i, c := range cols {
		res[i] = c.(sql.Aliased).GetAlias()
	}
	return res
}

func TestGenerateMetricStatisticsColumns(t *testing.T) {
	d := dialect.Postgres()
	for _, capped := range []bool{false, true} {
		for _, ratio := range []bool{false, true} {
			for _, ra := range []bool{false, true} {
				name := fmt.Sprintf("cap=%v,ratio=%v,ra=%v", capped, ratio, ra)
				t.Run(name, func(t *testing.T) {
					cols := GenerateMetricStatisticsColumns(d, MetricStatistics{
						Alias:                "m0",
						MetricID:             "met_1",
						IsPercentileCapped:   capped,
						IsRatioMetric:        ratio,
						IsRegressionAdjusted: ra,
					})
					b := func(v bool) int {
						if v {
							return 1
						}
						return 0
					}
					expected := 3 + b(capped) + 3*b(ratio) + b(capped)*b(ratio) + 3*b(ra) + 6*b(ratio)*b(ra)
					aliases := statisticsAliases(cols)
					assert.Len(t, aliases, expected)
					assert.Equal(t, []string{"m0_id", "m0_main_sum", "m0_main_sum_squares"}, aliases[:3])
					assert.Equal(t, capped, contains(aliases, "m0_main_cap_value"))
					assert.Equal(t, ratio, contains(aliases, "m0_denominator_sum"))
					assert.Equal(t, ratio, contains(aliases, "m0_main_denominator_sum_product"))
					assert.Equal(t, capped && ratio, contains(aliases, "m0_denominator_cap_value"))
					assert.Equal(t, ra, contains(aliases, "m0_covariate_sum"))
					assert.Equal(t, ra, contains(aliases, "m0_main_covariate_sum_product"))
					assert.Equal(t, ra && ratio, contains(aliases, "m0_denominator_pre_sum"))
					assert.Equal(t, ra && ratio, contains(aliases, "m0_denominator_post_denominator_pre_sum_product"))
				})
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func TestGenerateMetricStatisticsColumnsQuantile(t *testing.T) {
	cols := GenerateMetricStatisticsColumns(dialect.Postgres(), MetricStatistics{Alias: "m1", MetricID: "q",
		Suffix: "2", QuantileType: model.QuantileUnit})
	aliases := statisticsAliases(cols)
	assert.Equal(t, []string{"m1_id", "m1_main_sum", "m1_main_sum_squares", "m1_quantile", "m1_quantile_n"}, aliases)
	str, err := cols[3].String(sql.NewCtx())
	require.NoError(t, err)
	assert.Equal(t, "MAX(qu2.m1_quantile) AS m1_quantile", str)
}

func TestGenerateMetricStatisticsColumnsCapping(t *testing.T) {
	d := dialect.Postgres()
	ctx := sql.NewCtx()
	render := func(o sql.SQLObject) string {
		str, err := o.String(ctx, sql.STRING_OPT_INLINE_WITH)
		require.NoError(t, err)
		return str
	}

	cols := GenerateMetricStatisticsColumns(d, MetricStatistics{Alias: "m0", MetricID: "it's", Suffix: "1",
		IsPercentileCapped: true})
	assert.Equal(t, "'it''s' AS m0_id", render(cols[0]))
	assert.Equal(t, "SUM(LEAST(COALESCE(m1.m0_value, 0)::float, cap1.m0_value_cap)) AS m0_main_sum", render(cols[1]))
	assert.Equal(t, "MAX(cap1.m0_value_cap) AS m0_main_cap_value", render(cols[3]))

	cols = GenerateMetricStatisticsColumns(d, MetricStatistics{Alias: "m2", MetricID: "x", AbsoluteCap: 50})
	assert.Equal(t, "SUM(POWER(LEAST(COALESCE(m.m2_value, 0)::float, 50), 2)) AS m2_main_sum_squares", render(cols[2]))
}

func TestGenerateConversionWindowFilter(t *testing.T) {
	end := 72.0
	endDate := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	bq := dialect.BigQuery()
	res := GenerateConversionWindowFilter(bq, ConversionWindowParams{
		ValueCol:              "m.value",
		ConversionWindowStart: 1,
		ConversionWindowEnd:   &end,
		EndDate:               endDate,
	})
	assert.Equal(t, 2, strings.Count(res, " AND "))
	assert.Equal(t, fmt.Sprintf(
		"CASE WHEN m.timestamp >= %s AND m.timestamp <= %s AND m.timestamp <= %s THEN m.value ELSE NULL END",
		bq.AddHours("d.timestamp", 1), bq.AddHours("d.timestamp", 72), bq.ToTimestampWithMs(endDate)), res)
	assert.Contains(t, res, "m.timestamp <= '2024-01-31 23:59:59.000'")

	pg := dialect.Postgres()
	res = GenerateConversionWindowFilter(pg, ConversionWindowParams{
		ValueCol:              "m.value",
		ConversionWindowStart: 1,
		ConversionWindowEnd:   &end,
		EndDate:               endDate,
	})
	assert.Contains(t, res, "m.timestamp >= d.timestamp + INTERVAL '1 hours'")
	assert.Contains(t, res, "m.timestamp <= d.timestamp + INTERVAL '72 hours'")

	res = GenerateConversionWindowFilter(pg, ConversionWindowParams{
		ValueCol:                  "m.value",
		ConversionWindowStart:     1,
		ConversionWindowEnd:       &end,
		OverrideConversionWindows: true,
		EndDate:                   endDate,
	})
	assert.Equal(t, "CASE WHEN m.timestamp <= '2024-01-31 23:59:59.000' THEN m.value ELSE NULL END", res)

	res = GenerateConversionWindowFilter(pg, ConversionWindowParams{
		ValueCol:      "m.value",
		LookbackHours: 48,
		EndDate:       endDate,
	})
	assert.Equal(t, "CASE WHEN m.timestamp >= d.timestamp AND m.timestamp >= '2024-01-29 23:59:59.000' "+
		"AND m.timestamp <= '2024-01-31 23:59:59.000' THEN m.value ELSE NULL END", res)

	// fractional lookbacks are resolved to the millisecond
	res = GenerateConversionWindowFilter(bq, ConversionWindowParams{
		ValueCol:      "m.value",
		LookbackHours: 1.5,
		EndDate:       endDate,
	})
	assert.Contains(t, res, "m.timestamp >= "+bq.ToTimestampWithMs(endDate.Add(-90*time.Minute))+" AND")
	assert.NotContains(t, res, "INTERVAL")
}

func TestGenerateDistinctUsersCTE(t *testing.T) {
	d := dialect.Postgres()
	sel := GenerateDistinctUsersCTE(d, DistinctUsersParams{
		BaseIDType:  "user_id",
		Dimensions:  []string{"dim_country"},
		Conditions:  []string{"variation != '__multiple__'"},
		BanditDates: []time.Time{jan1.AddDate(0, 0, 14), jan1.AddDate(0, 0, 7)},
		Covariates: []CovariateWindow{
			{Alias: "m0", LookbackHours: 336},
			{Alias: "m2", DelayHours: 2, LookbackHours: 168},
		},
	})
	res, err := sel.String(sql.NewCtx())
	require.NoError(t, err)
	for _, line := range []string{
		"user_id",
		"dim_country",
		"first_exposure_timestamp AS timestamp",
		"date_trunc('day', first_exposure_timestamp) AS first_exposure_date",
		"CASE WHEN first_exposure_timestamp < '2024-01-08 00:00:00' THEN 0 " +
			"WHEN first_exposure_timestamp < '2024-01-15 00:00:00' THEN 1 ELSE 2 END AS bandit_period",
		"first_exposure_timestamp - INTERVAL '336 hours' AS min_preexposure_start",
		"first_exposure_timestamp + INTERVAL '2 hours' AS max_preexposure_end",
		"first_exposure_timestamp - INTERVAL '336 hours' AS m0_preexposure_start",
		"first_exposure_timestamp AS m0_preexposure_end",
		"first_exposure_timestamp - INTERVAL '166 hours' AS m2_preexposure_start",
		"first_exposure_timestamp + INTERVAL '2 hours' AS m2_preexposure_end",
		"FROM __experimentUnits",
		"WHERE variation != '__multiple__'",
	} {
		assert.Contains(t, res, line)
	}

	sel = GenerateDistinctUsersCTE(d, DistinctUsersParams{BaseIDType: "user_id"})
	res, err = sel.String(sql.NewCtx())
	require.NoError(t, err)
	assert.NotContains(t, res, "bandit_period")
	assert.NotContains(t, res, "preexposure")
	assert.NotContains(t, res, "WHERE")
}

func TestGenerateExperimentStatisticsSelect(t *testing.T) {
	d := dialect.Postgres()
	_, err := GenerateExperimentStatisticsSelect(d, StatisticsSelectParams{BaseIDType: "user_id"})
	require.Error(t, err)
	assert.True(t, custom_errors.IsConfigError(err))

	sel, err := GenerateExperimentStatisticsSelect(d, StatisticsSelectParams{
		BaseIDType: "user_id",
		Dimensions: []string{"dim_country"},
		Metrics: []MetricStatistics{
			{Alias: "m0", MetricID: "a", IsRatioMetric: true},
			{Alias: "m1", MetricID: "b", Suffix: "1", IsRegressionAdjusted: true, IsPercentileCapped: true},
		},
	})
	require.NoError(t, err)
	res, err := sel.String(sql.NewCtx())
	require.NoError(t, err)
	for _, line := range []string{
		"m.variation AS variation",
		"m.dim_country AS dim_country",
		"COUNT(*) AS users",
		"FROM __userMetricAgg m",
		"LEFT JOIN __userMetricAgg1 m1 ON (m1.user_id = m.user_id)",
		"LEFT JOIN __userCovariateMetric1 c1 ON (c1.user_id = m.user_id)",
		"CROSS JOIN __capValue1 cap1",
		"SUM(COALESCE(m.m0_denominator, 0)::float) AS m0_denominator_sum",
		"SUM(LEAST(COALESCE(c1.m1_value, 0)::float, cap1.m1_value_cap)) AS m1_covariate_sum",
		"GROUP BY m.variation, m.dim_country",
	} {
		assert.Contains(t, res, line)
	}
	assert.NotContains(t, res, "__userCovariateMetric ")
	assert.NotContains(t, res, "__capValue ")
}

func TestGenerateExperimentStatisticsSelectSnapshot(t *testing.T) {
	sel, err := GenerateExperimentStatisticsSelect(dialect.Postgres(), StatisticsSelectParams{
		BaseIDType: "user_id",
		Dimensions: []string{"dim_country"},
		Metrics: []MetricStatistics{
			{Alias: "m0", MetricID: "fact_aov", IsRatioMetric: true},
			{Alias: "m1", MetricID: "fact_q", Suffix: "1", IsPercentileCapped: true, QuantileType: model.QuantileUnit},
		},
	})
	require.NoError(t, err)
	res, err := sel.String(sql.NewCtx())
	require.NoError(t, err)
	cupaloy.SnapshotT(t, res)
}

func TestAssembleExperimentFactMetricsQuery(t *testing.T) {
	raw := func(s string) sql.SQLObject { return sql.NewRawObject(s) }
	group := func(name string) FactTableGroup {
		return FactTableGroup{
			FactTable:      raw("SELECT 'ft_" + name + "'"),
			UserMetricJoin: raw("SELECT 'join_" + name + "'"),
			UserMetricAgg:  raw("SELECT 'agg_" + name + "'"),
		}
	}
	second := group("1")
	second.CapValue = raw("SELECT 'cap_1'")
	third := group("2")
	third.Covariate = raw("SELECT 'cov_2'")
	params := AssembleParams{
		IdentityCTEs:    []CTE{{Name: "__identities0", Query: raw("SELECT 'ids'")}},
		ExperimentUnits: raw("SELECT 'units'"),
		DistinctUsers:   raw("SELECT 'distinct'"),
		FactTableGroups: []FactTableGroup{group("0"), second, third},
		Statistics: sql.NewSelect().
			Select(sql.NewRawObject("*")).
			From(sql.NewRawObject("__userMetricAgg m")),
	}

	res, err := AssembleExperimentFactMetricsQuery(dialect.ClickHouse(), params)
	require.NoError(t, err)
	order := []string{
		"__identities0 AS (",
		"__experimentUnits AS (",
		"__distinctUsers AS (",
		"__factTable AS (",
		"__userMetricJoin AS (",
		"__userMetricAgg AS (",
		"__factTable1 AS (",
		"__userMetricJoin1 AS (",
		"__userMetricAgg1 AS (",
		"__capValue1 AS (",
		"__factTable2 AS (",
		"__userMetricJoin2 AS (",
		"__userMetricAgg2 AS (",
		"__userCovariateMetric2 AS (",
		"FROM __userMetricAgg m",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(res, s)
		require.Greater(t, idx, last, s)
		last = idx
	}
	assert.True(t, strings.HasPrefix(res, "WITH"))
	assert.NotContains(t, res, "__capValue AS (")
	assert.NotContains(t, res, "__capValue2 AS (")
	assert.NotContains(t, res, "__userCovariateMetric1 AS (")

	res, err = AssembleExperimentFactMetricsQuery(dialect.Postgres(), params)
	require.NoError(t, err)
	assert.Contains(t, res, "\n  SELECT 'ids'\n")

	_, err = AssembleExperimentFactMetricsQuery(dialect.Postgres(), AssembleParams{})
	assert.True(t, custom_errors.IsConfigError(err))
}

func TestGenerateExperimentQuery(t *testing.T) {
	d := dialect.Postgres()
	res, err := GenerateExperimentQuery(d, factTables(),
		experimentParams(cappedRevenue(), revenuePerOrder(), homeVisitors()))
	require.NoError(t, err)
	for _, s := range []string{
		"__experimentUnits AS (",
		"__distinctUsers AS (",
		"__factTable AS (",
		"__userMetricAgg AS (",
		"__capValue AS (",
		"__userCovariateMetric AS (",
		"__factTable1 AS (",
		"__userMetricAgg1 AS (",
		"e.experiment_id = 'exp_1'",
		"MAX(e.country) AS dim_country",
		"variation != '__multiple__'",
		"CASE WHEN m.timestamp >= d.timestamp AND m.timestamp <= d.timestamp + INTERVAL '72 hours' " +
			"AND m.timestamp <= '2024-01-31 00:00:00.000' THEN m.m0_value ELSE NULL END AS m0_value",
		"PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY m0_value) AS m0_value_cap",
		"first_exposure_timestamp - INTERVAL '336 hours' AS m1_preexposure_start",
		"'2023-12-18 00:00:00'",
		"'2024-02-03 00:00:00'",
		"path = '/'",
		"MAX(cap.m0_value_cap) AS m0_main_cap_value",
		"AS m1_covariate_sum",
		"AS m2_main_sum",
		"LEFT JOIN __userMetricAgg1 m1 ON (m1.user_id = m.user_id)",
	} {
		assert.Contains(t, res, s)
	}
	assert.NotContains(t, res, "__capValue1 AS (")
	assert.NotContains(t, res, "__userCovariateMetric1 AS (")
}

func TestGenerateExperimentQueryErrors(t *testing.T) {
	fts := factTables()

	_, err := GenerateExperimentQuery(dialect.MySQL(), fts, experimentParams(cappedRevenue()))
	require.Error(t, err)
	assert.True(t, custom_errors.IsNotSupported(err))

	_, err = GenerateExperimentQuery(dialect.Postgres(), fts, experimentParams())
	assert.True(t, custom_errors.IsConfigError(err))

	_, err = GenerateExperimentQuery(dialect.MySQL(), fts, experimentParams(revenueQuantile(model.QuantileUnit, 0.5, false)))
	require.Error(t, err)
	assert.True(t, custom_errors.IsNotSupported(err))

	crossTable := revenuePerOrder()
	crossTable.Denominator = &model.ColumnRef{FactTableID: "ftb_pageviews", Column: model.ColumnCount}
	_, err = GenerateExperimentQuery(dialect.Postgres(), fts, experimentParams(crossTable))
	assert.True(t, custom_errors.IsConfigError(err))

	p := experimentParams(revenuePerOrder())
	p.ExposureQuery.SQL = ""
	_, err = GenerateExperimentQuery(dialect.Postgres(), fts, p)
	assert.True(t, custom_errors.IsConfigError(err))
}

func revenueQuantile(tp model.QuantileType, q float64, ignoreZeros bool) *model.FactMetric {
	return &model.FactMetric{
		ID:               "fact_revenue_q",
		MetricType:       model.MetricTypeQuantile,
		Numerator:        model.ColumnRef{FactTableID: "ftb_revenue", Column: "amount"},
		QuantileSettings: &model.QuantileSettings{Type: tp, Quantile: q, IgnoreZeros: ignoreZeros},
	}
}

func TestGenerateExperimentQueryQuantile(t *testing.T) {
	for _, d := range []dialect.Dialect{dialect.Postgres(), dialect.BigQuery()} {
		t.Run(d.Type(), func(t *testing.T) {
			q, err := d.Quantile()
			require.NoError(t, err)
			res, err := GenerateExperimentQuery(d, factTables(), experimentParams(
				revenueQuantile(model.QuantileEvent, 0.9, true),
				revenueQuantile(model.QuantileUnit, 0.5, false),
			))
			require.NoError(t, err)
			nonZero := "CASE WHEN m0_value != 0 THEN m0_value ELSE NULL END"
			for _, s := range []string{
				"__eventQuantileMetric AS (",
				"__unitQuantileMetric AS (",
				q.ApproxQuantile(nonZero, "0.9") + " AS m0_quantile",
				"COUNT(" + nonZero + ") AS m0_quantile_n",
				q.ApproxQuantile("m1_value", "0.5") + " AS m1_quantile",
				"COUNT(m1_value) AS m1_quantile_n",
				"LEFT JOIN __eventQuantileMetric qe ON (qe.variation = m.variation",
				"LEFT JOIN __unitQuantileMetric qu ON (qu.variation = m.variation",
				"qe.dim_country = m.dim_country)",
				"MAX(qe.m0_quantile) AS m0_quantile",
				"MAX(qu.m1_quantile_n) AS m1_quantile_n",
			} {
				assert.Contains(t, res, s)
			}
			// event quantiles read the windowed rows, unit quantiles the
			// per-user totals
			event := res[strings.Index(res, "__eventQuantileMetric AS ("):strings.Index(res, "__unitQuantileMetric AS (")]
			assert.Contains(t, event, "FROM __userMetricJoin\n")
			unit := res[strings.Index(res, "__unitQuantileMetric AS ("):]
			assert.Contains(t, unit, "FROM __userMetricAgg\n")
			assert.Less(t, strings.Index(res, "__userMetricAgg AS ("), strings.Index(res, "__eventQuantileMetric AS ("))
		})
	}
}

func TestGenerateExperimentQuerySegment(t *testing.T) {
	p := experimentParams(homeVisitors())
	p.Segment = &model.Segment{ID: "seg_1", Name: "Paying", Type: model.SegmentSQL,
		SQL: "SELECT user_id, date FROM paying_users"}
	res, err := GenerateExperimentQuery(dialect.Postgres(), factTables(), p)
	require.NoError(t, err)
	assert.Contains(t, res, "__segment AS (")
	assert.Contains(t, res, "JOIN __segment s ON (s.user_id = e.user_id)")
	assert.Contains(t, res, "s.date <= e.timestamp")
	assert.Less(t, strings.Index(res, "__segment AS ("), strings.Index(res, "__experimentUnits AS ("))
}

func TestGenerateExperimentQueryAllDialects(t *testing.T) {
	for _, d := range dialect.All() {
		t.Run(d.Type(), func(t *testing.T) {
			p := experimentParams(revenuePerOrder(), homeVisitors())
			p.BanditDates = []time.Time{jan1.AddDate(0, 0, 10)}
			res, err := GenerateExperimentQuery(d, factTables(), p)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(res, "WITH\n__experimentUnits AS ("), res)
			for _, s := range []string{
				d.AddHours("first_exposure_timestamp", -336) + " AS m0_preexposure_start",
				"AS bandit_period",
				"AS m0_main_denominator_sum_product",
				"AS m0_main_covariate_sum_product",
				"AS m1_main_sum",
				"LEFT JOIN __userMetricAgg1 m1 ON (m1.user_id = m.user_id)",
			} {
				assert.Contains(t, res, s)
			}
			assert.Equal(t, strings.Count(res, "("), strings.Count(res, ")"))
		})
	}
}
