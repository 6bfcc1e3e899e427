package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/metrico/expsql/config"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const experimentJSON = `{
  "kind": "experiment",
  "dialect": "postgres",
  "experimentId": "exp_1",
  "startDate": "2024-01-01T00:00:00Z",
  "endDate": "2024-01-31T00:00:00Z",
  "factTables": [{
    "id": "ftb_orders",
    "sql": "SELECT user_id, timestamp, amount FROM orders",
    "userIdTypes": ["user_id"],
    "columns": [{"column": "amount", "datatype": "number"}]
  }],
  "experiment": {
    "exposureQuery": {
      "id": "exposures",
      "userIdType": "user_id",
      "query": "SELECT user_id, timestamp, experiment_id, variation_id FROM exposures"
    },
    "metrics": [{
      "id": "fact_revenue",
      "metricType": "mean",
      "numerator": {"factTableId": "ftb_orders", "column": "amount"},
      "cappingSettings": {"type": "percentile", "value": 0.9}
    }]
  }
}`

const metricYAML = `
kind: metric_cte
dialect: bigquery
startDate: 2024-01-01T00:00:00Z
factTables:
  - id: ftb_orders
    sql: SELECT user_id, timestamp, amount FROM orders
    userIdTypes: [user_id]
    columns:
      - column: amount
        datatype: number
metric:
  id: fact_revenue
  name: Revenue
  metricType: mean
  numerator:
    factTableId: ftb_orders
    column: amount
`

func testService() *Service {
	return NewFromConfig(config.Default())
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(experimentJSON), "")
	require.NoError(t, err)
	assert.Equal(t, KindExperiment, req.Kind)
	require.NotNil(t, req.Experiment)
	assert.Len(t, req.Experiment.Metrics, 1)
	assert.Equal(t, 2024, req.StartDate.Year())

	req, err = DecodeRequest([]byte(metricYAML), "")
	require.NoError(t, err)
	assert.Equal(t, KindMetricCTE, req.Kind)
	require.NotNil(t, req.Metric)
	assert.Equal(t, "amount", req.Metric.Numerator.Column)

	_, err = DecodeRequest([]byte("{"), "json")
	assert.Error(t, err)
	_, err = DecodeRequest([]byte("kind: x"), "toml")
	assert.True(t, custom_errors.IsConfigError(err))
}

func TestRender(t *testing.T) {
	req, err := DecodeRequest([]byte(metricYAML), "yaml")
	require.NoError(t, err)
	res, err := testService().Render(req)
	require.NoError(t, err)
	assert.Contains(t, res, "-- Metric (Revenue)")
	assert.Contains(t, res, "m.amount AS value")

	req, err = DecodeRequest([]byte(experimentJSON), "json")
	require.NoError(t, err)
	res, err = testService().Render(req)
	require.NoError(t, err)
	assert.Contains(t, res, "__capValue AS (")
	assert.Contains(t, res, "\n  SELECT")

	s := New(Options{DefaultDialect: "postgres"})
	res, err = s.Render(req)
	require.NoError(t, err)
	assert.NotContains(t, res, "\n  ")
}

func TestRenderErrors(t *testing.T) {
	s := testService()

	req, err := DecodeRequest([]byte(metricYAML), "yaml")
	require.NoError(t, err)
	req.Dialect = "oracle"
	_, err = s.Render(req)
	assert.True(t, custom_errors.IsConfigError(err))

	req.Dialect = ""
	req.Kind = "unknown"
	_, err = s.Render(req)
	assert.True(t, custom_errors.IsValidationError(err))

	req.Kind = KindMetricAnalysis
	req.Metric = nil
	_, err = s.Render(req)
	assert.True(t, custom_errors.IsValidationError(err))

	req.Kind = KindSegmentCTE
	_, err = s.Render(req)
	assert.True(t, custom_errors.IsValidationError(err))
}

func TestRenderMetricCTERejectsInvalidAggregation(t *testing.T) {
	req, err := DecodeRequest([]byte(metricYAML), "yaml")
	require.NoError(t, err)
	req.Metric.Numerator.Aggregation = model.AggregationCountDistinct
	res, err := testService().Render(req)
	assert.True(t, custom_errors.IsValidationError(err))
	assert.Empty(t, res)

	req.Metric.Numerator.Aggregation = ""
	req.Metric.Numerator.FactTableID = "ftb_missing"
	_, err = testService().Render(req)
	assert.True(t, custom_errors.IsConfigError(err))
}

func TestRenderMetricAnalysisHistogram(t *testing.T) {
	req, err := DecodeRequest([]byte(metricYAML), "yaml")
	require.NoError(t, err)
	req.Kind = KindMetricAnalysis
	res, err := testService().Render(req)
	require.NoError(t, err)
	assert.Contains(t, res, fmt.Sprintf("AS units_bin_%d", config.DefaultHistogramBins-1))

	cfg := config.Default()
	cfg.SQL.HistogramBins = 0
	off := NewFromConfig(cfg)
	res, err = off.Render(req)
	require.NoError(t, err)
	assert.NotContains(t, res, "__histogram")
	assert.NotContains(t, res, "units_bin_")

	req.HistogramBins = 3
	res, err = off.Render(req)
	require.NoError(t, err)
	assert.Contains(t, res, "AS units_bin_2")
	assert.NotContains(t, res, "units_bin_3")
}

func TestRenderAll(t *testing.T) {
	req, err := DecodeRequest([]byte(experimentJSON), "json")
	require.NoError(t, err)
	s := testService()
	s.opts.Parallelism = 3

	res, err := s.RenderAll(context.Background(), req, dialect.All())
	require.NoError(t, err)
	require.Len(t, res, len(dialect.All()))
	for i, r := range res {
		assert.Equal(t, dialect.All()[i].Type(), r.Dialect)
		if r.Dialect == "mysql" {
			assert.Contains(t, r.Error, "does not support")
			assert.Equal(t, 501, r.Code)
			assert.Empty(t, r.SQL)
			continue
		}
		assert.Empty(t, r.Error, r.Dialect)
		assert.True(t, strings.HasPrefix(r.SQL, "WITH"), r.Dialect)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.RenderAll(ctx, req, dialect.All())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRenderPastExperiments(t *testing.T) {
	req, err := DecodeRequest([]byte(`{
  "kind": "past_experiments",
  "dialect": "mssql",
  "startDate": "2023-06-01T00:00:00Z",
  "pastExperiments": {
    "exposureQueries": [{"id": "q", "userIdType": "user_id", "query": "SELECT * FROM exposures"}]
  }
}`), "")
	require.NoError(t, err)
	res, err := testService().Render(req)
	require.NoError(t, err)
	assert.Contains(t, res, "SELECT TOP 3000")
	assert.Contains(t, res, "<> 'srk_'")
	assert.Contains(t, res, "AS total_users")
}

func TestDialects(t *testing.T) {
	infos := Dialects()
	require.Len(t, infos, 10)
	byType := map[string]DialectInfo{}
	for _, i := range infos {
		byType[i.Type] = i
	}
	assert.False(t, byType["mysql"].Quantiles)
	assert.True(t, byType["bigquery"].CountDistinctHLL)
	assert.False(t, byType["postgres"].EfficientPercentile)
	assert.True(t, byType["postgres"].Quantiles)

	data, err := DialectsJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type": "clickhouse"`)
}
