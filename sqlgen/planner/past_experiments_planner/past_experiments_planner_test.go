package past_experiments_planner

import (
	"strings"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy/v2"
	"github.com/metrico/expsql/sqlgen/dialect"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params() PastExperimentsParams {
	return PastExperimentsParams{
		From: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		ExposureQueries: []ExposureQuery{
			{ID: "user_exposures", UserIDType: "user_id",
				SQL: "SELECT user_id, timestamp, experiment_id, variation_id FROM exposures"},
			{ID: "anon_exposures", UserIDType: "anonymous_id",
				SQL: "SELECT anonymous_id, timestamp, experiment_id, variation_id FROM anon_exposures"},
		},
	}
}

func TestGeneratePastExperimentsQueryNoExposures(t *testing.T) {
	_, err := GeneratePastExperimentsQuery(dialect.Postgres(), PastExperimentsParams{})
	require.Error(t, err)
	assert.True(t, custom_errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "At least one exposure query is required")
}

func TestGeneratePastExperimentsQuery(t *testing.T) {
	res, err := GeneratePastExperimentsQuery(dialect.Postgres(), params())
	require.NoError(t, err)
	for _, s := range []string{
		"__exposures0 AS (",
		"__exposures1 AS (",
		"__experiments AS (",
		"__userThresholds AS (",
		"__variations AS (",
		"cast('user_exposures' as varchar) AS exposure_query",
		"COUNT(DISTINCT e.anonymous_id) AS users",
		"e.timestamp > '2023-06-01 00:00:00'",
		"SUBSTRING(e.experiment_id, 1, 4) <> 'srk_'",
		"UNION ALL",
		"MAX(users) * 0.05 AS threshold",
		"d.users > u.threshold",
		"d.users > 5",
		"MIN(d.day) AS start_date",
		"SUM(d.users) AS total_users",
	} {
		assert.Contains(t, res, s)
	}
	assert.True(t, strings.HasSuffix(res, "SELECT\n  *\nFROM __variations\n"+
		"ORDER BY start_date DESC, experiment_id ASC, variation_id ASC\nLIMIT 3000"), res)
	assert.NotContains(t, res, "LIKE")
}

func TestGeneratePastExperimentsQuerySnapshot(t *testing.T) {
	p := params()
	p.ExposureQueries = p.ExposureQueries[:1]
	res, err := GeneratePastExperimentsQuery(dialect.Postgres(), p)
	require.NoError(t, err)
	cupaloy.SnapshotT(t, res)
}

func TestGeneratePastExperimentsQueryHLL(t *testing.T) {
	d := dialect.BigQuery()
	hll, err := d.HLL()
	require.NoError(t, err)
	res, err := GeneratePastExperimentsQuery(d, params())
	require.NoError(t, err)
	assert.Contains(t, res, hll.HLLCardinality(hll.HLLAggregate("e.user_id"))+" AS users")
	assert.NotContains(t, res, "COUNT(DISTINCT")
}

func TestGeneratePastExperimentsQueryErrors(t *testing.T) {
	p := params()
	p.ExposureQueries[1].SQL = "  "
	_, err := GeneratePastExperimentsQuery(dialect.Postgres(), p)
	assert.True(t, custom_errors.IsConfigError(err))

	p = params()
	p.ExposureQueries[0].SQL = "SELECT * FROM {{missing}}"
	_, err = GeneratePastExperimentsQuery(dialect.Postgres(), p)
	assert.True(t, custom_errors.IsConfigError(err))
}

func TestGeneratePastExperimentsQueryAllDialects(t *testing.T) {
	for _, d := range dialect.All() {
		t.Run(d.Type(), func(t *testing.T) {
			res, err := GeneratePastExperimentsQuery(d, params())
			require.NoError(t, err)
			assert.Contains(t, res, "3000")
			assert.Contains(t, res, "ORDER BY start_date DESC, experiment_id ASC, variation_id ASC")
			assert.Contains(t, res, "<> 'srk_'")
			assert.NotContains(t, res, "'srk_%'")
			assert.True(t, strings.HasPrefix(res, "WITH\n__exposures0 AS ("), res)
			assert.Equal(t, strings.Count(res, "("), strings.Count(res, ")"))
		})
	}

	p := params()
	p.MaxRows = 10
	res, err := GeneratePastExperimentsQuery(dialect.MSSQL(), p)
	require.NoError(t, err)
	assert.NotContains(t, res, "3000")
	assert.Contains(t, res, "\nSELECT TOP 10\n")
	assert.NotContains(t, res, "LIMIT")
}
