package stat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	Observe("stat_test", "postgres", "SELECT 1")
	ObserveError("stat_test")

	res, err := Summary()
	require.NoError(t, err)
	assert.Contains(t, res, `expsql_queries_built_total{dialect="postgres",generator="stat_test"} 1`)
	assert.Contains(t, res, `expsql_query_build_errors_total{generator="stat_test"} 1`)
	assert.Contains(t, res, "# TYPE expsql_query_length_bytes histogram")
	assert.Contains(t, res, `expsql_query_length_bytes_bucket{le="256"}`)
	assert.NotContains(t, res, "go_goroutines")
}
