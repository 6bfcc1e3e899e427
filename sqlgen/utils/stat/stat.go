package stat

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	QueriesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expsql_queries_built_total",
		Help: "The total number of SQL queries generated",
	}, []string{"generator", "dialect"})
	BuildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expsql_query_build_errors_total",
		Help: "The total number of failed query builds",
	}, []string{"generator"})
	QueryLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expsql_query_length_bytes",
		Help:    "Length of generated SQL in bytes",
		Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144},
	})
)

// Observe records one successful build.
func Observe(generator string, dialect string, sql string) {
	QueriesBuilt.WithLabelValues(generator, dialect).Inc()
	QueryLength.Observe(float64(len(sql)))
}

// ObserveError records one failed build.
func ObserveError(generator string) {
	BuildErrors.WithLabelValues(generator).Inc()
}

// Summary renders the expsql families of the default registry in the
// Prometheus text format.
func Summary() (string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", err
	}
	sb := strings.Builder{}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "expsql_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
