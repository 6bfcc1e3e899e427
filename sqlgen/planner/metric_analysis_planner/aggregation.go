package metric_analysis_planner

import (
	"fmt"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
)

// AggregationFunctions turn a column into a per-user value. Full aggregates
// raw rows at once. Partial builds a per-day state that Reaggregate later
// combines across days.
type AggregationFunctions struct {
	Full        func(col string) string
	Partial     func(col string) string
	Reaggregate func(col string) string
}

func sameEverywhere(fn func(col string) string) AggregationFunctions {
	return AggregationFunctions{Full: fn, Partial: fn, Reaggregate: fn}
}

func coalesced(agg string) func(col string) string {
	return func(col string) string {
		return fmt.Sprintf("%s(COALESCE(%s, 0))", agg, col)
	}
}

// AggregationFor picks the aggregation of a column reference. Distinct
// counts go through HyperLogLog sketches where the dialect has them, else
// the daily distinct counts are summed.
func AggregationFor(d dialect.Dialect, ref *model.ColumnRef) AggregationFunctions {
	switch {
	case ref.Column == model.ColumnDistinctUsers:
		return sameEverywhere(coalesced("MAX"))
	case ref.Column == model.ColumnDistinctDates || ref.Aggregation == model.AggregationCountDistinct:
		res := AggregationFunctions{
			Full: func(col string) string {
				return fmt.Sprintf("COUNT(DISTINCT %s)", col)
			},
			Partial: func(col string) string {
				return fmt.Sprintf("COUNT(DISTINCT %s)", col)
			},
			Reaggregate: func(col string) string {
				return fmt.Sprintf("SUM(%s)", col)
			},
		}
		if hll, err := d.HLL(); err == nil && ref.Column != model.ColumnDistinctDates {
			res.Partial = hll.HLLAggregate
			res.Reaggregate = func(col string) string {
				return hll.HLLCardinality(hll.HLLReaggregate(col))
			}
		}
		return res
	case ref.Aggregation == model.AggregationMax:
		return sameEverywhere(coalesced("MAX"))
	}
	return AggregationFunctions{
		Full:    coalesced("SUM"),
		Partial: coalesced("SUM"),
		Reaggregate: func(col string) string {
			return fmt.Sprintf("SUM(%s)", col)
		},
	}
}

// MetricAggregation is AggregationFor with the metric type applied:
// proportion and retention numerators only record whether a user converted.
func MetricAggregation(d dialect.Dialect, m *model.FactMetric, useDenominator bool) AggregationFunctions {
	if !useDenominator && (m.MetricType == model.MetricTypeProportion || m.MetricType == model.MetricTypeRetention) {
		return sameEverywhere(coalesced("MAX"))
	}
	return AggregationFor(d, m.ColumnRef(useDenominator))
}
