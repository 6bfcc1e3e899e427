package experiment_planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/metrico/expsql/sqlgen/dialect"
)

type ConversionWindowParams struct {
	ValueCol string
	// MetricTimestampCol defaults to m.timestamp, BaseTimestampCol to
	// d.timestamp.
	MetricTimestampCol string
	BaseTimestampCol   string

	// Hours after the first exposure. A nil end leaves the window open.
	ConversionWindowStart float64
	ConversionWindowEnd   *float64
	// LookbackHours counts only events within that many hours before
	// EndDate.
	LookbackHours float64

	OverrideConversionWindows bool
	EndDate                   time.Time
}

// GenerateConversionWindowFilter nulls out metric values observed outside
// the metric window or after the analysis end date.
func GenerateConversionWindowFilter(d dialect.Dialect, p ConversionWindowParams) string {
	metricTs := p.MetricTimestampCol
	if metricTs == "" {
		metricTs = "m.timestamp"
	}
	baseTs := p.BaseTimestampCol
	if baseTs == "" {
		baseTs = "d.timestamp"
	}
	var conds []string
	if !p.OverrideConversionWindows {
		conds = append(conds, fmt.Sprintf("%s >= %s", metricTs, d.AddHours(baseTs, p.ConversionWindowStart)))
		if p.ConversionWindowEnd != nil {
			conds = append(conds, fmt.Sprintf("%s <= %s", metricTs, d.AddHours(baseTs, *p.ConversionWindowEnd)))
		}
		if p.LookbackHours > 0 {
			lookback := time.Duration(p.LookbackHours * float64(time.Hour))
			conds = append(conds, fmt.Sprintf("%s >= %s", metricTs, d.ToTimestampWithMs(p.EndDate.Add(-lookback))))
		}
	}
	conds = append(conds, fmt.Sprintf("%s <= %s", metricTs, d.ToTimestampWithMs(p.EndDate)))
	return fmt.Sprintf("CASE WHEN %s THEN %s ELSE NULL END", strings.Join(conds, " AND "), p.ValueCol)
}
