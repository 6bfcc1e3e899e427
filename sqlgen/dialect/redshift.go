package dialect

import (
	"fmt"
	"strings"
)

func newRedshift() *sqlDialect {
	d := newBase("redshift", "Redshift", "redshift")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		return fmt.Sprintf("DATEADD(%s, %s, %s)", unit, signed(sign, amount), col)
	}
	d.extractJSON = redshiftJSONField
	d.jsonNumeric = func(expr string) string {
		return fmt.Sprintf("(%s)::float", expr)
	}
	d.dataTypes[TypeHLL] = "HLLSKETCH"
	d.hll = newHLL(fn("HLL_CREATE_SKETCH"), fn("HLL_COMBINE"), fn("HLL_CARDINALITY"), castTo("HLLSKETCH"))
	d.quantile = &quantileFuncs{
		approx: func(value string, quantile string) string {
			return fmt.Sprintf("APPROXIMATE PERCENTILE_DISC(%s) WITHIN GROUP (ORDER BY %s)", quantile, value)
		},
		efficient: true,
		testing:   true,
	}
	return d
}

// redshiftJSONField walks object keys with JSON_EXTRACT_PATH_TEXT and
// array positions with JSON_EXTRACT_ARRAY_ELEMENT_TEXT.
func redshiftJSONField(col string, path []PathPart) string {
	cur := col
	var keys []string
	flush := func() {
		if len(keys) > 0 {
			cur = fmt.Sprintf("JSON_EXTRACT_PATH_TEXT(%s, %s)", cur, strings.Join(keys, ", "))
			keys = nil
		}
	}
	for _, p := range path {
		if p.IsIndex {
			flush()
			cur = fmt.Sprintf("JSON_EXTRACT_ARRAY_ELEMENT_TEXT(%s, %d)", cur, p.Index)
			continue
		}
		keys = append(keys, "'"+strings.ReplaceAll(p.Key, "'", "''")+"'")
	}
	flush()
	return cur
}
