package dialect

import "fmt"

func newSnowflake() *sqlDialect {
	d := newBase("snowflake", "Snowflake", "snowflake")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		return fmt.Sprintf("DATEADD(%s, %s, %s)", unit, signed(sign, amount), col)
	}
	d.castToString = fn("TO_VARCHAR")
	d.ensureFloat = castTo("DOUBLE")
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf("TO_VARCHAR(%s, 'YYYY-MM-DD HH24:MI:SS.MS')", col)
	}
	d.extractJSON = func(col string, path []PathPart) string {
		return fmt.Sprintf("%s:%s::string", col, colonPath(path))
	}
	d.dataTypes = map[DataType]string{
		TypeString:    "VARCHAR",
		TypeInteger:   "INTEGER",
		TypeFloat:     "DOUBLE",
		TypeBoolean:   "BOOLEAN",
		TypeDate:      "DATE",
		TypeTimestamp: "TIMESTAMP",
		TypeHLL:       "BINARY",
	}
	d.hll = newHLL(fn("HLL_ACCUMULATE"), fn("HLL_COMBINE"), fn("HLL_ESTIMATE"), castTo("BINARY"))
	d.quantile = &quantileFuncs{approx: approxPercentile, efficient: true, testing: true}
	return d
}

// approxPercentile is the APPROX_PERCENTILE(value, q) aggregate shared by
// Snowflake, Trino and Databricks.
func approxPercentile(value string, quantile string) string {
	return fmt.Sprintf("APPROX_PERCENTILE(%s, %s)", value, quantile)
}
