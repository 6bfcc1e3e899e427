package dialect

import (
	"fmt"
	"time"
)

func newPresto() *sqlDialect {
	return newTrinoFamily("presto", "Presto")
}

// newTrinoFamily is shared by Presto/Trino and Athena, which run the same
// engine.
func newTrinoFamily(tp string, name string) *sqlDialect {
	d := newBase(tp, name, "trino")
	d.toTimestamp = func(t time.Time) string {
		return fmt.Sprintf("from_iso8601_timestamp('%s')", t.UTC().Format("2006-01-02T15:04:05Z"))
	}
	d.toTimestampWithMs = func(t time.Time) string {
		return fmt.Sprintf("from_iso8601_timestamp('%s')", t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		return fmt.Sprintf("%s %s INTERVAL '%d' %s", col, sign, amount, unit)
	}
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("date_diff('day', %s, %s)", startCol, endCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf("substr(to_iso8601(%s),1,10)", col)
	}
	d.formatDateTimeString = fn("to_iso8601")
	d.ensureFloat = castTo("DOUBLE")
	d.dataTypes = map[DataType]string{
		TypeString:    "VARCHAR",
		TypeInteger:   "INTEGER",
		TypeFloat:     "DOUBLE",
		TypeBoolean:   "BOOLEAN",
		TypeDate:      "DATE",
		TypeTimestamp: "TIMESTAMP",
		TypeHLL:       "HyperLogLog",
	}
	d.hll = newHLL(fn("APPROX_SET"), fn("MERGE"), fn("CARDINALITY"), castTo("HyperLogLog"))
	d.quantile = &quantileFuncs{approx: approxPercentile, efficient: true, testing: true}
	return d
}
