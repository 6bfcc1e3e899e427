package dialect

import "fmt"

func newDatabricks() *sqlDialect {
	d := newBase("databricks", "Databricks", "sql")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		return fmt.Sprintf("timestampadd(%s,%s,%s)", unit, signed(sign, amount), col)
	}
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("datediff(%s, %s)", endCol, startCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf("date_format(%s, 'y-MM-dd')", col)
	}
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf("date_format(%s, 'y-MM-dd HH:mm:ss.SSS')", col)
	}
	d.castToString = func(col string) string {
		return fmt.Sprintf("cast(%s as string)", col)
	}
	d.ensureFloat = func(col string) string {
		return fmt.Sprintf("cast(%s as double)", col)
	}
	d.escapeStringLiteral = backslashEscape
	d.extractJSON = func(col string, path []PathPart) string {
		return fmt.Sprintf("%s:%s", col, colonPath(path))
	}
	d.dataTypes = map[DataType]string{
		TypeString:    "STRING",
		TypeInteger:   "INT",
		TypeFloat:     "DOUBLE",
		TypeBoolean:   "BOOLEAN",
		TypeDate:      "DATE",
		TypeTimestamp: "TIMESTAMP",
		TypeHLL:       "BINARY",
	}
	d.hll = newHLL(fn("HLL_SKETCH_AGG"), fn("HLL_UNION_AGG"), fn("HLL_SKETCH_ESTIMATE"), castTo("BINARY"))
	d.quantile = &quantileFuncs{approx: approxPercentile, efficient: true, testing: true}
	return d
}
