package dialect

import (
	"fmt"
	"strings"
	"time"
)

func newClickHouse() *sqlDialect {
	d := newBase("clickhouse", "ClickHouse", "")
	d.toTimestamp = func(t time.Time) string {
		return fmt.Sprintf("toDateTime('%s', 'UTC')", t.UTC().Format(timestampLayout))
	}
	d.toTimestampWithMs = func(t time.Time) string {
		return fmt.Sprintf("toDateTime64('%s', 3, 'UTC')", t.UTC().Format(timestampMsLayout))
	}
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		op := "dateAdd"
		if sign == "-" {
			op = "dateSub"
		}
		return fmt.Sprintf("%s(%s, %d, %s)", op, unit, amount, col)
	}
	d.dateTrunc = func(col string) string {
		return fmt.Sprintf("dateTrunc('day', %s)", col)
	}
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("dateDiff('day', %s, %s)", startCol, endCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf("formatDateTime(%s, '%%F')", col)
	}
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf("formatDateTime(%s, '%%Y-%%m-%%d %%H:%%i:%%S')", col)
	}
	d.castToString = fn("toString")
	d.castToDate = fn("toDate")
	d.ensureFloat = fn("toFloat64")
	d.escapeStringLiteral = backslashEscape
	d.extractJSON = clickHouseJSONField
	d.jsonNumeric = fn("toFloat64OrNull")
	d.evalBoolean = func(col string, value bool) string {
		return fmt.Sprintf("%s = %t", col, value)
	}
	d.ifElse = func(condition string, ifTrue string, ifFalse string) string {
		return fmt.Sprintf("if(%s, %s, %s)", condition, ifTrue, ifFalse)
	}
	d.dataTypes = map[DataType]string{
		TypeString:    "String",
		TypeInteger:   "Int64",
		TypeFloat:     "Float64",
		TypeBoolean:   "Bool",
		TypeDate:      "Date",
		TypeTimestamp: "DateTime",
		TypeHLL:       "AggregateFunction(uniq, String)",
	}
	d.hll = newHLL(fn("uniqState"), fn("uniqMergeState"), fn("finalizeAggregation"),
		castTo("AggregateFunction(uniq, String)"))
	d.quantile = &quantileFuncs{
		approx: func(value string, quantile string) string {
			return fmt.Sprintf("quantile(%s)(%s)", quantile, value)
		},
		efficient: true,
		testing:   true,
	}
	return d
}

// clickHouseJSONField passes every step as an argument. Array positions
// are 1-based in ClickHouse.
func clickHouseJSONField(col string, path []PathPart) string {
	args := make([]string, 0, len(path)+1)
	args = append(args, col)
	for _, p := range path {
		if p.IsIndex {
			args = append(args, fmt.Sprintf("%d", p.Index+1))
			continue
		}
		args = append(args, "'"+backslashEscape(p.Key)+"'")
	}
	return fmt.Sprintf("JSONExtractString(%s)", strings.Join(args, ", "))
}
