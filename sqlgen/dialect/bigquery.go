package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const bigQueryQuantileMultiplier = 10000

func newBigQuery() *sqlDialect {
	d := newBase("bigquery", "BigQuery", "bigquery")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		op := "DATETIME_ADD"
		if sign == "-" {
			op = "DATETIME_SUB"
		}
		return fmt.Sprintf("%s(%s, INTERVAL %d %s)", op, col, amount, strings.ToUpper(string(unit)))
	}
	d.dateTrunc = func(col string) string {
		return fmt.Sprintf("date_trunc(%s, DAY)", col)
	}
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("date_diff(%s, %s, DAY)", endCol, startCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf(`format_date("%%F", %s)`, col)
	}
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf(`format_datetime("%%F %%T", %s)`, col)
	}
	d.castToString = func(col string) string {
		return fmt.Sprintf("cast(%s as string)", col)
	}
	d.castUserDateCol = func(col string) string {
		return fmt.Sprintf("CAST(%s as DATETIME)", col)
	}
	d.ensureFloat = castTo("FLOAT64")
	d.escapeStringLiteral = backslashEscape
	d.extractJSON = func(col string, path []PathPart) string {
		return fmt.Sprintf("JSON_VALUE(%s, '%s')", col, dollarPath(path))
	}
	d.dataTypes = map[DataType]string{
		TypeString:    "STRING",
		TypeInteger:   "INT64",
		TypeFloat:     "FLOAT64",
		TypeBoolean:   "BOOL",
		TypeDate:      "DATE",
		TypeTimestamp: "TIMESTAMP",
		TypeHLL:       "BYTES",
	}
	d.hll = newHLL(fn("HLL_COUNT.INIT"), fn("HLL_COUNT.MERGE_PARTIAL"), fn("HLL_COUNT.EXTRACT"), castTo("BYTES"))
	d.quantile = &quantileFuncs{approx: bigQueryApproxQuantile, efficient: true, testing: true}
	return d
}

// bigQueryApproxQuantile only has an integer OFFSET API. A literal quantile
// is multiplied out here; anything else, including a literal 0, is
// multiplied inside the generated SQL.
func bigQueryApproxQuantile(value string, quantile string) string {
	offset := fmt.Sprintf("%d * %s", bigQueryQuantileMultiplier, quantile)
	if q, err := strconv.ParseFloat(strings.TrimSpace(quantile), 64); err == nil && q != 0 {
		offset = strconv.FormatInt(int64(math.Trunc(bigQueryQuantileMultiplier*q)), 10)
	}
	return fmt.Sprintf("APPROX_QUANTILES(%s, %d IGNORE NULLS)[OFFSET(CAST(%s AS INT64))]",
		value, bigQueryQuantileMultiplier, offset)
}
