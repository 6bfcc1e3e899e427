package dialect

import "time"

type TimeUnit string

const (
	UnitHour   TimeUnit = "hour"
	UnitMinute TimeUnit = "minute"
)

// DataType is a logical column type, mapped to a physical type per warehouse.
type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeFloat     DataType = "float"
	TypeBoolean   DataType = "boolean"
	TypeDate      DataType = "date"
	TypeTimestamp DataType = "timestamp"
	TypeHLL       DataType = "hll"
)

// AllDataTypes is the closed set DataType accepts.
var AllDataTypes = []DataType{TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeTimestamp, TypeHLL}

// Dialect is how one warehouse spells the SQL building blocks the CTE
// builders and generators need. Implementations are immutable and safe for
// concurrent use.
type Dialect interface {
	Type() string
	Name() string
	// FormatDialect names the pretty-printer grammar, "" when there is none.
	FormatDialect() string

	ToTimestamp(t time.Time) string
	ToTimestampWithMs(t time.Time) string
	AddHours(col string, hours float64) string
	AddTime(col string, unit TimeUnit, sign string, amount int) string
	DateTrunc(col string) string
	DateDiff(startCol string, endCol string) string
	FormatDate(col string) string
	FormatDateTimeString(col string) string

	CastToString(col string) string
	CastToDate(col string) string
	CastUserDateCol(col string) string
	EnsureFloat(col string) string
	EscapeStringLiteral(value string) string
	ExtractJSONField(jsonCol string, path string, isNumeric bool) (string, error)
	EvalBoolean(col string, value bool) string
	IfElse(condition string, ifTrue string, ifFalse string) string
	SelectStarLimit(table string, limit int) string
	// LimitWithTop reports whether row caps are written as SELECT TOP n.
	LimitWithTop() bool
	DataType(t DataType) (string, error)

	HasCountDistinctHLL() bool
	HLL() (HLL, error)
	HasQuantileSupport() bool
	Quantile() (Quantile, error)
	HasFactSegmentSupport() bool
	FactSegments() (FactSegmentBuilder, error)
}

// HLL is the approximate distinct count capability. It is only ever handed
// out complete.
type HLL interface {
	HLLAggregate(col string) string
	HLLReaggregate(col string) string
	HLLCardinality(col string) string
	CastToHLLDataType(col string) string
}

type Quantile interface {
	// ApproxQuantile accepts either a numeric literal ("0.5") or any SQL
	// expression as the quantile.
	ApproxQuantile(value string, quantile string) string
	HasEfficientPercentile() bool
	HasQuantileTesting() bool
}

// FactSegmentParts is the resolved input of a fact table segment.
type FactSegmentParts struct {
	UserIDCol    string
	BaseIDType   string
	FactTableSQL string
	Join         string
	Where        []string
}

type FactSegmentBuilder interface {
	FactSegmentSelect(p FactSegmentParts) string
}
