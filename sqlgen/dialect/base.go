package dialect

import (
	"fmt"
	"math"
	"strings"
	"time"

	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
)

const (
	timestampLayout   = "2006-01-02 15:04:05"
	timestampMsLayout = "2006-01-02 15:04:05.000"
)

type hllFuncs struct {
	aggregate   func(col string) string
	reaggregate func(col string) string
	cardinality func(col string) string
	cast        func(col string) string
}

func (h *hllFuncs) HLLAggregate(col string) string      { return h.aggregate(col) }
func (h *hllFuncs) HLLReaggregate(col string) string    { return h.reaggregate(col) }
func (h *hllFuncs) HLLCardinality(col string) string    { return h.cardinality(col) }
func (h *hllFuncs) CastToHLLDataType(col string) string { return h.cast(col) }

func fn(name string) func(string) string {
	return func(col string) string {
		return fmt.Sprintf("%s(%s)", name, col)
	}
}

func castTo(tp string) func(string) string {
	return func(col string) string {
		return fmt.Sprintf("CAST(%s AS %s)", col, tp)
	}
}

func newHLL(aggregate, reaggregate, cardinality, cast func(string) string) *hllFuncs {
	return &hllFuncs{aggregate: aggregate, reaggregate: reaggregate, cardinality: cardinality, cast: cast}
}

type quantileFuncs struct {
	approx    func(value string, quantile string) string
	efficient bool
	testing   bool
}

func (q *quantileFuncs) ApproxQuantile(value string, quantile string) string {
	return q.approx(value, quantile)
}
func (q *quantileFuncs) HasEfficientPercentile() bool { return q.efficient }
func (q *quantileFuncs) HasQuantileTesting() bool     { return q.testing }

type factSegmentFunc func(p FactSegmentParts) string

func (f factSegmentFunc) FactSegmentSelect(p FactSegmentParts) string { return f(p) }

// sqlDialect is the ANSI-ish base. Warehouses are built by replacing the
// function slots that differ; the exported methods always go through the
// slots so that, for example, AddHours picks up an overridden addTime.
type sqlDialect struct {
	tp            string
	name          string
	formatDialect string

	toTimestamp          func(t time.Time) string
	toTimestampWithMs    func(t time.Time) string
	addTime              func(col string, unit TimeUnit, sign string, amount int) string
	dateTrunc            func(col string) string
	dateDiff             func(startCol string, endCol string) string
	formatDate           func(col string) string
	formatDateTimeString func(col string) string
	castToString         func(col string) string
	castToDate           func(col string) string
	castUserDateCol      func(col string) string
	ensureFloat          func(col string) string
	escapeStringLiteral  func(value string) string
	extractJSON          func(col string, path []PathPart) string
	// jsonNumeric wraps the string form of an extracted JSON field.
	jsonNumeric func(expr string) string
	evalBoolean func(col string, value bool) string
	ifElse      func(condition string, ifTrue string, ifFalse string) string
	dataTypes   map[DataType]string
	// topLimit dialects cap rows with SELECT TOP n instead of LIMIT n.
	topLimit bool

	hll         *hllFuncs
	quantile    *quantileFuncs
	factSegment factSegmentFunc
}

func newBase(tp string, name string, formatDialect string) *sqlDialect {
	d := &sqlDialect{
		tp:            tp,
		name:          name,
		formatDialect: formatDialect,
		toTimestamp: func(t time.Time) string {
			return "'" + t.UTC().Format(timestampLayout) + "'"
		},
		toTimestampWithMs: func(t time.Time) string {
			return "'" + t.UTC().Format(timestampMsLayout) + "'"
		},
		addTime: func(col string, unit TimeUnit, sign string, amount int) string {
			return fmt.Sprintf("%s %s INTERVAL '%d %ss'", col, sign, amount, unit)
		},
		dateTrunc: func(col string) string {
			return fmt.Sprintf("date_trunc('day', %s)", col)
		},
		dateDiff: func(startCol string, endCol string) string {
			return fmt.Sprintf("datediff(day, %s, %s)", startCol, endCol)
		},
		formatDate: func(col string) string {
			return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", col)
		},
		formatDateTimeString: func(col string) string {
			return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD HH24:MI:SS.MS')", col)
		},
		castToString: func(col string) string {
			return fmt.Sprintf("cast(%s as varchar)", col)
		},
		castToDate: castTo("DATE"),
		castUserDateCol: func(col string) string {
			return col
		},
		ensureFloat: func(col string) string {
			return col + "::float"
		},
		escapeStringLiteral: func(value string) string {
			return strings.ReplaceAll(value, "'", "''")
		},
		extractJSON: func(col string, path []PathPart) string {
			return fmt.Sprintf("json_extract_scalar(%s, '%s')", col, bracketPath(path))
		},
		evalBoolean: func(col string, value bool) string {
			if value {
				return col + " IS TRUE"
			}
			return col + " IS FALSE"
		},
		ifElse: func(condition string, ifTrue string, ifFalse string) string {
			return fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)", condition, ifTrue, ifFalse)
		},
		dataTypes: map[DataType]string{
			TypeString:    "VARCHAR",
			TypeInteger:   "INTEGER",
			TypeFloat:     "DOUBLE PRECISION",
			TypeBoolean:   "BOOLEAN",
			TypeDate:      "DATE",
			TypeTimestamp: "TIMESTAMP",
		},
		quantile: &quantileFuncs{
			approx: func(value string, quantile string) string {
				return fmt.Sprintf("PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", quantile, value)
			},
			efficient: true,
			testing:   true,
		},
	}
	d.jsonNumeric = func(expr string) string {
		return d.ensureFloat(expr)
	}
	d.factSegment = d.defaultFactSegment
	return d
}

func (d *sqlDialect) Type() string          { return d.tp }
func (d *sqlDialect) Name() string          { return d.name }
func (d *sqlDialect) FormatDialect() string { return d.formatDialect }

func (d *sqlDialect) ToTimestamp(t time.Time) string       { return d.toTimestamp(t) }
func (d *sqlDialect) ToTimestampWithMs(t time.Time) string { return d.toTimestampWithMs(t) }

// AddHours returns col untouched for 0 hours. Fractional hours switch the
// unit to minutes; the amount is rounded only after the unit is chosen.
func (d *sqlDialect) AddHours(col string, hours float64) string {
	if hours == 0 {
		return col
	}
	sign := "+"
	if hours < 0 {
		sign = "-"
	}
	unit := UnitHour
	amount := math.Abs(hours)
	if amount != math.Trunc(amount) {
		unit = UnitMinute
		amount *= 60
	}
	return d.addTime(col, unit, sign, int(math.Round(amount)))
}

func (d *sqlDialect) AddTime(col string, unit TimeUnit, sign string, amount int) string {
	return d.addTime(col, unit, sign, amount)
}

func (d *sqlDialect) DateTrunc(col string) string                    { return d.dateTrunc(col) }
func (d *sqlDialect) DateDiff(startCol string, endCol string) string { return d.dateDiff(startCol, endCol) }
func (d *sqlDialect) FormatDate(col string) string                   { return d.formatDate(col) }
func (d *sqlDialect) FormatDateTimeString(col string) string         { return d.formatDateTimeString(col) }
func (d *sqlDialect) CastToString(col string) string                 { return d.castToString(col) }
func (d *sqlDialect) CastToDate(col string) string                   { return d.castToDate(col) }
func (d *sqlDialect) CastUserDateCol(col string) string              { return d.castUserDateCol(col) }
func (d *sqlDialect) EnsureFloat(col string) string                  { return d.ensureFloat(col) }
func (d *sqlDialect) EscapeStringLiteral(value string) string        { return d.escapeStringLiteral(value) }

func (d *sqlDialect) ExtractJSONField(jsonCol string, path string, isNumeric bool) (string, error) {
	parts, err := ParseJSONPath(path)
	if err != nil {
		return "", custom_errors.NewValidationError("path", "%s", err.Error())
	}
	res := d.extractJSON(jsonCol, parts)
	if isNumeric {
		res = d.jsonNumeric(res)
	}
	return res, nil
}

func (d *sqlDialect) EvalBoolean(col string, value bool) string { return d.evalBoolean(col, value) }

func (d *sqlDialect) IfElse(condition string, ifTrue string, ifFalse string) string {
	return d.ifElse(condition, ifTrue, ifFalse)
}

func (d *sqlDialect) SelectStarLimit(table string, limit int) string {
	if d.topLimit {
		return fmt.Sprintf("SELECT TOP %d * FROM %s", limit, table)
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, limit)
}

func (d *sqlDialect) LimitWithTop() bool { return d.topLimit }

func (d *sqlDialect) DataType(t DataType) (string, error) {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate, TypeTimestamp:
		return d.dataTypes[t], nil
	case TypeHLL:
		if d.hll == nil {
			return "", custom_errors.NewNotSupportedError(d.name, "HyperLogLog")
		}
		return d.dataTypes[t], nil
	}
	return "", custom_errors.NewValidationError("dataType", "unknown data type %q", t)
}

func (d *sqlDialect) HasCountDistinctHLL() bool { return d.hll != nil }

func (d *sqlDialect) HLL() (HLL, error) {
	if d.hll == nil {
		return nil, custom_errors.NewNotSupportedError(d.name, "HyperLogLog")
	}
	return d.hll, nil
}

func (d *sqlDialect) HasQuantileSupport() bool { return d.quantile != nil }

func (d *sqlDialect) Quantile() (Quantile, error) {
	if d.quantile == nil {
		return nil, custom_errors.NewNotSupportedError(d.name, "approximate quantiles")
	}
	return d.quantile, nil
}

func (d *sqlDialect) HasFactSegmentSupport() bool { return d.factSegment != nil }

func (d *sqlDialect) FactSegments() (FactSegmentBuilder, error) {
	if d.factSegment == nil {
		return nil, custom_errors.NewNotSupportedError(d.name, "fact segments")
	}
	return d.factSegment, nil
}

func (d *sqlDialect) defaultFactSegment(p FactSegmentParts) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "SELECT\n%s AS %s,\n%s AS date\nFROM (\n%s\n) m", p.UserIDCol, p.BaseIDType,
		d.castUserDateCol("m.timestamp"), strings.TrimSpace(p.FactTableSQL))
	if p.Join != "" {
		sb.WriteString("\n" + p.Join)
	}
	if len(p.Where) > 0 {
		sb.WriteString("\nWHERE " + strings.Join(p.Where, "\nAND "))
	}
	return sb.String()
}

func signed(sign string, amount int) string {
	if sign == "-" {
		return fmt.Sprintf("-%d", amount)
	}
	return fmt.Sprintf("%d", amount)
}

// backslashEscape is the literal escaping of engines that treat \ as an
// escape character inside quoted strings.
func backslashEscape(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
