package dialect

import "fmt"

func newMSSQL() *sqlDialect {
	d := newBase("mssql", "MS SQL Server", "tsql")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		return fmt.Sprintf("DATEADD(%s, %s, %s)", unit, signed(sign, amount), col)
	}
	d.dateTrunc = func(col string) string {
		return fmt.Sprintf("cast(%s as DATE)", col)
	}
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("DATEDIFF(day, %s, %s)", startCol, endCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf("FORMAT(%s, 'yyyy-MM-dd')", col)
	}
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf("FORMAT(%s, 'yyyy-MM-dd HH:mm:ss')", col)
	}
	d.castToString = func(col string) string {
		return fmt.Sprintf("cast(%s as varchar(256))", col)
	}
	d.ensureFloat = castTo("FLOAT")
	d.extractJSON = func(col string, path []PathPart) string {
		return fmt.Sprintf("JSON_VALUE(%s, '%s')", col, dollarPath(path))
	}
	d.evalBoolean = func(col string, value bool) string {
		if value {
			return col + " = 1"
		}
		return col + " = 0"
	}
	d.topLimit = true
	d.dataTypes = map[DataType]string{
		TypeString:    "VARCHAR(256)",
		TypeInteger:   "INT",
		TypeFloat:     "FLOAT",
		TypeBoolean:   "BIT",
		TypeDate:      "DATE",
		TypeTimestamp: "DATETIME2",
	}
	d.quantile = &quantileFuncs{
		approx: func(value string, quantile string) string {
			return fmt.Sprintf("APPROX_PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", quantile, value)
		},
		efficient: true,
		testing:   false,
	}
	return d
}
