package dialect

import (
	"fmt"
	"strings"
)

func newMySQL() *sqlDialect {
	d := newBase("mysql", "MySQL", "mysql")
	d.addTime = func(col string, unit TimeUnit, sign string, amount int) string {
		op := "DATE_ADD"
		if sign == "-" {
			op = "DATE_SUB"
		}
		return fmt.Sprintf("%s(%s, INTERVAL %d %s)", op, col, amount, strings.ToUpper(string(unit)))
	}
	d.dateTrunc = fn("DATE")
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("DATEDIFF(%s, %s)", endCol, startCol)
	}
	d.formatDate = func(col string) string {
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", col)
	}
	d.formatDateTimeString = func(col string) string {
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:%%S')", col)
	}
	d.castToString = func(col string) string {
		return fmt.Sprintf("cast(%s as char)", col)
	}
	d.ensureFloat = castTo("DOUBLE")
	d.escapeStringLiteral = backslashEscape
	d.extractJSON = func(col string, path []PathPart) string {
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, '%s'))", col, dollarPath(path))
	}
	d.evalBoolean = func(col string, value bool) string {
		if value {
			return col + " = 1"
		}
		return col + " = 0"
	}
	d.dataTypes = map[DataType]string{
		TypeString:    "VARCHAR(256)",
		TypeInteger:   "INT",
		TypeFloat:     "DOUBLE",
		TypeBoolean:   "BOOLEAN",
		TypeDate:      "DATE",
		TypeTimestamp: "DATETIME",
	}
	d.quantile = nil
	return d
}
