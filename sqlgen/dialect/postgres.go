package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

func newPostgres() *sqlDialect {
	d := newBase("postgres", "Postgres", "postgresql")
	d.dateDiff = func(startCol string, endCol string) string {
		return fmt.Sprintf("%s::DATE - %s::DATE", endCol, startCol)
	}
	d.extractJSON = postgresJSONField
	d.jsonNumeric = func(expr string) string {
		return fmt.Sprintf("(%s)::float", expr)
	}
	// PERCENTILE_CONT sorts the whole group.
	d.quantile.efficient = false
	return d
}

func postgresJSONField(col string, path []PathPart) string {
	if len(path) == 1 && !path[0].IsIndex {
		return fmt.Sprintf("%s->>'%s'", col, strings.ReplaceAll(path[0].Key, "'", "''"))
	}
	keys := make([]string, len(path))
	for i, p := range path {
		if p.IsIndex {
			keys[i] = strconv.Itoa(p.Index)
			continue
		}
		keys[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(p.Key, `"`, `\"`), "'", "''") + `"`
	}
	return fmt.Sprintf("%s#>>'{%s}'", col, strings.Join(keys, ","))
}
