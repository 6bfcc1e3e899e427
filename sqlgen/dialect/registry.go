package dialect

import (
	"sort"
	"strings"

	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
)

var dialects = map[string]Dialect{}

var aliases = map[string]string{
	"bq":         "bigquery",
	"postgresql": "postgres",
	"pg":         "postgres",
	"trino":      "presto",
	"sqlserver":  "mssql",
	"tsql":       "mssql",
	"spark":      "databricks",
	"ch":         "clickhouse",
}

func init() {
	for _, d := range []*sqlDialect{
		newBigQuery(),
		newSnowflake(),
		newPostgres(),
		newRedshift(),
		newAthena(),
		newPresto(),
		newDatabricks(),
		newClickHouse(),
		newMySQL(),
		newMSSQL(),
	} {
		dialects[d.tp] = d
	}
}

// Get looks a dialect up by type or alias, case-insensitively.
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	if d, ok := dialects[key]; ok {
		return d, nil
	}
	return nil, custom_errors.NewConfigError("unknown dialect %q", name)
}

// All returns every registered dialect ordered by type.
func All() []Dialect {
	res := make([]Dialect, 0, len(dialects))
	for _, d := range dialects {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Type() < res[j].Type()
	})
	return res
}

func BigQuery() Dialect   { return dialects["bigquery"] }
func Snowflake() Dialect  { return dialects["snowflake"] }
func Postgres() Dialect   { return dialects["postgres"] }
func Redshift() Dialect   { return dialects["redshift"] }
func Athena() Dialect     { return dialects["athena"] }
func Presto() Dialect     { return dialects["presto"] }
func Databricks() Dialect { return dialects["databricks"] }
func ClickHouse() Dialect { return dialects["clickhouse"] }
func MySQL() Dialect      { return dialects["mysql"] }
func MSSQL() Dialect      { return dialects["mssql"] }
