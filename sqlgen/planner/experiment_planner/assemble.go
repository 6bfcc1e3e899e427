package experiment_planner

import (
	"strconv"

	"github.com/metrico/expsql/sqlgen/dialect"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/metrico/expsql/sqlgen/utils/sqlfmt"
)

const (
	FactTableTable      = "__factTable"
	UserMetricJoinTable = "__userMetricJoin"
)

type CTE struct {
	Name  string
	Query sql.SQLObject
}

// FactTableGroup holds the prebuilt CTEs of the metrics reading one fact
// table. CapValue, Covariate and the quantile CTEs are optional.
type FactTableGroup struct {
	FactTable      sql.SQLObject
	UserMetricJoin sql.SQLObject
	UserMetricAgg  sql.SQLObject
	CapValue       sql.SQLObject
	Covariate      sql.SQLObject
	EventQuantile  sql.SQLObject
	UnitQuantile   sql.SQLObject
}

type AssembleParams struct {
	IdentityCTEs    []CTE
	ExperimentUnits sql.SQLObject
	DistinctUsers   sql.SQLObject
	FactTableGroups []FactTableGroup
	Statistics      sql.ISelect
}

// GroupSuffix names the CTEs of the i-th fact table group: "", "1", "2"...
func GroupSuffix(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}

// AssembleExperimentFactMetricsQuery chains the CTEs in dependency order in
// front of the statistics select and pretty-prints the result.
func AssembleExperimentFactMetricsQuery(d dialect.Dialect, p AssembleParams) (string, error) {
	sel, err := assemble(p)
	if err != nil {
		return "", err
	}
	str, err := sel.String(sql.NewCtx())
	if err != nil {
		return "", err
	}
	return sqlfmt.Format(str, d.FormatDialect()), nil
}

func assemble(p AssembleParams) (sql.ISelect, error) {
	if p.Statistics == nil || p.DistinctUsers == nil {
		return nil, custom_errors.NewConfigError("distinct users and statistics are required")
	}
	var withs []*sql.With
	for _, c := range p.IdentityCTEs {
		withs = append(withs, sql.NewWith(c.Query, c.Name))
	}
	if p.ExperimentUnits != nil {
		withs = append(withs, sql.NewWith(p.ExperimentUnits, ExperimentUnitsTable))
	}
	withs = append(withs, sql.NewWith(p.DistinctUsers, DistinctUsersTable))
	for i, g := range p.FactTableGroups {
		s := GroupSuffix(i)
		withs = append(withs,
			sql.NewWith(g.FactTable, FactTableTable+s),
			sql.NewWith(g.UserMetricJoin, UserMetricJoinTable+s),
			sql.NewWith(g.UserMetricAgg, UserMetricAggTable+s),
		)
		if g.CapValue != nil {
			withs = append(withs, sql.NewWith(g.CapValue, CapValueTable+s))
		}
		if g.Covariate != nil {
			withs = append(withs, sql.NewWith(g.Covariate, CovariateMetricTable+s))
		}
		if g.EventQuantile != nil {
			withs = append(withs, sql.NewWith(g.EventQuantile, EventQuantileTable+s))
		}
		if g.UnitQuantile != nil {
			withs = append(withs, sql.NewWith(g.UnitQuantile, UnitQuantileTable+s))
		}
	}
	return p.Statistics.With(withs...), nil
}
