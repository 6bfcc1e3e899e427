package shared

import (
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/metrico/expsql/sqlgen/utils/sqlfmt"
	"github.com/sirupsen/logrus"
)

// PlannerContext carries what every stage of one query build shares. It is
// created per build and never reused across goroutines.
type PlannerContext struct {
	Dialect    dialect.Dialect
	FactTables model.FactTableMap
	IDJoinMap  model.IdentityJoinMap
	BaseIDType string

	SQLCtx *sql.Ctx
}

func NewPlannerContext(d dialect.Dialect, factTables model.FactTableMap) *PlannerContext {
	return &PlannerContext{
		Dialect:    d,
		FactTables: factTables,
		BaseIDType: "user_id",
		SQLCtx:     sql.NewCtx(),
	}
}

type SQLRequestPlanner interface {
	Process(ctx *PlannerContext) (sql.ISelect, error)
}

// Render turns a planner result into SQL text pretty-printed for the
// dialect's formatter.
func Render(ctx *PlannerContext, planner SQLRequestPlanner) (string, error) {
	sel, err := planner.Process(ctx)
	if err != nil {
		return "", err
	}
	if ctx.SQLCtx == nil {
		ctx.SQLCtx = sql.NewCtx()
	}
	str, err := sel.String(ctx.SQLCtx)
	if err != nil {
		return "", err
	}
	logger.WithFields(logrus.Fields{
		"dialect": ctx.Dialect.Type(),
		"selects": ctx.SQLCtx.Rendered,
		"length":  len(str),
	}).Debug("planner rendered")
	return sqlfmt.Format(str, ctx.Dialect.FormatDialect()), nil
}
