package past_experiments_planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/planner/shared"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
	"github.com/sirupsen/logrus"
)

const (
	MaxRows = 3000
	// SafeRolloutPrefix marks tracking keys written by safe rollouts. They
	// are not experiments.
	SafeRolloutPrefix = "srk_"
	// ThresholdRatio of a variation's peak daily users a day needs to count.
	ThresholdRatio = 0.05
	MinDailyUsers  = 5
)

type ExposureQuery struct {
	ID         string `json:"id" yaml:"id" validate:"required"`
	UserIDType string `json:"userIdType" yaml:"userIdType" validate:"required"`
	SQL        string `json:"query" yaml:"query" validate:"required"`
}

type PastExperimentsParams struct {
	From            time.Time
	ExposureQueries []ExposureQuery
	// MaxRows defaults to 3000.
	MaxRows int
}

type Planner struct {
	Params PastExperimentsParams
}

func NewPlanner(p PastExperimentsParams) shared.SQLRequestPlanner {
	return &Planner{Params: p}
}

// GeneratePastExperimentsQuery lists the experiments and variations seen in
// the exposure queries since From.
func GeneratePastExperimentsQuery(d dialect.Dialect, p PastExperimentsParams) (string, error) {
	return shared.Render(shared.NewPlannerContext(d, nil), NewPlanner(p))
}

func (e *Planner) Process(ctx *shared.PlannerContext) (sql.ISelect, error) {
	d := ctx.Dialect
	p := e.Params
	if len(p.ExposureQueries) == 0 {
		return nil, custom_errors.NewConfigError("At least one exposure query is required")
	}
	maxRows := p.MaxRows
	if maxRows <= 0 {
		maxRows = MaxRows
	}

	var withs []*sql.With
	var exposures []sql.ISelect
	for i, q := range p.ExposureQueries {
		exposure, err := exposureCTE(d, q, p.From)
		if err != nil {
			return nil, err
		}
		w := sql.NewWith(exposure, fmt.Sprintf("__exposures%d", i))
		withs = append(withs, w)
		exposures = append(exposures, sql.NewSelect().
			Select(sql.NewRawObject("*")).
			From(sql.NewWithRef(w)))
	}
	experiments := exposures[0]
	if len(exposures) > 1 {
		experiments.UnionAll(exposures[1:]...)
	}
	withs = append(withs, sql.NewWith(experiments, "__experiments"))

	variationKey := []string{"exposure_query", "experiment_id", "variation_id"}
	thresholds := sql.NewSelect().
		Select(
			sql.NewSimpleCol("exposure_query", ""),
			sql.NewSimpleCol("experiment_id", ""),
			sql.NewSimpleCol("variation_id", ""),
			sql.NewSimpleCol(fmt.Sprintf("MAX(users) * %v", ThresholdRatio), "threshold"),
		).
		From(sql.NewRawObject("__experiments")).
		GroupBy(rawObjects(variationKey...)...)
	withs = append(withs, sql.NewWith(thresholds, "__userThresholds"))

	on := make([]sql.SQLCondition, len(variationKey))
	for i, k := range variationKey {
		on[i] = sql.FmtRawCondition("d.%s = u.%s", k, k)
	}
	variations := sql.NewSelect().
		Select(
			sql.NewSimpleCol("d.exposure_query", "exposure_query"),
			sql.NewSimpleCol("d.experiment_id", "experiment_id"),
			sql.NewSimpleCol("d.variation_id", "variation_id"),
			sql.NewSimpleCol("MIN(d.day)", "start_date"),
			sql.NewSimpleCol("MAX(d.day)", "end_date"),
			sql.NewSimpleCol("SUM(d.users)", "total_users"),
			sql.NewSimpleCol("MAX(d.latest_data)", "latest_data"),
		).
		From(sql.NewRawObject("__experiments d")).
		AddJoin(sql.NewJoin("", sql.NewRawObject("__userThresholds u"), sql.And(on...))).
		AndWhere(
			sql.NewRawCondition("d.users > u.threshold"),
			sql.FmtRawCondition("d.users > %d", MinDailyUsers),
		).
		GroupBy(rawObjects("d.exposure_query", "d.experiment_id", "d.variation_id")...)

	variationsWith := sql.NewWith(variations, "__variations")
	withs = append(withs, variationsWith)

	res := sql.NewSelect().
		Select(sql.NewRawObject("*")).
		From(sql.NewWithRef(variationsWith)).
		OrderBy(
			sql.NewOrderBy(sql.NewRawObject("start_date"), sql.ORDER_BY_DIRECTION_DESC),
			sql.NewOrderBy(sql.NewRawObject("experiment_id"), sql.ORDER_BY_DIRECTION_ASC),
			sql.NewOrderBy(sql.NewRawObject("variation_id"), sql.ORDER_BY_DIRECTION_ASC),
		).
		With(withs...)
	if d.LimitWithTop() {
		res.Top(sql.NewIntVal(int64(maxRows)))
	} else {
		res.Limit(sql.NewIntVal(int64(maxRows)))
	}

	logger.WithFields(logrus.Fields{
		"generator": "past_experiments",
		"dialect":   d.Type(),
		"exposures": len(p.ExposureQueries),
	}).Debug("past experiments query planned")
	return res, nil
}

func exposureCTE(d dialect.Dialect, q ExposureQuery, from time.Time) (sql.ISelect, error) {
	if strings.TrimSpace(q.SQL) == "" || q.UserIDType == "" {
		return nil, custom_errors.NewConfigError("Exposure query %s is missing SQL or user id type", q.ID)
	}
	exposureSQL, err := template.Compile(strings.TrimSpace(q.SQL), template.Variables{StartDate: from})
	if err != nil {
		return nil, err
	}
	users := fmt.Sprintf("COUNT(DISTINCT e.%s)", q.UserIDType)
	if hll, err := d.HLL(); err == nil {
		users = hll.HLLCardinality(hll.HLLAggregate("e." + q.UserIDType))
	}
	day := d.DateTrunc("e.timestamp")
	return sql.NewSelect().
		Select(
			sql.NewSimpleCol(d.CastToString(fmt.Sprintf("'%s'", d.EscapeStringLiteral(q.ID))), "exposure_query"),
			sql.NewSimpleCol("e.experiment_id", "experiment_id"),
			sql.NewSimpleCol(d.CastToString("e.variation_id"), "variation_id"),
			sql.NewSimpleCol(day, "day"),
			sql.NewSimpleCol(users, "users"),
			sql.NewSimpleCol("MAX(e.timestamp)", "latest_data"),
		).
		From(sql.NewRawObject(fmt.Sprintf("(\n%s\n) e", exposureSQL))).
		AndWhere(
			sql.FmtRawCondition("e.timestamp > %s", d.ToTimestamp(from)),
			sql.FmtRawCondition("SUBSTRING(e.experiment_id, 1, %d) <> '%s'",
				len(SafeRolloutPrefix), d.EscapeStringLiteral(SafeRolloutPrefix)),
		).
		GroupBy(
			sql.NewRawObject("e.experiment_id"),
			sql.NewRawObject(d.CastToString("e.variation_id")),
			sql.NewRawObject(day),
		), nil
}

func rawObjects(names ...string) []sql.SQLObject {
	res := make([]sql.SQLObject, len(names))
	for i, n := range names {
		res[i] = sql.NewRawObject(n)
	}
	return res
}
