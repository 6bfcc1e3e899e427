package experiment_planner

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/metrico/expsql/sqlgen/dialect"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

const (
	ExperimentUnitsTable = "__experimentUnits"
	DistinctUsersTable   = "__distinctUsers"
)

// CovariateWindow is the pre-exposure window of one regression adjusted
// metric, relative to the first exposure.
type CovariateWindow struct {
	Alias         string
	DelayHours    float64
	LookbackHours float64
}

type DistinctUsersParams struct {
	BaseIDType string
	// Source defaults to __experimentUnits.
	Source     sql.SQLObject
	Dimensions []string
	Conditions []string
	// BanditDates are the starts of bandit periods after the first one.
	BanditDates []time.Time
	Covariates  []CovariateWindow
}

// GenerateDistinctUsersCTE projects one row per experiment unit with its
// variation, dimensions, first exposure and the windows later stages use.
func GenerateDistinctUsersCTE(d dialect.Dialect, p DistinctUsersParams) sql.ISelect {
	from := p.Source
	if from == nil {
		from = sql.NewRawObject(ExperimentUnitsTable)
	}
	sel := sql.NewSelect().
		Select(sql.NewSimpleCol(p.BaseIDType, "")).
		From(from).
		AndWhere(sql.RawConditions(p.Conditions...)...)
	for _, dim := range p.Dimensions {
		sel.AddSelect(sql.NewSimpleCol(dim, ""))
	}
	sel.AddSelect(
		sql.NewSimpleCol("variation", ""),
		sql.NewSimpleCol("first_exposure_timestamp", "timestamp"),
		sql.NewSimpleCol(d.DateTrunc("first_exposure_timestamp"), "first_exposure_date"),
	)
	if len(p.BanditDates) > 0 {
		sel.AddSelect(sql.NewSimpleCol(banditCaseWhen(d, p.BanditDates), "bandit_period"))
	}
	if len(p.Covariates) > 0 {
		minStart := p.Covariates[0].DelayHours - p.Covariates[0].LookbackHours
		maxEnd := p.Covariates[0].DelayHours
		for _, c := range p.Covariates[1:] {
			minStart = min(minStart, c.DelayHours-c.LookbackHours)
			maxEnd = max(maxEnd, c.DelayHours)
		}
		sel.AddSelect(
			sql.NewSimpleCol(d.AddHours("first_exposure_timestamp", minStart), "min_preexposure_start"),
			sql.NewSimpleCol(d.AddHours("first_exposure_timestamp", maxEnd), "max_preexposure_end"),
		)
		for _, c := range p.Covariates {
			sel.AddSelect(
				sql.NewSimpleCol(d.AddHours("first_exposure_timestamp", c.DelayHours-c.LookbackHours),
					c.Alias+"_preexposure_start"),
				sql.NewSimpleCol(d.AddHours("first_exposure_timestamp", c.DelayHours),
					c.Alias+"_preexposure_end"),
			)
		}
	}
	return sel
}

func banditCaseWhen(d dialect.Dialect, dates []time.Time) string {
	sorted := slices.Clone(dates)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })
	sb := strings.Builder{}
	sb.WriteString("CASE")
	for i, date := range sorted {
		fmt.Fprintf(&sb, " WHEN first_exposure_timestamp < %s THEN %d", d.ToTimestamp(date), i)
	}
	fmt.Fprintf(&sb, " ELSE %d END", len(sorted))
	return sb.String()
}
