package cte

import (
	"fmt"
	"strings"

	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

type SegmentCTEParams struct {
	Segment    *model.Segment
	BaseIDType string
	IDJoinMap  model.IdentityJoinMap
	FactTables model.FactTableMap
	// Vars is optional. SQL segments are compiled only when it is set.
	Vars *template.Variables
}

// BuildSegmentCTE resolves a segment into (base id, date) rows.
func BuildSegmentCTE(d dialect.Dialect, p SegmentCTEParams) (string, error) {
	if p.Segment == nil {
		return "", custom_errors.NewConfigError("segment is not set")
	}
	if p.Segment.Type == model.SegmentFact {
		return factSegmentCTE(d, p)
	}
	return sqlSegmentCTE(d, p)
}

func segmentComment(s *model.Segment) string {
	return fmt.Sprintf("-- Segment (%s)\n", s.Name)
}

func sqlSegmentCTE(d dialect.Dialect, p SegmentCTEParams) (string, error) {
	s := p.Segment
	if strings.TrimSpace(s.SQL) == "" {
		return "", custom_errors.NewConfigError("Segment %s is missing SQL", s.ID)
	}
	segmentSQL := strings.TrimSpace(s.SQL)
	if p.Vars != nil {
		var err error
		segmentSQL, err = template.Compile(segmentSQL, *p.Vars)
		if err != nil {
			return "", err
		}
	}

	userIDType := s.GetUserIDType()
	dateCol := d.CastUserDateCol("s.date")
	sel := sql.NewSelect().From(subquery(segmentSQL, "s"))
	if userIDType != p.BaseIDType {
		table, ok := p.IDJoinMap[userIDType]
		if !ok || table == "" {
			return "", custom_errors.NewConfigError("Segment %s: no identity join from %s to %s",
				s.ID, userIDType, p.BaseIDType)
		}
		sel.Select(sql.NewSimpleCol("i."+p.BaseIDType, ""), sql.NewSimpleCol(dateCol, "date")).
			AddJoin(sql.NewJoin("", sql.NewRawObject(table+" i"),
				sql.FmtRawCondition("i.%s = s.%s", userIDType, userIDType)))
	} else {
		if dateCol == "s.date" {
			return segmentComment(s) + segmentSQL, nil
		}
		sel.Select(sql.NewSimpleCol("s."+userIDType, ""), sql.NewSimpleCol(dateCol, "date"))
	}
	str, err := sel.String(sql.NewCtx())
	if err != nil {
		return "", err
	}
	return segmentComment(s) + str, nil
}

func factSegmentCTE(d dialect.Dialect, p SegmentCTEParams) (string, error) {
	s := p.Segment
	if s.FactTableID == "" {
		return "", custom_errors.NewConfigError("Segment %s is missing a fact table", s.ID)
	}
	ft, ok := p.FactTables.Get(s.FactTableID)
	if !ok {
		return "", custom_errors.NewConfigError("Could not find fact table %s", s.FactTableID)
	}
	builder, err := d.FactSegments()
	if err != nil {
		return "", err
	}

	userIDCols := make(map[string]string, len(ft.UserIDTypes))
	for _, idType := range ft.UserIDTypes {
		userIDCols[idType] = "m." + idType
	}
	userIDCol, join := IdentityJoin(ft.UserIDTypes, p.BaseIDType, p.IDJoinMap, userIDCols)
	parts := dialect.FactSegmentParts{
		UserIDCol:    userIDCol,
		BaseIDType:   p.BaseIDType,
		FactTableSQL: ft.SQL,
	}
	if join != nil {
		str, err := join.String(sql.NewCtx())
		if err != nil {
			return "", err
		}
		parts.Join = "JOIN " + str
	}
	for _, id := range s.Filters {
		if f := ft.GetFilter(id); f != nil && strings.TrimSpace(f.Value) != "" {
			parts.Where = append(parts.Where, strings.TrimSpace(f.Value))
		}
	}

	vars := template.Variables{}
	if p.Vars != nil {
		vars = *p.Vars
	}
	vars.TemplateVariables = map[string]string{"eventName": ft.EventName}
	str, err := template.Compile(builder.FactSegmentSelect(parts), vars)
	if err != nil {
		return "", err
	}
	return segmentComment(s) + str, nil
}
