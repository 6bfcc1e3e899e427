package cte

import (
	"slices"

	"github.com/metrico/expsql/sqlgen/model"
	sql "github.com/metrico/expsql/sqlgen/utils/sql_select"
)

// IdentityJoin picks the column that yields baseIDType. A source that
// already carries the base id is used as is; otherwise the first of its id
// types with an entry in idJoinMap is joined in as "i". With no match the
// base id column is referenced anyway and the caller gets a failing query.
func IdentityJoin(userIDTypes []string, baseIDType string, idJoinMap model.IdentityJoinMap,
	userIDCols map[string]string) (string, *sql.Join) {
	if slices.Contains(userIDTypes, baseIDType) {
		return userIDCol(userIDCols, baseIDType), nil
	}
	for _, idType := range userIDTypes {
		table, ok := idJoinMap[idType]
		if !ok || table == "" {
			continue
		}
		join := sql.NewJoin("", sql.NewRawObject(table+" i"),
			sql.FmtRawCondition("i.%s = %s", idType, userIDCol(userIDCols, idType)))
		return "i." + baseIDType, join
	}
	return userIDCol(userIDCols, baseIDType), nil
}

func userIDCol(cols map[string]string, idType string) string {
	if col, ok := cols[idType]; ok {
		return col
	}
	return idType
}
