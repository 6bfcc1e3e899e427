package model

import "strings"

type ColumnDatatype string

const (
	DatatypeNumber  ColumnDatatype = "number"
	DatatypeString  ColumnDatatype = "string"
	DatatypeDate    ColumnDatatype = "date"
	DatatypeBoolean ColumnDatatype = "boolean"
	DatatypeJSON    ColumnDatatype = "json"
	DatatypeOther   ColumnDatatype = "other"
)

// Special column names understood by every builder instead of a real column.
const (
	ColumnCount         = "$$count"
	ColumnDistinctUsers = "$$distinctUsers"
	ColumnDistinctDates = "$$distinctDates"
)

// OtherSliceValue selects every row whose auto-sliced column holds none of
// the tracked slice values.
const OtherSliceValue = "__other__"

type JSONField struct {
	Datatype ColumnDatatype `json:"datatype" yaml:"datatype"`
}

type ColumnInterface struct {
	Column             string               `json:"column" yaml:"column" validate:"required"`
	Name               string               `json:"name" yaml:"name"`
	Datatype           ColumnDatatype       `json:"datatype" yaml:"datatype"`
	JSONFields         map[string]JSONField `json:"jsonFields,omitempty" yaml:"jsonFields,omitempty"`
	IsAutoSliceColumn  bool                 `json:"isAutoSliceColumn,omitempty" yaml:"isAutoSliceColumn,omitempty"`
	AutoSlices         []string             `json:"autoSlices,omitempty" yaml:"autoSlices,omitempty"`
	Deleted            bool                 `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

type FactFilter struct {
	ID    string `json:"id" yaml:"id" validate:"required"`
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value" validate:"required"`
}

// FactTable describes one raw event source plus its reusable filters.
type FactTable struct {
	ID           string            `json:"id" yaml:"id" validate:"required"`
	Name         string            `json:"name" yaml:"name"`
	Organization string            `json:"organization" yaml:"organization"`
	Datasource   string            `json:"datasource" yaml:"datasource"`
	SQL          string            `json:"sql" yaml:"sql" validate:"required"`
	EventName    string            `json:"eventName" yaml:"eventName"`
	UserIDTypes  []string          `json:"userIdTypes" yaml:"userIdTypes" validate:"required,min=1"`
	Columns      []ColumnInterface `json:"columns" yaml:"columns" validate:"dive"`
	Filters      []FactFilter      `json:"filters" yaml:"filters" validate:"dive"`
}

func (f *FactTable) GetColumn(name string) *ColumnInterface {
	for i := range f.Columns {
		if f.Columns[i].Column == name && !f.Columns[i].Deleted {
			return &f.Columns[i]
		}
	}
	return nil
}

func (f *FactTable) GetFilter(id string) *FactFilter {
	for i := range f.Filters {
		if f.Filters[i].ID == id {
			return &f.Filters[i]
		}
	}
	return nil
}

func (f *FactTable) HasUserIDType(idType string) bool {
	for _, t := range f.UserIDTypes {
		if t == idType {
			return true
		}
	}
	return false
}

// ColumnDatatype resolves the declared type of a column reference. Dotted
// names address fields inside JSON columns ("data.amount").
func (f *FactTable) ColumnDatatype(column string) (ColumnDatatype, bool) {
	if col := f.GetColumn(column); col != nil {
		return col.Datatype, true
	}
	jsonCol, path, ok := f.SplitJSONColumn(column)
	if !ok {
		return "", false
	}
	if field, ok := jsonCol.JSONFields[path]; ok {
		return field.Datatype, true
	}
	return DatatypeOther, true
}

// SplitJSONColumn finds the JSON column a dotted reference points into.
func (f *FactTable) SplitJSONColumn(column string) (*ColumnInterface, string, bool) {
	idx := strings.Index(column, ".")
	if idx <= 0 {
		return nil, "", false
	}
	col := f.GetColumn(column[:idx])
	if col == nil || col.Datatype != DatatypeJSON {
		return nil, "", false
	}
	return col, column[idx+1:], true
}

// FactTableMap is the read-only catalog snapshot handed to one query build.
type FactTableMap map[string]*FactTable

func (m FactTableMap) Get(id string) (*FactTable, bool) {
	if m == nil {
		return nil, false
	}
	ft, ok := m[id]
	return ft, ok && ft != nil
}

func NewFactTableMap(tables ...*FactTable) FactTableMap {
	res := make(FactTableMap, len(tables))
	for _, t := range tables {
		res[t.ID] = t
	}
	return res
}

// IdentityJoinMap maps a user id type to the CTE or table translating it
// into the experiment's base id type.
type IdentityJoinMap map[string]string
