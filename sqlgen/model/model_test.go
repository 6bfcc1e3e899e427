package model

import (
	"testing"

	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactTable() *FactTable {
	return &FactTable{
		ID:          "ftb_revenue",
		Name:        "Revenue",
		Datasource:  "ds_1",
		SQL:         "SELECT * FROM purchases",
		EventName:   "purchase",
		UserIDTypes: []string{"user_id", "anonymous_id"},
		Columns: []ColumnInterface{
			{Column: "amount", Datatype: DatatypeNumber},
			{Column: "country", Datatype: DatatypeString},
			{Column: "data", Datatype: DatatypeJSON, JSONFields: map[string]JSONField{
				"price": {Datatype: DatatypeNumber},
				"sku":   {Datatype: DatatypeString},
			}},
			{Column: "old", Datatype: DatatypeNumber, Deleted: true},
		},
		Filters: []FactFilter{{ID: "flt_us", Value: "country = 'US'"}},
	}
}

func TestFactTableLookup(t *testing.T) {
	ft := testFactTable()
	assert.NotNil(t, ft.GetColumn("amount"))
	assert.Nil(t, ft.GetColumn("old"))
	assert.NotNil(t, ft.GetFilter("flt_us"))
	assert.Nil(t, ft.GetFilter("flt_missing"))
	assert.True(t, ft.HasUserIDType("anonymous_id"))

	dt, ok := ft.ColumnDatatype("data.price")
	assert.True(t, ok)
	assert.Equal(t, DatatypeNumber, dt)
	dt, ok = ft.ColumnDatatype("data.unknown")
	assert.True(t, ok)
	assert.Equal(t, DatatypeOther, dt)
	_, ok = ft.ColumnDatatype("amount.x")
	assert.False(t, ok)

	m := NewFactTableMap(ft)
	_, ok = m.Get("ftb_revenue")
	assert.True(t, ok)
	_, ok = m.Get("nope")
	assert.False(t, ok)
	_, ok = FactTableMap(nil).Get("ftb_revenue")
	assert.False(t, ok)
}

func TestValidateAggregationSpecification(t *testing.T) {
	ft := testFactTable()
	cases := []struct {
		name string
		ref  ColumnRef
		ok   bool
	}{
		{"number sum", ColumnRef{Column: "amount", Aggregation: AggregationSum}, true},
		{"number default", ColumnRef{Column: "amount"}, true},
		{"number count distinct", ColumnRef{Column: "amount", Aggregation: AggregationCountDistinct}, false},
		{"string count distinct", ColumnRef{Column: "country", Aggregation: AggregationCountDistinct}, true},
		{"string sum", ColumnRef{Column: "country", Aggregation: AggregationSum}, false},
		{"json string", ColumnRef{Column: "data.sku", Aggregation: AggregationCountDistinct}, true},
		{"special column", ColumnRef{Column: ColumnCount}, true},
		{"unknown", ColumnRef{Column: "nope"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateAggregationSpecification(&c.ref, ft)
			if c.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, custom_errors.IsValidationError(err), "%v", err)
			}
		})
	}
}

func TestValidateFactMetric(t *testing.T) {
	fts := NewFactTableMap(testFactTable())
	m := &FactMetric{
		ID:         "fact_rev",
		MetricType: MetricTypeMean,
		Numerator:  ColumnRef{FactTableID: "ftb_revenue", Column: "amount"},
	}
	require.NoError(t, ValidateFactMetric(m, fts))

	m.Numerator.Aggregation = "avg"
	assert.True(t, custom_errors.IsValidationError(ValidateFactMetric(m, fts)))
	m.Numerator.Aggregation = ""

	m.MetricType = MetricTypeRatio
	assert.True(t, custom_errors.IsValidationError(ValidateFactMetric(m, fts)))
	m.Denominator = &ColumnRef{FactTableID: "ftb_missing", Column: ColumnCount}
	assert.True(t, custom_errors.IsConfigError(ValidateFactMetric(m, fts)))
	m.Denominator.FactTableID = "ftb_revenue"
	assert.NoError(t, ValidateFactMetric(m, fts))

	m.Numerator.FactTableID = "ftb_missing"
	err := ValidateFactMetric(m, fts)
	assert.True(t, custom_errors.IsConfigError(err))
	assert.Contains(t, err.Error(), "Could not find fact table")
}

func TestMetricPredicates(t *testing.T) {
	fts := NewFactTableMap(testFactTable())
	ratio := &FactMetric{
		ID:              "r",
		MetricType:      MetricTypeRatio,
		Numerator:       ColumnRef{FactTableID: "ftb_revenue", Column: "amount"},
		Denominator:     &ColumnRef{FactTableID: "ftb_revenue", Column: ColumnCount},
		CappingSettings: CappingSettings{Type: CappingPercentile, Value: 0.95},
	}
	assert.True(t, IsRatioMetric(ratio))
	assert.True(t, IsPercentileCapped(ratio))
	assert.False(t, IsRegressionAdjusted(ratio))
	ratio.RegressionAdjustmentEnabled = true
	ratio.RegressionAdjustmentDays = 14
	assert.True(t, IsRegressionAdjusted(ratio))
	assert.Equal(t, []string{"user_id", "anonymous_id"}, UserIDTypes(ratio, fts, true))
	assert.Equal(t, map[string]string{"eventName": "purchase", "valueColumn": ColumnCount},
		TemplateVariables(ratio, fts, true))

	binomial := &LegacyMetric{ID: "b", Type: LegacyBinomial, UserIDTypes: []string{"user_id"},
		CappingSettings: CappingSettings{Type: CappingAbsolute, Value: 10}}
	assert.True(t, IsBinomialMetric(binomial))
	assert.False(t, IsAbsoluteCapped(binomial))
	assert.False(t, IsRatioMetric(binomial))
	assert.Equal(t, []string{"user_id"}, UserIDTypes(binomial, fts, false))
}

func TestWindowHours(t *testing.T) {
	assert.Equal(t, 72.0, WindowSettings{WindowValue: 3, WindowUnit: "days"}.WindowHours())
	assert.Equal(t, 168.0, WindowSettings{WindowValue: 1, WindowUnit: "weeks"}.WindowHours())
	assert.Equal(t, 0.5, WindowSettings{WindowValue: 30, WindowUnit: "minutes"}.WindowHours())
	assert.Equal(t, 5.0, WindowSettings{WindowValue: 5, WindowUnit: "hours"}.WindowHours())
}
