package model

type Aggregation string

const (
	AggregationSum           Aggregation = "sum"
	AggregationMax           Aggregation = "max"
	AggregationCountDistinct Aggregation = "count distinct"
)

// ColumnRef points a metric numerator or denominator at a fact table column.
type ColumnRef struct {
	FactTableID   string              `json:"factTableId" yaml:"factTableId" validate:"required"`
	Column        string              `json:"column" yaml:"column" validate:"required"`
	Aggregation   Aggregation         `json:"aggregation,omitempty" yaml:"aggregation,omitempty" validate:"aggregation"`
	Filters       []string            `json:"filters,omitempty" yaml:"filters,omitempty"`
	InlineFilters map[string][]string `json:"inlineFilters,omitempty" yaml:"inlineFilters,omitempty"`
}

type MetricType string

const (
	MetricTypeMean       MetricType = "mean"
	MetricTypeRatio      MetricType = "ratio"
	MetricTypeProportion MetricType = "proportion"
	MetricTypeQuantile   MetricType = "quantile"
	MetricTypeRetention  MetricType = "retention"
)

type WindowType string

const (
	WindowNone       WindowType = ""
	WindowConversion WindowType = "conversion"
	WindowLookback   WindowType = "lookback"
)

type WindowSettings struct {
	Type        WindowType `json:"type" yaml:"type" validate:"omitempty,oneof=conversion lookback"`
	DelayHours  float64    `json:"delayHours" yaml:"delayHours"`
	WindowValue float64    `json:"windowValue" yaml:"windowValue" validate:"gte=0"`
	WindowUnit  string     `json:"windowUnit" yaml:"windowUnit" validate:"omitempty,oneof=minutes hours days weeks"`
}

// WindowHours converts the window length to hours.
func (w WindowSettings) WindowHours() float64 {
	switch w.WindowUnit {
	case "minutes":
		return w.WindowValue / 60
	case "days":
		return w.WindowValue * 24
	case "weeks":
		return w.WindowValue * 24 * 7
	}
	return w.WindowValue
}

type CappingType string

const (
	CappingNone       CappingType = ""
	CappingAbsolute   CappingType = "absolute"
	CappingPercentile CappingType = "percentile"
)

type CappingSettings struct {
	Type        CappingType `json:"type" yaml:"type" validate:"omitempty,oneof=absolute percentile"`
	Value       float64     `json:"value" yaml:"value" validate:"gte=0"`
	IgnoreZeros bool        `json:"ignoreZeros" yaml:"ignoreZeros"`
}

type QuantileType string

const (
	QuantileEvent QuantileType = "event"
	QuantileUnit  QuantileType = "unit"
)

type QuantileSettings struct {
	Type        QuantileType `json:"type" yaml:"type" validate:"oneof=event unit"`
	Quantile    float64      `json:"quantile" yaml:"quantile" validate:"gt=0,lt=1"`
	IgnoreZeros bool         `json:"ignoreZeros" yaml:"ignoreZeros"`
}

// Metric is either a *FactMetric or a *LegacyMetric.
type Metric interface {
	GetID() string
	GetName() string
	GetDatasource() string
	isMetric()
}

type FactMetric struct {
	ID                          string            `json:"id" yaml:"id" validate:"required"`
	Name                        string            `json:"name" yaml:"name"`
	Datasource                  string            `json:"datasource" yaml:"datasource"`
	MetricType                  MetricType        `json:"metricType" yaml:"metricType" validate:"oneof=mean ratio proportion quantile retention"`
	Numerator                   ColumnRef         `json:"numerator" yaml:"numerator"`
	Denominator                 *ColumnRef        `json:"denominator,omitempty" yaml:"denominator,omitempty"`
	WindowSettings              WindowSettings    `json:"windowSettings" yaml:"windowSettings"`
	CappingSettings             CappingSettings   `json:"cappingSettings" yaml:"cappingSettings"`
	QuantileSettings            *QuantileSettings `json:"quantileSettings,omitempty" yaml:"quantileSettings,omitempty"`
	RegressionAdjustmentEnabled bool              `json:"regressionAdjustmentEnabled" yaml:"regressionAdjustmentEnabled"`
	RegressionAdjustmentDays    float64           `json:"regressionAdjustmentDays" yaml:"regressionAdjustmentDays" validate:"gte=0"`
}

func (m *FactMetric) GetID() string         { return m.ID }
func (m *FactMetric) GetName() string       { return m.Name }
func (m *FactMetric) GetDatasource() string { return m.Datasource }
func (m *FactMetric) isMetric()             {}

// ColumnRef returns the numerator or, when useDenominator is set, the
// denominator reference. It may return nil.
func (m *FactMetric) ColumnRef(useDenominator bool) *ColumnRef {
	if useDenominator {
		return m.Denominator
	}
	return &m.Numerator
}

type LegacyMetricType string

const (
	LegacyBinomial LegacyMetricType = "binomial"
	LegacyCount    LegacyMetricType = "count"
	LegacyDuration LegacyMetricType = "duration"
	LegacyRevenue  LegacyMetricType = "revenue"
)

type QueryFormat string

const (
	QueryFormatSQL     QueryFormat = "sql"
	QueryFormatBuilder QueryFormat = "builder"
)

// Condition is one row of the deprecated query builder.
type Condition struct {
	Column   string `json:"column" yaml:"column" validate:"required"`
	Operator string `json:"operator" yaml:"operator" validate:"required,oneof== != < <= > >= LIKE"`
	Value    string `json:"value" yaml:"value"`
}

type LegacyMetric struct {
	ID                string            `json:"id" yaml:"id" validate:"required"`
	Name              string            `json:"name" yaml:"name"`
	Datasource        string            `json:"datasource" yaml:"datasource"`
	Type              LegacyMetricType  `json:"type" yaml:"type" validate:"oneof=binomial count duration revenue"`
	QueryFormat       QueryFormat       `json:"queryFormat" yaml:"queryFormat" validate:"oneof=sql builder"`
	SQL               string            `json:"sql,omitempty" yaml:"sql,omitempty"`
	Table             string            `json:"table,omitempty" yaml:"table,omitempty"`
	Column            string            `json:"column,omitempty" yaml:"column,omitempty"`
	TimestampColumn   string            `json:"timestampColumn,omitempty" yaml:"timestampColumn,omitempty"`
	UserIDTypes       []string          `json:"userIdTypes" yaml:"userIdTypes"`
	UserIDColumns     map[string]string `json:"userIdColumns,omitempty" yaml:"userIdColumns,omitempty"`
	Conditions        []Condition       `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`
	TemplateVariables map[string]string `json:"templateVariables,omitempty" yaml:"templateVariables,omitempty"`
	CappingSettings   CappingSettings   `json:"cappingSettings" yaml:"cappingSettings"`
}

func (m *LegacyMetric) GetID() string         { return m.ID }
func (m *LegacyMetric) GetName() string       { return m.Name }
func (m *LegacyMetric) GetDatasource() string { return m.Datasource }
func (m *LegacyMetric) isMetric()             {}

func IsRatioMetric(m Metric) bool {
	fm, ok := m.(*FactMetric)
	return ok && fm.MetricType == MetricTypeRatio && fm.Denominator != nil
}

func IsQuantileMetric(m Metric) bool {
	fm, ok := m.(*FactMetric)
	return ok && fm.MetricType == MetricTypeQuantile && fm.QuantileSettings != nil
}

func IsBinomialMetric(m Metric) bool {
	switch m := m.(type) {
	case *FactMetric:
		return m.MetricType == MetricTypeProportion || m.MetricType == MetricTypeRetention
	case *LegacyMetric:
		return m.Type == LegacyBinomial
	}
	return false
}

func cappingOf(m Metric) CappingSettings {
	switch m := m.(type) {
	case *FactMetric:
		return m.CappingSettings
	case *LegacyMetric:
		return m.CappingSettings
	}
	return CappingSettings{}
}

// IsPercentileCapped is true for winsorization at a percentile strictly
// between 0 and 1. Binomial metrics are never capped.
func IsPercentileCapped(m Metric) bool {
	c := cappingOf(m)
	return !IsBinomialMetric(m) && c.Type == CappingPercentile && c.Value > 0 && c.Value < 1
}

func IsAbsoluteCapped(m Metric) bool {
	c := cappingOf(m)
	return !IsBinomialMetric(m) && c.Type == CappingAbsolute && c.Value > 0
}

// IsRegressionAdjusted reports whether CUPED covariates are computed.
func IsRegressionAdjusted(m Metric) bool {
	fm, ok := m.(*FactMetric)
	return ok && fm.RegressionAdjustmentEnabled && fm.RegressionAdjustmentDays > 0 && !IsQuantileMetric(m)
}

// UserIDTypes lists the id types a metric's rows can be keyed by, in the
// order declared by its source.
func UserIDTypes(m Metric, factTables FactTableMap, useDenominator bool) []string {
	switch m := m.(type) {
	case *FactMetric:
		ref := m.ColumnRef(useDenominator)
		if ref == nil {
			return nil
		}
		if ft, ok := factTables.Get(ref.FactTableID); ok {
			return ft.UserIDTypes
		}
	case *LegacyMetric:
		return m.UserIDTypes
	}
	return nil
}

// TemplateVariables returns the per-metric variables available to
// {{templateVariables.*}} placeholders.
func TemplateVariables(m Metric, factTables FactTableMap, useDenominator bool) map[string]string {
	switch m := m.(type) {
	case *FactMetric:
		ref := m.ColumnRef(useDenominator)
		if ref == nil {
			return nil
		}
		ft, ok := factTables.Get(ref.FactTableID)
		if !ok {
			return nil
		}
		return map[string]string{
			"eventName":   ft.EventName,
			"valueColumn": ref.Column,
		}
	case *LegacyMetric:
		return m.TemplateVariables
	}
	return nil
}
