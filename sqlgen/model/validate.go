package model

import (
	"strings"
	"sync"

	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/validator.v9"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("aggregation", func(fl validator.FieldLevel) bool {
			switch Aggregation(fl.Field().String()) {
			case "", AggregationSum, AggregationMax, AggregationCountDistinct:
				return true
			}
			return false
		})
	})
	return validate
}

// ValidateStruct runs the struct tags of any model type.
func ValidateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return custom_errors.NewValidationError(verrs[0].Namespace(),
			"failed on the '%s' rule", verrs[0].Tag())
	}
	return errors.Wrap(err, "validation")
}

// ValidateAggregationSpecification checks that string columns are only ever
// counted distinctly and that count distinct is only used on strings.
func ValidateAggregationSpecification(ref *ColumnRef, ft *FactTable) error {
	if ref == nil || strings.HasPrefix(ref.Column, "$$") {
		return nil
	}
	datatype, ok := ft.ColumnDatatype(ref.Column)
	if !ok {
		return custom_errors.NewValidationError("column",
			"unknown column %q in fact table %s", ref.Column, ft.ID)
	}
	isString := datatype == DatatypeString
	isCountDistinct := ref.Aggregation == AggregationCountDistinct
	if isString && !isCountDistinct {
		return custom_errors.NewValidationError("aggregation",
			"string column %q must use count distinct", ref.Column)
	}
	if !isString && isCountDistinct {
		return custom_errors.NewValidationError("aggregation",
			"count distinct is only allowed on string columns, %q is %s", ref.Column, datatype)
	}
	return nil
}

// ValidateFactMetric checks a fact metric against the catalog it will be
// compiled with.
func ValidateFactMetric(m *FactMetric, factTables FactTableMap) error {
	if err := ValidateStruct(m); err != nil {
		return err
	}
	numFT, ok := factTables.Get(m.Numerator.FactTableID)
	if !ok {
		return custom_errors.NewConfigError("Could not find fact table %s", m.Numerator.FactTableID)
	}
	if err := ValidateAggregationSpecification(&m.Numerator, numFT); err != nil {
		return err
	}
	switch m.MetricType {
	case MetricTypeRatio:
		if m.Denominator == nil {
			return custom_errors.NewValidationError("denominator", "ratio metric %s requires a denominator", m.ID)
		}
		if err := ValidateStruct(m.Denominator); err != nil {
			return err
		}
		denFT, ok := factTables.Get(m.Denominator.FactTableID)
		if !ok {
			return custom_errors.NewConfigError("Could not find fact table %s", m.Denominator.FactTableID)
		}
		if denFT.Datasource != numFT.Datasource {
			return custom_errors.NewValidationError("denominator",
				"numerator and denominator must share a datasource")
		}
		if err := ValidateAggregationSpecification(m.Denominator, denFT); err != nil {
			return err
		}
	case MetricTypeQuantile:
		if m.QuantileSettings == nil {
			return custom_errors.NewValidationError("quantileSettings", "quantile metric %s requires quantile settings", m.ID)
		}
		if err := ValidateStruct(m.QuantileSettings); err != nil {
			return err
		}
	}
	if m.Datasource != "" && numFT.Datasource != "" && m.Datasource != numFT.Datasource {
		return custom_errors.NewValidationError("datasource",
			"metric datasource %s does not match fact table %s", m.Datasource, numFT.ID)
	}
	return nil
}
