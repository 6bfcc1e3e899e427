package service

import (
	"bytes"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/planner/experiment_planner"
	"github.com/metrico/expsql/sqlgen/planner/past_experiments_planner"
	"github.com/metrico/expsql/sqlgen/template"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Kind string

const (
	KindMetricCTE       Kind = "metric_cte"
	KindSegmentCTE      Kind = "segment_cte"
	KindExperiment      Kind = "experiment"
	KindMetricAnalysis  Kind = "metric_analysis"
	KindPastExperiments Kind = "past_experiments"
)

type ExperimentRequest struct {
	ExposureQuery             experiment_planner.ExposureQuery   `json:"exposureQuery" yaml:"exposureQuery"`
	Identities                []experiment_planner.IdentityQuery `json:"identities,omitempty" yaml:"identities,omitempty"`
	Metrics                   []*model.FactMetric                `json:"metrics" yaml:"metrics" validate:"required,min=1,dive"`
	Dimensions                []string                           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	OverrideConversionWindows bool                               `json:"overrideConversionWindows" yaml:"overrideConversionWindows"`
	BanditDates               []time.Time                        `json:"banditDates,omitempty" yaml:"banditDates,omitempty"`
}

type PastExperimentsRequest struct {
	ExposureQueries []past_experiments_planner.ExposureQuery `json:"exposureQueries" yaml:"exposureQueries" validate:"required,min=1,dive"`
	MaxRows         int                                      `json:"maxRows,omitempty" yaml:"maxRows,omitempty" validate:"gte=0"`
}

// Request is one query build. Kind selects which of the optional payload
// fields are read.
type Request struct {
	Kind       Kind               `json:"kind" yaml:"kind" validate:"required,oneof=metric_cte segment_cte experiment metric_analysis past_experiments"`
	Dialect    string             `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	FactTables []*model.FactTable `json:"factTables,omitempty" yaml:"factTables,omitempty" validate:"dive"`

	BaseIDType   string            `json:"baseIdType,omitempty" yaml:"baseIdType,omitempty"`
	IDJoinMap    map[string]string `json:"idJoinMap,omitempty" yaml:"idJoinMap,omitempty"`
	StartDate    time.Time         `json:"startDate" yaml:"startDate"`
	EndDate      *time.Time        `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	ExperimentID string            `json:"experimentId,omitempty" yaml:"experimentId,omitempty"`
	Phase        *template.Phase   `json:"phase,omitempty" yaml:"phase,omitempty"`
	CustomFields map[string]any    `json:"customFields,omitempty" yaml:"customFields,omitempty"`

	Metric         *model.FactMetric   `json:"metric,omitempty" yaml:"metric,omitempty"`
	LegacyMetric   *model.LegacyMetric `json:"legacyMetric,omitempty" yaml:"legacyMetric,omitempty"`
	UseDenominator bool                `json:"useDenominator,omitempty" yaml:"useDenominator,omitempty"`
	Segment        *model.Segment      `json:"segment,omitempty" yaml:"segment,omitempty"`
	HistogramBins  int                 `json:"histogramBins,omitempty" yaml:"histogramBins,omitempty" validate:"gte=0"`

	Experiment      *ExperimentRequest      `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	PastExperiments *PastExperimentsRequest `json:"pastExperiments,omitempty" yaml:"pastExperiments,omitempty"`
}

// DecodeRequest reads a JSON or YAML request. An empty format picks JSON
// when the document starts with '{'.
func DecodeRequest(data []byte, format string) (*Request, error) {
	if format == "" {
		format = "yaml"
		if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
			format = "json"
		}
	}
	req := &Request{}
	var err error
	switch strings.ToLower(format) {
	case "json":
		err = json.Unmarshal(data, req)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, req)
	default:
		return nil, custom_errors.NewConfigError("unknown request format %q", format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s request", format)
	}
	return req, nil
}

func (r *Request) factTableMap() model.FactTableMap {
	return model.NewFactTableMap(r.FactTables...)
}

func (r *Request) idJoinMap() model.IdentityJoinMap {
	return model.IdentityJoinMap(r.IDJoinMap)
}

func (r *Request) baseIDType() string {
	if r.BaseIDType == "" {
		return "user_id"
	}
	return r.BaseIDType
}

func (r *Request) endDate() time.Time {
	if r.EndDate == nil {
		return time.Now().UTC()
	}
	return *r.EndDate
}

func (r *Request) vars() template.Variables {
	return template.Variables{
		StartDate:    r.StartDate,
		EndDate:      r.endDate(),
		ExperimentID: r.ExperimentID,
		Phase:        r.Phase,
		CustomFields: r.CustomFields,
	}
}

// Validate checks the struct tags and that the payload of Kind is present.
func (r *Request) Validate() error {
	if err := model.ValidateStruct(r); err != nil {
		return err
	}
	switch r.Kind {
	case KindMetricCTE:
		if r.Metric == nil && r.LegacyMetric == nil {
			return custom_errors.NewValidationError("metric", "%s requests need a metric or a legacyMetric", r.Kind)
		}
	case KindMetricAnalysis:
		if r.Metric == nil {
			return custom_errors.NewValidationError("metric", "%s requests need a metric", r.Kind)
		}
	case KindSegmentCTE:
		if r.Segment == nil {
			return custom_errors.NewValidationError("segment", "%s requests need a segment", r.Kind)
		}
	case KindExperiment:
		if r.Experiment == nil {
			return custom_errors.NewValidationError("experiment", "%s requests need an experiment", r.Kind)
		}
	case KindPastExperiments:
		if r.PastExperiments == nil {
			return custom_errors.NewValidationError("pastExperiments", "%s requests need exposure queries", r.Kind)
		}
	}
	if r.StartDate.IsZero() && r.Kind != KindSegmentCTE {
		return custom_errors.NewValidationError("startDate", "startDate is required")
	}
	return nil
}
