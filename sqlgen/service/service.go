package service

import (
	"context"
	"strings"
	"time"

	"github.com/metrico/expsql/config"
	"github.com/metrico/expsql/sqlgen/cte"
	"github.com/metrico/expsql/sqlgen/dialect"
	"github.com/metrico/expsql/sqlgen/model"
	"github.com/metrico/expsql/sqlgen/planner/experiment_planner"
	"github.com/metrico/expsql/sqlgen/planner/metric_analysis_planner"
	"github.com/metrico/expsql/sqlgen/planner/past_experiments_planner"
	custom_errors "github.com/metrico/expsql/sqlgen/utils/errors"
	"github.com/metrico/expsql/sqlgen/utils/logger"
	"github.com/metrico/expsql/sqlgen/utils/sqlfmt"
	"github.com/metrico/expsql/sqlgen/utils/stat"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	DefaultDialect string
	// HistogramBins applies to metric analysis requests that set none.
	HistogramBins         int
	MaxPastExperimentRows int
	// Pretty keeps the indentation of the formatter.
	Pretty bool
	// Parallelism bounds RenderAll. Zero means one goroutine per dialect.
	Parallelism int
}

type Service struct {
	opts Options
}

func New(opts Options) *Service {
	return &Service{opts: opts}
}

func NewFromConfig(cfg *config.Config) *Service {
	return New(Options{
		DefaultDialect:        cfg.SQL.DefaultDialect,
		HistogramBins:         cfg.SQL.HistogramBins,
		MaxPastExperimentRows: cfg.SQL.MaxPastExperimentRows,
		Pretty:                cfg.SQL.Pretty,
		Parallelism:           cfg.SQL.Parallelism,
	})
}

// Render builds the request for its own dialect, or the default one.
func (s *Service) Render(req *Request) (string, error) {
	name := req.Dialect
	if name == "" {
		name = s.opts.DefaultDialect
	}
	d, err := dialect.Get(name)
	if err != nil {
		stat.ObserveError(string(req.Kind))
		return "", err
	}
	return s.RenderFor(d, req)
}

// RenderFor builds the request for d, ignoring req.Dialect.
func (s *Service) RenderFor(d dialect.Dialect, req *Request) (string, error) {
	start := time.Now()
	res, err := s.render(d, req)
	if err != nil {
		stat.ObserveError(string(req.Kind))
		logger.WithFields(logrus.Fields{
			"generator": req.Kind,
			"dialect":   d.Type(),
			"code":      custom_errors.Code(err),
		}).Error("query build failed: ", err)
		return "", err
	}
	if !s.opts.Pretty {
		res = compact(res)
	}
	stat.Observe(string(req.Kind), d.Type(), res)
	logger.WithFields(logrus.Fields{
		"generator": req.Kind,
		"dialect":   d.Type(),
		"length":    len(res),
		"elapsed":   time.Since(start),
	}).Debug("query built")
	return res, nil
}

type Result struct {
	Dialect string `json:"dialect"`
	SQL     string `json:"sql,omitempty"`
	Error   string `json:"error,omitempty"`
	// Code classifies Error: 400 config, 422 validation, 501 unsupported.
	Code int `json:"code,omitempty"`
}

// RenderAll builds req for every dialect concurrently. A dialect that
// cannot build the query reports its error in its Result. The result is in
// the order of dialects.
func (s *Service) RenderAll(ctx context.Context, req *Request, dialects []dialect.Dialect) ([]Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res := make([]Result, len(dialects))
	g, ctx := errgroup.WithContext(ctx)
	if s.opts.Parallelism > 0 {
		g.SetLimit(s.opts.Parallelism)
	}
	for i, d := range dialects {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res[i].Dialect = d.Type()
			sql, err := s.RenderFor(d, req)
			if err != nil {
				res[i].Error = err.Error()
				res[i].Code = custom_errors.Code(err)
				return nil
			}
			res[i].SQL = sql
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) render(d dialect.Dialect, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	switch req.Kind {
	case KindMetricCTE:
		var m model.Metric = req.LegacyMetric
		if req.Metric != nil {
			if err := model.ValidateFactMetric(req.Metric, req.factTableMap()); err != nil {
				return "", err
			}
			m = req.Metric
		}
		res, err := cte.BuildMetricCTE(d, cte.MetricCTEParams{
			Metric:         m,
			BaseIDType:     req.baseIDType(),
			IDJoinMap:      req.idJoinMap(),
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			ExperimentID:   req.ExperimentID,
			Phase:          req.Phase,
			CustomFields:   req.CustomFields,
			FactTables:     req.factTableMap(),
			UseDenominator: req.UseDenominator,
		})
		if err != nil {
			return "", err
		}
		return sqlfmt.Format(res, d.FormatDialect()), nil
	case KindSegmentCTE:
		vars := req.vars()
		res, err := cte.BuildSegmentCTE(d, cte.SegmentCTEParams{
			Segment:    req.Segment,
			BaseIDType: req.baseIDType(),
			IDJoinMap:  req.idJoinMap(),
			FactTables: req.factTableMap(),
			Vars:       &vars,
		})
		if err != nil {
			return "", err
		}
		return sqlfmt.Format(res, d.FormatDialect()), nil
	case KindExperiment:
		e := req.Experiment
		return experiment_planner.GenerateExperimentQuery(d, req.factTableMap(), experiment_planner.ExperimentParams{
			ExperimentID:              req.ExperimentID,
			ExposureQuery:             e.ExposureQuery,
			Identities:                e.Identities,
			StartDate:                 req.StartDate,
			EndDate:                   req.endDate(),
			Phase:                     req.Phase,
			CustomFields:              req.CustomFields,
			Metrics:                   e.Metrics,
			Segment:                   req.Segment,
			Dimensions:                e.Dimensions,
			OverrideConversionWindows: e.OverrideConversionWindows,
			BanditDates:               e.BanditDates,
		})
	case KindMetricAnalysis:
		bins := req.HistogramBins
		if bins == 0 {
			bins = s.opts.HistogramBins
		}
		return metric_analysis_planner.GenerateMetricAnalysisQuery(d, metric_analysis_planner.MetricAnalysisParams{
			Metric:        req.Metric,
			FactTables:    req.factTableMap(),
			BaseIDType:    req.baseIDType(),
			IDJoinMap:     req.idJoinMap(),
			StartDate:     req.StartDate,
			EndDate:       req.endDate(),
			Segment:       req.Segment,
			CustomFields:  req.CustomFields,
			HistogramBins: bins,
		})
	case KindPastExperiments:
		maxRows := req.PastExperiments.MaxRows
		if maxRows == 0 {
			maxRows = s.opts.MaxPastExperimentRows
		}
		return past_experiments_planner.GeneratePastExperimentsQuery(d, past_experiments_planner.PastExperimentsParams{
			From:            req.StartDate,
			ExposureQueries: req.PastExperiments.ExposureQueries,
			MaxRows:         maxRows,
		})
	}
	return "", custom_errors.NewValidationError("kind", "unknown request kind %q", req.Kind)
}

// compact drops the indentation added by the formatter.
func compact(sql string) string {
	lines := strings.Split(sql, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}

type DialectInfo struct {
	Type                string `json:"type"`
	Name                string `json:"name"`
	FormatDialect       string `json:"formatDialect"`
	CountDistinctHLL    bool   `json:"countDistinctHLL"`
	Quantiles           bool   `json:"quantiles"`
	EfficientPercentile bool   `json:"efficientPercentile"`
	QuantileTesting     bool   `json:"quantileTesting"`
	FactSegments        bool   `json:"factSegments"`
}

// Dialects lists the registered dialects with their capability flags.
func Dialects() []DialectInfo {
	var res []DialectInfo
	for _, d := range dialect.All() {
		info := DialectInfo{
			Type:             d.Type(),
			Name:             d.Name(),
			FormatDialect:    d.FormatDialect(),
			CountDistinctHLL: d.HasCountDistinctHLL(),
			Quantiles:        d.HasQuantileSupport(),
			FactSegments:     d.HasFactSegmentSupport(),
		}
		if q, err := d.Quantile(); err == nil {
			info.EfficientPercentile = q.HasEfficientPercentile()
			info.QuantileTesting = q.HasQuantileTesting()
		}
		res = append(res, info)
	}
	return res
}

// DialectsJSON is Dialects encoded for the CLI.
func DialectsJSON() ([]byte, error) {
	return json.MarshalIndent(Dialects(), "", "  ")
}
