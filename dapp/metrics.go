package dapp

import (
	"bytes"
	"net/http"
	"time"

	"github.com/advdv/dhttp"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

const metricsStartKey = "dapp.metrics.start"

// NewPrometheusRegistry inits the registry the request metrics live in.
func NewPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Metrics counts and times dispatched requests through a pair of hooks.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	reg      *prometheus.Registry
}

// NewMetrics registers the request collectors on the given registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dhttp_requests_total",
			Help: "Requests entering the pipeline, by method.",
		}, []string{"method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dhttp_request_duration_seconds",
			Help:    "Time from preprocessing to a produced response.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		reg: reg,
	}

	reg.MustRegister(m.requests, m.duration)

	return m
}

// Preprocessor counts the request and stamps its start time on the context.
func (m *Metrics) Preprocessor() dhttp.Preprocessor {
	return func(ctx *dhttp.Context, r *http.Request) error {
		m.requests.WithLabelValues(r.Method).Inc()
		ctx.Set(metricsStartKey, time.Now())
		return nil
	}
}

// Postprocessor observes the duration once a response outcome exists. It never
// contributes a body transform.
func (m *Metrics) Postprocessor() dhttp.Postprocessor {
	return func(ctx *dhttp.Context, r *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
		if v, ok := ctx.Get(metricsStartKey); ok {
			if start, ok := v.(time.Time); ok {
				m.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			}
		}

		return nil, nil
	}
}

// Handler renders the registry in the prometheus text exposition format,
// for mounting on a /metrics route.
func (m *Metrics) Handler() dhttp.HandlerFunc {
	return func(_ *dhttp.Context, _ *http.Request) (any, error) {
		fams, err := m.reg.Gather()
		if err != nil {
			return nil, errors.Wrap(err, "gather metrics")
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, fam := range fams {
			if err := enc.Encode(fam); err != nil {
				return nil, errors.Wrap(err, "encode metrics")
			}
		}

		hdr := http.Header{}
		hdr.Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

		return &dhttp.Response{Status: http.StatusOK, Header: hdr, Body: &buf}, nil
	}
}
