package dapp

import (
	"context"

	"github.com/advdv/dhttp"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// OptionsParams holds the dependencies for building the dispatcher options.
type OptionsParams struct {
	fx.In

	Env        Environment
	Routes     *dhttp.RouteTable
	Registry   *Registry
	Metrics    *Metrics
	Logger     *zap.Logger
	TracerProv trace.TracerProvider
	Propagator propagation.TextMapPropagator
}

// NewOptions builds the dispatcher options from the environment, the route
// table and the application collaborators.
func NewOptions(params OptionsParams) (dhttp.Options, error) {
	env := params.Env

	if path := env.routesFile(); path != "" {
		rf, err := LoadRoutesFile(path)
		if err != nil {
			return dhttp.Options{}, errors.Wrap(err, "load routes file")
		}

		rf.Apply(params.Routes)
	}

	params.Registry.RegisterFunc("metrics", params.Metrics.Handler())

	return dhttp.Options{
		Host:        env.host(),
		Port:        env.port(),
		BasePath:    env.basePath(),
		Routes:      params.Routes,
		StaticDir:   env.staticDir(),
		Loader:      params.Registry,
		Logger:      newZapDHTTPLogger(params.Logger),
		OpenBrowser: env.openBrowser(),
		BodyTimeout: env.bodyTimeout(),
		Preprocessors: []dhttp.Preprocessor{
			params.Metrics.Preprocessor(),
		},
		Postprocessors: []dhttp.Postprocessor{
			params.Metrics.Postprocessor(),
		},
		Wrap: withTracing(params.TracerProv, params.Propagator, env.serviceName()),
	}, nil
}

// startServerHook registers lifecycle hooks for the dispatcher server.
func startServerHook(lc fx.Lifecycle, opts dhttp.Options, logger *zap.Logger) {
	var srv *dhttp.Server

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var err error
			srv, err = dhttp.Serve(opts)
			if err != nil {
				return errors.Wrap(err, "serve")
			}

			logger.Info("server listening", zap.String("url", srv.URL()))

			return nil
		},
		OnStop: func(context.Context) error {
			if srv == nil {
				return nil
			}

			return srv.Close()
		},
	})
}
