package dapp

import (
	"context"

	"github.com/advdv/dhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App for lifecycle management.
type App struct {
	app *fx.App
}

// AppConfig holds configuration for the app.
type AppConfig struct {
	FxOptions []fx.Option
}

// Option configures the App.
type Option func(*AppConfig)

// WithFx adds fx options for dependency injection.
func WithFx(fxOpts ...fx.Option) Option {
	return func(c *AppConfig) {
		c.FxOptions = append(c.FxOptions, fxOpts...)
	}
}

// New creates a batteries-included dispatcher app with dependency injection.
//
// The routing function can request any types that are provided via fx
// options. At minimum, it should accept *dhttp.RouteTable for patterned
// routes, or *Registry for named targets:
//
//	dapp.New[Env](func(routes *dhttp.RouteTable, reg *dapp.Registry) {
//	    routes.HandleFunc(`/items/(?P<id>\d+)`, h.GetItem)
//	    reg.RegisterFunc("list-items", h.ListItems)
//	},
//	    dapp.WithFx(fx.Provide(NewHandlers)),
//	).Run()
func New[E Environment](routing any, opts ...Option) *App {
	return &App{
		app: fx.New(FxOptions[E](routing, opts...)...),
	}
}

// FxOptions returns the full fx option set that [New] builds the app from. It
// is exported so test helpers can construct the identical DI graph.
func FxOptions[E Environment](routing any, opts ...Option) []fx.Option {
	var cfg AppConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	baseOpts := make([]fx.Option, 0, 13+len(cfg.FxOptions))
	baseOpts = append(baseOpts, []fx.Option{
		fx.NopLogger,
		fx.Provide(ParseEnv[E]()),
		fx.Provide(func(e E) Environment { return e }),
		fx.Provide(func(e E) (*zap.Logger, error) { return NewLogger(e) }),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewPropagator),
		fx.Provide(dhttp.NewRouteTable),
		fx.Provide(NewRegistry),
		fx.Provide(NewPrometheusRegistry),
		fx.Provide(NewMetrics),
		fx.Provide(NewOptions),
		fx.Invoke(routing),
		fx.Invoke(startServerHook),
	}...)

	baseOpts = append(baseOpts, cfg.FxOptions...)
	return baseOpts
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application with the given context.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}
