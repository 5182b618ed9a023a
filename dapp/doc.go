// Package dapp provides a batteries-included application wrapper around the dhttp dispatcher.
//
// # Overview
//
// dapp handles the boilerplate of running a dispatcher as a service:
// environment parsing, structured logging, OpenTelemetry tracing, request
// metrics and graceful shutdown. A complete application can be created in a
// single call:
//
//	dapp.New[Env](func(routes *dhttp.RouteTable, reg *dapp.Registry) {
//	    routes.HandleFunc(`/items/(?P<id>\d+)`, getItem)
//	    reg.RegisterFunc("handlers.report", buildReport)
//	}).Run()
//
// # Environment Configuration
//
// Define your environment by embedding [BaseEnvironment]:
//
//	type Env struct {
//	    dapp.BaseEnvironment
//	    UpstreamURL string `env:"UPSTREAM_URL,required"`
//	}
//
// BaseEnvironment provides the following environment variables:
//
//	| Variable             | Default   | Description                               |
//	|----------------------|-----------|-------------------------------------------|
//	| DHTTP_HOST           | localhost | Interface the listener binds to           |
//	| DHTTP_PORT           | 8080      | Port the listener binds to                |
//	| DHTTP_BASE_PATH      | /         | Path prefix the dispatcher is mounted on  |
//	| DHTTP_STATIC_DIR     | -         | Static file root, disabled when empty     |
//	| DHTTP_SERVICE_NAME   | dhttp     | Service name for logging and tracing      |
//	| DHTTP_LOG_LEVEL      | info      | Log level (debug, info, warn, error)      |
//	| DHTTP_OTEL_EXPORTER  | stdout    | Trace exporter, "stdout" or "none"        |
//	| DHTTP_OPEN_BROWSER   | false     | Open the served url in a browser on start |
//	| DHTTP_BODY_TIMEOUT   | 1s        | Body-read deadline per request            |
//	| DHTTP_ROUTES_FILE    | -         | Optional yaml route file (see below)      |
//
// A .env file in the working directory is loaded first when present.
//
// # Route files
//
// When DHTTP_ROUTES_FILE points at a yaml file, its entries are registered as
// named targets resolved through the [Registry] at request time:
//
//	routes:
//	  - pattern: /reports/(?P<year>\d{4})
//	    target: handlers.report
//
// # Metrics
//
// Every request is counted and timed through a prometheus registry. The
// exposition handler is registered under the target name "metrics"; bind it
// to a route to expose it:
//
//	routes.HandleRef(`/metrics`, "metrics")
package dapp
