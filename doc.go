// Package dhttp provides a single-process HTTP request dispatcher with ordered
// hooks and cancellation-aware response streaming.
//
// # Overview
//
// dhttp resolves every inbound request against an ordered route table, runs
// pluggable pre- and postprocessors around the handler, and streams the
// response body back while watching three independent abort sources: the
// socket closing, a body-read timeout and an externally supplied shutdown
// signal. Handlers return values instead of writing to the connection, which
// keeps error propagation explicit and response sending centralized.
//
// A minimal example:
//
//	routes := dhttp.NewRouteTable()
//	routes.HandleFunc(`/items/(?P<id>\d+)`, func(ctx *dhttp.Context, r *http.Request) (any, error) {
//	    item, err := db.GetItem(ctx.Params["id"])
//	    if err != nil {
//	        return nil, dhttp.NewError(dhttp.CodeNotFound, err)
//	    }
//	    return item.JSON(), nil
//	})
//
//	srv, err := dhttp.Serve(dhttp.Options{Routes: routes})
//
// # Route resolution
//
// Patterns are regular expressions anchored to the request path and tested in
// registration order; the first match wins, with no specificity ranking.
// Capture groups, positional and named, are attached to the request [Context].
// When no pattern matches, the request falls through to static file lookup
// under Options.StaticDir and finally to a not-found rejection. Once a pattern
// matched there is no static fallback: a matched route whose target exposes no
// usable handler is a routing error.
//
// Targets are either in-process [Handler] values or named references resolved
// through an injected [TargetLoader] when the route is hit.
//
// # Hooks
//
// Preprocessors fan out concurrently before route resolution and the pipeline
// waits for the whole group. A single failure rejects the request with that
// error; multiple failures reject with an [AggregateError] preserving fan-out
// order. Postprocessors fan out after a response outcome exists and may each
// contribute a [BodyTransform]; contributed transforms chain onto the body in
// registration order. Redirect responses bypass transforms entirely.
//
// # Settlement
//
// Every request settles exactly once. The first of [Context.Resolve] and
// [Context.Reject] wins and all later calls, from a racing preprocessor, a
// racing abort or the handler itself, are discarded. The sender therefore
// always consumes one stable outcome.
//
// # Cancellation
//
// Each request owns a [Canceller], a composite token over the socket, the
// external signal and the body-read deadline. The transition is one-shot with
// the first reason recorded. The streaming send loop consults the token
// between chunks: on abort it stops writing, cancels the body source with the
// abort reason and releases the reader only after any in-flight read settled.
// When the token fired before any header was written the client still receives
// a well-formed 408-class response describing the reason.
//
// # Errors
//
// Rejections are structured: [*Error] carries an http-status [Code] and a
// lifecycle [Kind]. Every rejection is logged through the injected [Logger]
// and mapped to a response by the [ErrorResponder] collaborator, so a client
// never sees a bare connection reset while the transport is writable.
package dhttp
