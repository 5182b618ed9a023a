package dhttp

import (
	"io"
	"net/http"
)

// Handler produces the result for a matched route. The result may be a [*Response],
// a [Redirect], a plain string, byte slice or reader, or a loosely shaped
// map[string]any with "status"/"headers"/"body" keys; anything else rejects the
// request as a handler error.
type Handler interface {
	ServeDHTTP(ctx *Context, r *http.Request) (any, error)
}

// HandlerFunc allows casting a function to implement [Handler].
type HandlerFunc func(ctx *Context, r *http.Request) (any, error)

// ServeDHTTP implements the [Handler] interface.
func (f HandlerFunc) ServeDHTTP(ctx *Context, r *http.Request) (any, error) {
	return f(ctx, r)
}

// Preprocessor runs before route resolution. All registered preprocessors fan
// out concurrently per request; a non-nil error rejects the request once the
// whole group settled.
type Preprocessor func(ctx *Context, r *http.Request) error

// BodyTransform is a stream stage contributed by a postprocessor. Transforms
// chain onto the response body in registration order.
type BodyTransform func(src io.Reader) io.Reader

// Postprocessor runs after a response outcome is produced and may contribute a
// body transform. A nil transform and any error are ignored, they never block
// the send.
type Postprocessor func(ctx *Context, r *http.Request, resp *Response) (BodyTransform, error)

// TargetLoader resolves a named route target into a value that should expose a
// [Handler]. Loaded values that do not are fatal routing errors, the pipeline
// never falls back to static files once a route pattern matched.
type TargetLoader interface {
	LoadTarget(ref string) (any, error)
}

// TargetLoaderFunc allows casting a function to implement [TargetLoader].
type TargetLoaderFunc func(ref string) (any, error)

// LoadTarget implements the [TargetLoader] interface.
func (f TargetLoaderFunc) LoadTarget(ref string) (any, error) { return f(ref) }
