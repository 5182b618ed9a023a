package dhttp

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Options configures a [Dispatcher] and [Serve]. The zero value is usable:
// every field falls back to the documented default.
type Options struct {
	Host        string        // defaults to "localhost"
	Port        int           // defaults to 8080; 0 via UseEphemeralPort
	BasePath    string        // defaults to "/"
	Routes      *RouteTable   // defaults to an empty table
	StaticDir   string        // static root, no static serving when empty
	Static      StaticResolver
	Files       FileResponder
	Cookies     CookieParser
	Errors      ErrorResponder
	Loader      TargetLoader
	Logger      Logger        // defaults to stderr writes
	OpenBrowser bool
	Preprocessors  []Preprocessor
	Postprocessors []Postprocessor
	Signal      context.Context // external shutdown signal, optional
	BodyTimeout time.Duration   // body-read deadline, defaults to 1s

	// Wrap optionally decorates the dispatcher in [Serve], e.g. for tracing.
	Wrap func(http.Handler) http.Handler

	// UseEphemeralPort makes Port 0 mean "pick a free port" instead of the default.
	UseEphemeralPort bool
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}

	if o.Port == 0 && !o.UseEphemeralPort {
		o.Port = 8080
	}

	if o.BasePath == "" {
		o.BasePath = "/"
	}

	if o.Routes == nil {
		o.Routes = NewRouteTable()
	}

	if o.Static == nil {
		o.Static = NewDirResolver(o.StaticDir)
	}

	if o.Files == nil {
		o.Files = NewFileResponder()
	}

	if o.Cookies == nil {
		o.Cookies = NewCookieParser()
	}

	if o.Errors == nil {
		o.Errors = NewJSONErrorResponder()
	}

	if o.Logger == nil {
		o.Logger = NewStdLogger(log.New(os.Stderr, "", log.LstdFlags))
	}

	if o.BodyTimeout == 0 {
		o.BodyTimeout = time.Second
	}

	return o
}

func (o Options) validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return NewValidationError("port out of range: %d", o.Port)
	}

	if !strings.HasPrefix(o.BasePath, "/") {
		return NewValidationError("base path must start with a slash: %q", o.BasePath)
	}

	if o.BodyTimeout < 0 {
		return NewValidationError("body timeout must not be negative: %s", o.BodyTimeout)
	}

	return nil
}

// Dispatcher runs the request lifecycle: context construction, preprocessor
// fan-out, route or static resolution, handler invocation and the cancellable
// streaming send. It implements http.Handler and holds no per-request state.
type Dispatcher struct {
	routes  *RouteTable
	static  StaticResolver
	files   FileResponder
	cookies CookieParser
	errors  ErrorResponder
	loader  TargetLoader
	logs    Logger
	pre     []Preprocessor
	post    []Postprocessor
	signal  context.Context
	timeout time.Duration
}

// NewDispatcher inits a dispatcher from the given options. Malformed options
// fail with a validation error.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()

	return &Dispatcher{
		routes:  opts.Routes,
		static:  opts.Static,
		files:   opts.Files,
		cookies: opts.Cookies,
		errors:  opts.Errors,
		loader:  opts.Loader,
		logs:    opts.Logger,
		pre:     opts.Preprocessors,
		post:    opts.Postprocessors,
		signal:  opts.Signal,
		timeout: opts.BodyTimeout,
	}, nil
}

// ServeHTTP implements http.Handler on top of [Dispatcher.Dispatch].
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.Dispatch(NewStdTransport(w), r)
}

// Dispatch runs one request through the pipeline and sends the settled outcome
// on the transport. It returns when the response is fully sent or torn down.
func (d *Dispatcher) Dispatch(t Transport, r *http.Request) {
	ctx := d.newContext(r)
	defer ctx.canceller.Dispose()

	out := d.run(ctx, r)

	s := &sender{t: t, tok: ctx.canceller, post: d.post, errors: d.errors, logs: d.logs}
	s.send(ctx, r, out)
}

// Context is the per-request bundle handed to hooks and handlers. Everything
// except the Set/Get scratch space is fixed at construction; route captures are
// attached once during resolution, before the handler runs.
type Context struct {
	URL        *url.URL
	Query      url.Values
	Captures   []string
	Params     map[string]string
	Cookies    map[string]string
	ClientAddr string

	canceller *Canceller

	valMu sync.Mutex
	vals  map[string]any

	setMu   sync.Mutex
	outcome *Outcome
}

// Canceller returns the request's cancellation token.
func (c *Context) Canceller() *Canceller { return c.canceller }

// Aborted reports whether the request's cancellation token fired.
func (c *Context) Aborted() bool { return c.canceller.Aborted() }

// Set stores a request-scoped value, the mutation capability preprocessors use
// to hand data to handlers.
func (c *Context) Set(key string, v any) {
	c.valMu.Lock()
	defer c.valMu.Unlock()
	c.vals[key] = v
}

// Get returns a request-scoped value previously stored with Set.
func (c *Context) Get(key string) (any, bool) {
	c.valMu.Lock()
	defer c.valMu.Unlock()
	v, ok := c.vals[key]
	return v, ok
}

// Resolve settles the request with a handler result. The first settlement call
// wins; all later Resolve/Reject calls are no-ops. An unusable result settles
// as a handler-error rejection.
func (c *Context) Resolve(v any) {
	resp, err := normalizeResult(v)
	if err != nil {
		c.settle(&Outcome{kind: outcomeError, err: err})
		return
	}

	kind := outcomeResponse
	if _, isRedirect := v.(Redirect); isRedirect || resp.redirectish() {
		kind = outcomeRedirect
	}

	c.settle(&Outcome{kind: kind, resp: resp})
}

// Reject settles the request with an error. The first settlement call wins.
func (c *Context) Reject(err error) {
	if err == nil {
		err = errors.New("rejected without a reason")
	}

	c.settle(&Outcome{kind: outcomeError, err: err})
}

// Settled reports whether the request already has an outcome.
func (c *Context) Settled() bool {
	c.setMu.Lock()
	defer c.setMu.Unlock()
	return c.outcome != nil
}

func (c *Context) settle(o *Outcome) bool {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	if c.outcome != nil {
		return false
	}

	c.outcome = o
	return true
}

func (c *Context) settled() *Outcome {
	c.setMu.Lock()
	defer c.setMu.Unlock()
	return c.outcome
}

func (c *Context) attachMatch(m *Match) {
	c.Captures = m.Captures
	c.Params = m.Params
}

// Outcome is the settled result of a pipeline run: a response, a redirect or a
// structured error. Exactly one outcome exists per request.
type Outcome struct {
	kind outcomeKind
	resp *Response
	err  error
}

type outcomeKind uint8

const (
	outcomeResponse outcomeKind = iota
	outcomeRedirect
	outcomeError
)

// Err returns the rejection error, nil for response and redirect outcomes.
func (o *Outcome) Err() error { return o.err }

func (d *Dispatcher) newContext(r *http.Request) *Context {
	ctx := &Context{
		URL:        r.URL,
		Query:      r.URL.Query(),
		Params:     map[string]string{},
		Cookies:    d.cookies.ParseCookies(r),
		ClientAddr: r.RemoteAddr,
		canceller:  NewCanceller(),
		vals:       map[string]any{},
	}

	// socket close surfaces through the request context in net/http
	ctx.canceller.BindContext(r.Context(), func(cause error) error {
		return NewAbortError(errors.Wrap(cause, "connection closed"))
	})

	ctx.canceller.BindContext(d.signal, func(cause error) error {
		return NewAbortError(errors.Wrap(cause, "shutdown signal"))
	})

	if hasBody(r) {
		ctx.canceller.ArmTimeout(d.timeout)
		r.Body = &deadlineBody{rc: r.Body, tok: ctx.canceller}
	}

	return ctx
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// deadlineBody disarms the body-read deadline as soon as one read settles.
type deadlineBody struct {
	rc   io.ReadCloser
	tok  *Canceller
	once sync.Once
}

func (b *deadlineBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	b.once.Do(b.tok.DisarmTimeout)
	return n, err
}

func (b *deadlineBody) Close() error { return b.rc.Close() }

// run walks the request through preprocessing, resolving and handling until it
// settles, then returns the single authoritative outcome.
func (d *Dispatcher) run(ctx *Context, r *http.Request) *Outcome {
	d.fanOut(ctx, r)

	if out := ctx.settled(); out != nil {
		return out
	}

	d.resolveAndHandle(ctx, r)

	return ctx.settled()
}

// fanOut runs every preprocessor concurrently and waits for the whole group.
// Failures are collected in registration order; an aborted token takes
// precedence over them.
func (d *Dispatcher) fanOut(ctx *Context, r *http.Request) {
	if len(d.pre) == 0 {
		return
	}

	results := make([]error, len(d.pre))

	var wg sync.WaitGroup
	for i, pre := range d.pre {
		wg.Add(1)
		go func(i int, pre Preprocessor) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = errors.Newf("preprocessor panicked: %v", rec)
				}
			}()

			results[i] = pre(ctx, r)
		}(i, pre)
	}
	wg.Wait()

	if ctx.Settled() {
		return
	}

	if ctx.canceller.Aborted() {
		ctx.Reject(ctx.canceller.Reason())
		return
	}

	var failed []error
	for _, err := range results {
		if err != nil {
			failed = append(failed, err)
		}
	}

	switch len(failed) {
	case 0:
	case 1:
		ctx.Reject(failed[0])
	default:
		ctx.Reject(NewAggregateError(failed))
	}
}

// resolveAndHandle picks a route in registration order, falls through to
// static files only when no pattern matched, and classifies the handler
// result. A matched route with an unusable target rejects as a routing error
// without static fallback.
func (d *Dispatcher) resolveAndHandle(ctx *Context, r *http.Request) {
	if m, ok := d.routes.Resolve(ctx.URL.Path); ok {
		ctx.attachMatch(m)

		handler, err := d.loadHandler(m)
		if err != nil {
			ctx.Reject(err)
			return
		}

		v, err := invokeHandler(handler, ctx, r)
		if err != nil {
			if _, structured := asError(err); !structured {
				err = NewHandlerError(err)
			}
			ctx.Reject(err)
			return
		}

		ctx.Resolve(v)
		return
	}

	if path, ok := d.static.ResolveFile(ctx.URL.Path); ok {
		resp, err := d.files.RespondFile(path)
		if err != nil {
			ctx.Reject(NewError(CodeInternalServerError, err))
			return
		}

		ctx.Resolve(resp)
		return
	}

	ctx.Reject(NewNotFoundError(ctx.URL.String()))
}

func (d *Dispatcher) loadHandler(m *Match) (Handler, error) {
	if m.handler != nil {
		return m.handler, nil
	}

	if m.ref == "" {
		return nil, NewRoutingError(m.Pattern, errors.New("route has no handler"))
	}

	if d.loader == nil {
		return nil, NewRoutingError(m.Pattern, errors.New("no target loader configured"))
	}

	v, err := d.loader.LoadTarget(m.ref)
	if err != nil {
		return nil, NewRoutingError(m.Pattern, err)
	}

	switch handler := v.(type) {
	case Handler:
		return handler, nil
	case func(*Context, *http.Request) (any, error):
		return HandlerFunc(handler), nil
	default:
		return nil, NewRoutingError(m.Pattern, errors.Newf("target %q does not expose a handler: %T", m.ref, v))
	}
}

// invokeHandler calls the handler, turning a panic into an error so nothing
// escapes the pipeline un-mapped.
func invokeHandler(h Handler, ctx *Context, r *http.Request) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = nil, NewHandlerError(errors.Newf("handler panicked: %v", rec))
		}
	}()

	return h.ServeDHTTP(ctx, r)
}
