package dhttp_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/advdv/dhttp"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newDispatcher(t *testing.T, opts dhttp.Options) *dhttp.Dispatcher {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = dhttp.NewTestLogger(t)
	}

	d, err := dhttp.NewDispatcher(opts)
	require.NoError(t, err)

	return d
}

func dispatch(d *dhttp.Dispatcher, method, target string, body string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}

	var req *http.Request
	if rdr != nil {
		req = httptest.NewRequest(method, target, rdr)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	return rec
}

func TestHandlerStringResult(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/hello`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return "hello world", nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/hello", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello world", rec.Body.String())
}

func TestMapResultNormalized(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/created`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return map[string]any{"status": 201, "body": "ok"}, nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodPost, "/created", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestUnusableResultRejects(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/weird`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return struct{ X int }{42}, nil
	})

	logs := dhttp.NewTestLogger(t)
	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes, Logger: logs}), http.MethodGet, "/weird", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "usable response")
	require.Equal(t, int64(1), logs.NumLogRejection)
}

func TestNotFoundMentionsURL(t *testing.T) {
	rec := dispatch(newDispatcher(t, dhttp.Options{}), http.MethodGet, "/missing/page", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, int64(404), gjson.Get(rec.Body.String(), "status").Int())
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "/missing/page")
}

func TestSinglePreprocessorFailure(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/guarded`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return "never reached", nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Preprocessors: []dhttp.Preprocessor{
			func(_ *dhttp.Context, _ *http.Request) error { return nil },
			func(_ *dhttp.Context, _ *http.Request) error {
				return dhttp.NewError(dhttp.CodeUnprocessableEntity, errors.New("bad payload"))
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/guarded", "")

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "bad payload")
}

func TestMultiplePreprocessorFailuresAggregate(t *testing.T) {
	opts := dhttp.Options{
		Preprocessors: []dhttp.Preprocessor{
			func(_ *dhttp.Context, _ *http.Request) error { return errors.New("alpha failed") },
			func(_ *dhttp.Context, _ *http.Request) error { return nil },
			func(_ *dhttp.Context, _ *http.Request) error { return errors.New("beta failed") },
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/anything", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// fan-out order is preserved in the aggregate
	subErrors := gjson.Get(rec.Body.String(), "errors").Array()
	require.Len(t, subErrors, 2)
	require.Contains(t, subErrors[0].String(), "alpha failed")
	require.Contains(t, subErrors[1].String(), "beta failed")
}

func TestSettlementFirstResolveWins(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/race`, func(ctx *dhttp.Context, _ *http.Request) (any, error) {
		ctx.Resolve("early")
		ctx.Reject(errors.New("too late"))
		return "even later", nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/race", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "early", rec.Body.String())
}

func TestSettlementFirstRejectWins(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/race`, func(ctx *dhttp.Context, _ *http.Request) (any, error) {
		ctx.Reject(dhttp.NewError(dhttp.CodeConflict, errors.New("first word")))
		return "discarded", nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/race", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "first word")
}

func TestPreprocessorSettlesBeforeHandler(t *testing.T) {
	handled := false

	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/short`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		handled = true
		return "from handler", nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Preprocessors: []dhttp.Preprocessor{
			func(ctx *dhttp.Context, _ *http.Request) error {
				ctx.Resolve("from preprocessor")
				return nil
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/short", "")

	require.Equal(t, "from preprocessor", rec.Body.String())
	require.False(t, handled, "a settled request must not reach the handler")
}

func TestRoutedHandlerSeesCaptures(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/users/(?P<id>\d+)`, func(ctx *dhttp.Context, _ *http.Request) (any, error) {
		return "user " + ctx.Params["id"], nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/users/42", "")
	require.Equal(t, "user 42", rec.Body.String())
}

func TestCookiesAttachedToContext(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/whoami`, func(ctx *dhttp.Context, _ *http.Request) (any, error) {
		return ctx.Cookies["session"], nil
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "s3cret"})
	req.AddCookie(&http.Cookie{Name: "session", Value: "shadowed"})

	rec := httptest.NewRecorder()
	newDispatcher(t, dhttp.Options{Routes: routes}).ServeHTTP(rec, req)

	require.Equal(t, "s3cret", rec.Body.String(), "first cookie value per name wins")
}

func TestLoaderResolvesNamedTarget(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleRef(`/dynamic`, "handlers.dynamic")

	loader := dhttp.TargetLoaderFunc(func(ref string) (any, error) {
		require.Equal(t, "handlers.dynamic", ref)
		return dhttp.HandlerFunc(func(_ *dhttp.Context, _ *http.Request) (any, error) {
			return "loaded", nil
		}), nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes, Loader: loader}), http.MethodGet, "/dynamic", "")
	require.Equal(t, "loaded", rec.Body.String())
}

func TestInvalidTargetIsRoutingErrorWithoutStaticFallback(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "page.txt"), []byte("static content"), 0o600))

	routes := dhttp.NewRouteTable()
	routes.HandleRef(`/page.txt`, "handlers.broken")

	loader := dhttp.TargetLoaderFunc(func(string) (any, error) {
		return 42, nil // not a handler
	})

	opts := dhttp.Options{Routes: routes, Loader: loader, StaticDir: static}
	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/page.txt", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code,
		"a matched route with an unusable target must not fall back to static files")
	require.NotContains(t, rec.Body.String(), "static content")
}

func TestStaticFileServed(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "hello.txt"), []byte("from disk"), 0o600))

	rec := dispatch(newDispatcher(t, dhttp.Options{StaticDir: static}), http.MethodGet, "/hello.txt", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "from disk", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestStaticTraversalRefused(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "inside.txt"), []byte("inside"), 0o600))

	rec := dispatch(newDispatcher(t, dhttp.Options{StaticDir: static}), http.MethodGet, "/../../etc/passwd", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedirectOutcome(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/old`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return dhttp.Redirect{Location: "/new"}, nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/old", "")

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/new", rec.Header().Get("Location"))
}

func TestHandlerErrorKeepsOwnStatus(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/conflict`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return nil, dhttp.NewError(dhttp.CodeConflict, errors.New("already exists"))
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/conflict", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerPanicMapsTo500(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/boom`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		panic("kaboom")
	})

	logs := dhttp.NewTestLogger(t)
	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes, Logger: logs}), http.MethodGet, "/boom", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "kaboom")
	require.Equal(t, int64(1), logs.NumLogRejection)
}

func TestBodyReadTimeoutYields408(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/slow`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		// never reads the body; the deadline fires while we sit here
		time.Sleep(50 * time.Millisecond)
		return "too late", nil
	})

	opts := dhttp.Options{Routes: routes, BodyTimeout: 10 * time.Millisecond}
	rec := dispatch(newDispatcher(t, opts), http.MethodPost, "/slow", "request body")

	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	require.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "no body read completed")
}

func TestBodyReadDisarmsTimeout(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/read`, func(_ *dhttp.Context, r *http.Request) (any, error) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		time.Sleep(50 * time.Millisecond)
		return string(buf[:n]), nil
	})

	opts := dhttp.Options{Routes: routes, BodyTimeout: 25 * time.Millisecond}
	rec := dispatch(newDispatcher(t, opts), http.MethodPost, "/read", "payload")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "payload", rec.Body.String())
}

func TestValidationErrors(t *testing.T) {
	_, err := dhttp.NewDispatcher(dhttp.Options{Port: -2})
	require.Error(t, err)
	require.Equal(t, dhttp.KindValidation, dhttp.KindOf(err))

	_, err = dhttp.NewDispatcher(dhttp.Options{BasePath: "api"})
	require.Error(t, err)
	require.Equal(t, dhttp.KindValidation, dhttp.KindOf(err))
}
