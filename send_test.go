package dhttp_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/advdv/dhttp"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// memTransport records everything the sender does, for asserting on header
// ordering and teardown behavior without a real connection.
type memTransport struct {
	mu          sync.Mutex
	status      int
	statusCalls int
	header      http.Header
	buf         bytes.Buffer
	writes      int
	headersSent bool
	writable    bool
	destroyed   bool
	ended       bool
	firstWrite  chan struct{}
	wroteOnce   sync.Once
}

func newMemTransport() *memTransport {
	return &memTransport{header: http.Header{}, writable: true, firstWrite: make(chan struct{})}
}

func (t *memTransport) WriteHead(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusCalls++
	if t.headersSent {
		return
	}

	t.headersSent = true
	t.status = status
}

func (t *memTransport) SetHeader(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header.Set(name, value)
}

func (t *memTransport) AppendHeader(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.header.Add(name, value)
}

func (t *memTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.writable {
		return 0, errors.New("transport closed")
	}

	t.headersSent = true
	t.writes++
	t.wroteOnce.Do(func() { close(t.firstWrite) })

	return t.buf.Write(p)
}

func (t *memTransport) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = true
	t.writable = false
	return nil
}

func (t *memTransport) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyed = true
	t.writable = false
}

func (t *memTransport) HeadersSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headersSent
}

func (t *memTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

func (t *memTransport) snapshot() (status, statusCalls, writes int, body string, destroyed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.statusCalls, t.writes, t.buf.String(), t.destroyed
}

func marker(open, close string) dhttp.BodyTransform {
	return func(src io.Reader) io.Reader {
		return io.MultiReader(strings.NewReader(open), src, strings.NewReader(close))
	}
}

func TestPostprocessorChainOrder(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/chained`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return "body", nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Postprocessors: []dhttp.Postprocessor{
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return marker("1<", ">1"), nil
			},
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return marker("2<", ">2"), nil
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/chained", "")

	// second transform wraps the output of the first: registration order
	require.Equal(t, "2<1<body>1>2", rec.Body.String())
}

func TestPostprocessorFailuresIgnored(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/resilient`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return "body", nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Postprocessors: []dhttp.Postprocessor{
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return nil, errors.New("this hook is broken")
			},
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return nil, nil // opted out
			},
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				panic("even a panicking hook must not block the send")
			},
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return marker("[", "]"), nil
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/resilient", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[body]", rec.Body.String())
}

func TestRedirectBypassesTransforms(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/moved`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return dhttp.Redirect{Location: "/elsewhere", Status: http.StatusMovedPermanently}, nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Postprocessors: []dhttp.Postprocessor{
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return marker("!", "!"), nil
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/moved", "")

	require.Equal(t, http.StatusMovedPermanently, rec.Code)
	require.Equal(t, "/elsewhere", rec.Header().Get("Location"))
	require.Empty(t, rec.Body.String())
}

func TestMultipleCookiesAppended(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/cookies`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return &dhttp.Response{
			Status: http.StatusOK,
			Cookies: []*http.Cookie{
				{Name: "first", Value: "1"},
				{Name: "second", Value: "2"},
			},
		}, nil
	})

	rec := dispatch(newDispatcher(t, dhttp.Options{Routes: routes}), http.MethodGet, "/cookies", "")

	require.Equal(t, []string{"first=1", "second=2"}, rec.Header().Values("Set-Cookie"))
}

func TestAbortedBeforeSendWrites408Once(t *testing.T) {
	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/any`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return "unreachable", nil
	})

	opts := dhttp.Options{
		Routes: routes,
		Preprocessors: []dhttp.Preprocessor{
			func(ctx *dhttp.Context, _ *http.Request) error {
				ctx.Canceller().Abort(dhttp.NewAbortError(errors.New("client went away")))
				return nil
			},
		},
	}

	mt := newMemTransport()
	req := httptest.NewRequest(http.MethodGet, "/any", nil)
	newDispatcher(t, opts).Dispatch(mt, req)

	status, statusCalls, _, body, _ := mt.snapshot()
	require.Equal(t, http.StatusRequestTimeout, status)
	require.Equal(t, 1, statusCalls, "headers are written at most once")
	require.Equal(t, int64(408), gjson.Get(body, "status").Int())
	require.Contains(t, gjson.Get(body, "error").String(), "client went away")
}

// trickleReader yields one byte per read until closed.
type trickleReader struct {
	mu     sync.Mutex
	closed bool
	reads  int
}

func (r *trickleReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, io.EOF
	}
	r.reads++
	r.mu.Unlock()

	time.Sleep(time.Millisecond)
	p[0] = 'x'

	return 1, nil
}

func (r *trickleReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *trickleReader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestAbortMidStreamStopsWritesAndReleasesReader(t *testing.T) {
	body := &trickleReader{}

	routes := dhttp.NewRouteTable()
	routes.HandleFunc(`/stream`, func(_ *dhttp.Context, _ *http.Request) (any, error) {
		return &dhttp.Response{Status: http.StatusOK, Body: body}, nil
	})

	signal, abort := context.WithCancel(context.Background())
	defer abort()

	opts := dhttp.Options{Routes: routes, Signal: signal, Logger: dhttp.NewTestLogger(t)}

	mt := newMemTransport()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		newDispatcher(t, opts).Dispatch(mt, req)
	}()

	select {
	case <-mt.firstWrite:
	case <-time.After(time.Second):
		t.Fatal("no bytes streamed")
	}

	abort()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not return after abort")
	}

	_, _, writes, _, destroyed := mt.snapshot()
	require.True(t, destroyed, "transport must be torn down on mid-stream abort")

	// the source is released once the in-flight read settles
	require.Eventually(t, body.isClosed, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, _, writesAfter, _, _ := mt.snapshot()
	require.Equal(t, writes, writesAfter, "no further chunks after abort")
}

func TestErrorOutcomeStreamsThroughTransforms(t *testing.T) {
	opts := dhttp.Options{
		Postprocessors: []dhttp.Postprocessor{
			func(_ *dhttp.Context, _ *http.Request, _ *dhttp.Response) (dhttp.BodyTransform, error) {
				return marker("(", ")"), nil
			},
		},
	}

	rec := dispatch(newDispatcher(t, opts), http.MethodGet, "/nope", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "("))
	require.True(t, strings.HasSuffix(rec.Body.String(), ")"))
}
