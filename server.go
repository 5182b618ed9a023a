package dhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Server is a running dispatcher bound to a listening socket.
type Server struct {
	url  string
	lis  net.Listener
	http *http.Server
	done chan struct{}
}

// Serve binds the listener, starts dispatching and returns the running server.
// When the options carry an external signal that already aborted, the listener
// is closed again and startup fails with that reason instead of returning.
func Serve(opts Options) (*Server, error) {
	opts = opts.withDefaults()

	dispatcher, err := NewDispatcher(opts)
	if err != nil {
		return nil, err
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, errors.Wrap(err, "bind listener")
	}

	if opts.Signal != nil && opts.Signal.Err() != nil {
		_ = lis.Close()
		return nil, NewAbortError(errors.Wrap(opts.Signal.Err(), "signal aborted before startup"))
	}

	port := lis.Addr().(*net.TCPAddr).Port

	var handler http.Handler = dispatcher
	if opts.BasePath != "/" {
		handler = stripBasePath(opts.BasePath, handler)
	}

	if opts.Wrap != nil {
		handler = opts.Wrap(handler)
	}

	srv := &Server{
		url:  fmt.Sprintf("http://%s%s", net.JoinHostPort(opts.Host, strconv.Itoa(port)), opts.BasePath),
		lis:  lis,
		http: &http.Server{Handler: handler},
		done: make(chan struct{}),
	}

	go func() {
		_ = srv.http.Serve(lis)
		close(srv.done)
	}()

	if opts.Signal != nil {
		go func() {
			select {
			case <-opts.Signal.Done():
				_ = srv.http.Close()
			case <-srv.done:
			}
		}()
	}

	if opts.OpenBrowser {
		go openBrowser(srv.url, opts.Logger)
	}

	return srv, nil
}

// URL returns the fully qualified base url of the running server.
func (s *Server) URL() string { return s.url }

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// Done returns a channel closed once the listener fully closed.
func (s *Server) Done() <-chan struct{} { return s.done }

// Close tears the server down and waits for the listener to fully close.
func (s *Server) Close() error {
	err := s.http.Close()
	<-s.done
	return err
}

// ShutdownContext closes the server when the given context is done; it is a
// convenience over wiring Options.Signal after the fact.
func (s *Server) ShutdownContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			_ = s.http.Close()
		case <-s.done:
		}
	}()
}

// stripBasePath mounts the dispatcher under a path prefix. The dispatcher sees
// requests with the prefix stripped; requests outside the prefix never enter
// the pipeline and are refused as not-found.
func stripBasePath(prefix string, next http.Handler) http.Handler {
	prefix = strings.TrimSuffix(prefix, "/")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, prefix)
		if p == r.URL.Path || (p != "" && !strings.HasPrefix(p, "/")) {
			http.NotFound(w, r)
			return
		}

		if p == "" {
			p = "/"
		}

		rp := ""
		if r.URL.RawPath != "" {
			rp = strings.TrimPrefix(r.URL.RawPath, prefix)
			if rp == "" {
				rp = "/"
			}
		}

		r2 := new(http.Request)
		*r2 = *r
		r2.URL = new(url.URL)
		*r2.URL = *r.URL
		r2.URL.Path = p
		r2.URL.RawPath = rp

		next.ServeHTTP(w, r2)
	})
}

// openBrowser opens the served url in a platform browser, best effort.
func openBrowser(url string, logs Logger) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		logs.LogBrowserOpenError(errors.Wrapf(err, "open %s", url))
	}
}
