package dhttp

import (
	"net"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
)

// Transport is the writable side of one connection as the sender sees it. It mirrors the
// narrow surface the engine needs: header writes happen at most once, body writes are
// guarded by liveness flags, and Destroy tears the connection down without a trailer.
type Transport interface {
	WriteHead(status int)
	SetHeader(name, value string)
	AppendHeader(name, value string)
	Write(p []byte) (int, error)
	End() error
	Destroy()
	HeadersSent() bool
	Writable() bool
}

var errTransportClosed = errors.New("transport is no longer writable")

// stdTransport adapts a net/http ResponseWriter to the [Transport] surface.
type stdTransport struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	headersSent bool
	writable    bool
}

// NewStdTransport wraps a standard library response writer.
func NewStdTransport(w http.ResponseWriter) Transport {
	return &stdTransport{w: w, writable: true}
}

func (t *stdTransport) WriteHead(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.headersSent || !t.writable {
		return
	}

	t.headersSent = true
	t.w.WriteHeader(status)
}

func (t *stdTransport) SetHeader(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.headersSent {
		return
	}

	t.w.Header().Set(name, value)
}

func (t *stdTransport) AppendHeader(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.headersSent {
		return
	}

	t.w.Header().Add(name, value)
}

func (t *stdTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.writable {
		return 0, errTransportClosed
	}

	t.headersSent = true

	n, err := t.w.Write(p)
	if err != nil {
		t.writable = false
	}

	return n, err
}

func (t *stdTransport) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.writable {
		return errTransportClosed
	}

	t.writable = false

	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}

// Destroy terminates the connection without completing the response. When the
// underlying writer supports hijacking the tcp connection is closed outright,
// otherwise writes are simply refused from here on.
func (t *stdTransport) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.writable {
		return
	}

	t.writable = false

	if hj, ok := t.w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			closeConn(conn)
		}
	}
}

func (t *stdTransport) HeadersSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headersSent
}

func (t *stdTransport) Writable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writable
}

func closeConn(conn net.Conn) {
	_ = conn.Close()
}
