package dhttp

import (
	"io"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
)

const streamChunkSize = 32 * 1024

// sender converts one settled outcome into wire bytes, consulting the request's
// cancellation token between every read and write.
type sender struct {
	t      Transport
	tok    *Canceller
	post   []Postprocessor
	errors ErrorResponder
	logs   Logger

	// bypassToken is set for the final abort response: the token already fired,
	// so consulting it again would tear down the write it is reporting through.
	bypassToken bool
}

func (s *sender) send(ctx *Context, r *http.Request, out *Outcome) {
	if s.tok.Aborted() {
		s.sendAborted(ctx, r)
		return
	}

	switch out.kind {
	case outcomeError:
		s.logRejection(out.err)
		s.write(ctx, r, s.respondError(out.err), false)
	case outcomeRedirect:
		s.write(ctx, r, out.resp, true)
	default:
		s.write(ctx, r, out.resp, false)
	}
}

// sendAborted writes a single timeout-class response carrying the abort reason,
// but only while no headers went out and the transport is still writable.
func (s *sender) sendAborted(ctx *Context, r *http.Request) {
	reason := s.tok.Reason()
	s.logRejection(reason)

	if s.t.HeadersSent() || !s.t.Writable() {
		s.t.Destroy()
		return
	}

	if CodeOf(reason) == CodeUnknown {
		reason = NewAbortError(reason)
	}

	s.bypassToken = true
	s.write(ctx, r, s.respondError(reason), true)
}

// write sends status, headers and body for one response. Headers go out at
// most once; cookies are appended as separate Set-Cookie values so multiple
// cookies survive.
func (s *sender) write(ctx *Context, r *http.Request, resp *Response, skipTransforms bool) {
	if resp == nil {
		resp = s.respondError(NewError(CodeInternalServerError, errors.New("no response produced")))
	}

	if !s.t.HeadersSent() {
		for name, vals := range resp.Header {
			if http.CanonicalHeaderKey(name) == "Set-Cookie" {
				continue
			}
			for _, v := range vals {
				s.t.AppendHeader(name, v)
			}
		}

		for _, c := range resp.Cookies {
			s.t.AppendHeader("Set-Cookie", c.String())
		}

		s.t.WriteHead(resp.Status)
	}

	body := resp.Body
	if body == nil {
		if err := s.t.End(); err != nil {
			s.logs.LogSendFailure(err)
		}
		return
	}

	if !skipTransforms && !resp.redirectish() {
		body = s.chainTransforms(ctx, r, resp, body)
	}

	s.stream(body)
}

// chainTransforms fans out every postprocessor on the response and chains the
// transforms they contribute onto the body, in registration order. Failures
// and nil results never block the send.
func (s *sender) chainTransforms(ctx *Context, r *http.Request, resp *Response, body io.Reader) io.Reader {
	if len(s.post) == 0 {
		return body
	}

	transforms := make([]BodyTransform, len(s.post))

	var wg sync.WaitGroup
	for i, post := range s.post {
		wg.Add(1)
		go func(i int, post Postprocessor) {
			defer wg.Done()
			defer func() { _ = recover() }()

			if tr, err := post(ctx, r, resp); err == nil && tr != nil {
				transforms[i] = tr
			}
		}(i, post)
	}
	wg.Wait()

	for _, tr := range transforms {
		if tr == nil {
			continue
		}
		if next := tr(body); next != nil {
			body = next
		}
	}

	return body
}

// stream copies the body to the transport chunk by chunk until natural
// completion, an abort or a write failure.
func (s *sender) stream(body io.Reader) {
	st := newBodyStream(body)

	var done <-chan struct{}
	if !s.bypassToken {
		done = s.tok.Done()

		unsub := s.tok.Subscribe(func(reason error) { st.cancel(reason) })
		defer unsub()
	}

	for {
		select {
		case chunk, ok := <-st.chunks:
			if !ok {
				s.finishStream(st)
				return
			}

			if !s.bypassToken && s.tok.Aborted() {
				st.cancel(s.tok.Reason())
				s.t.Destroy()
				return
			}

			if !s.t.Writable() {
				st.cancel(errTransportClosed)
				return
			}

			if _, err := s.t.Write(chunk); err != nil {
				s.logs.LogSendFailure(err)
				s.t.Destroy()
				st.cancel(err)
				return
			}
		case <-done:
			st.cancel(s.tok.Reason())
			s.t.Destroy()
			return
		}
	}
}

func (s *sender) finishStream(st *bodyStream) {
	if st.cancelled() {
		s.t.Destroy()
		return
	}

	st.release()

	if err := st.readErr(); err != nil {
		s.logs.LogSendFailure(err)
		s.t.Destroy()
		return
	}

	if err := s.t.End(); err != nil {
		s.logs.LogSendFailure(err)
	}
}

func (s *sender) respondError(err error) *Response {
	resp := s.errors.RespondError(err)
	if resp == nil {
		resp = &Response{Status: http.StatusInternalServerError, Header: http.Header{}}
	}

	return resp
}

// logRejection runs the injected logger; a failing logger never blocks sending.
func (s *sender) logRejection(err error) {
	defer func() { _ = recover() }()
	s.logs.LogRejection(err)
}

// streamState tracks one body stream through its lifecycle so a racing abort
// and a completing read never double-release the source.
type streamState uint8

const (
	streamIdle streamState = iota
	streamReading
	streamReleased
	streamCancelled
)

// bodyStream pumps a body reader into a channel of chunks. The source is
// closed exactly once, by the pump goroutine, and only after any in-flight
// read settled.
type bodyStream struct {
	src    io.Reader
	chunks chan []byte
	stop   chan struct{}

	mu       sync.Mutex
	state    streamState
	reason   error
	err      error
	stopOnce sync.Once
}

func newBodyStream(src io.Reader) *bodyStream {
	b := &bodyStream{
		src:    src,
		chunks: make(chan []byte),
		stop:   make(chan struct{}),
	}

	go b.pump()

	return b
}

func (b *bodyStream) pump() {
	defer close(b.chunks)

	buf := make([]byte, streamChunkSize)

	for {
		if !b.transition(streamIdle, streamReading) {
			b.closeSrc()
			return
		}

		n, err := b.src.Read(buf)

		if !b.transition(streamReading, streamIdle) {
			// cancelled while the read was in flight
			b.closeSrc()
			return
		}

		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case b.chunks <- chunk:
			case <-b.stop:
				b.closeSrc()
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.setErr(err)
			}

			b.mu.Lock()
			if b.state == streamIdle {
				b.state = streamReleased
			}
			b.mu.Unlock()

			b.closeSrc()
			return
		}
	}
}

// cancel requests teardown with the given reason. If a read is in flight the
// source stays open until that read settles.
func (b *bodyStream) cancel(reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == streamReleased || b.state == streamCancelled {
		return
	}

	b.state = streamCancelled
	b.reason = reason
	b.stopOnce.Do(func() { close(b.stop) })
}

// release marks natural completion.
func (b *bodyStream) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == streamCancelled {
		return
	}

	b.state = streamReleased
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *bodyStream) cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == streamCancelled
}

func (b *bodyStream) readErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *bodyStream) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *bodyStream) transition(from, to streamState) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != from {
		return false
	}

	b.state = to
	return true
}

func (b *bodyStream) closeSrc() {
	if closer, ok := b.src.(io.Closer); ok {
		_ = closer.Close()
	}
}
