package dhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Response is the value handlers and collaborators produce for sending. Body may be nil
// for header-only responses and is streamed, not buffered.
type Response struct {
	Status  int
	Header  http.Header
	Cookies []*http.Cookie
	Body    io.Reader
}

// Redirect is a handler result that resolves as a redirect outcome.
type Redirect struct {
	Location string
	Status   int // defaults to 302
}

// redirectish reports whether the response bypasses postprocessor chaining: a
// redirect-class status with a Location header is sent as-is.
func (r *Response) redirectish() bool {
	return r.Status >= 300 && r.Status < 400 && r.Header.Get("Location") != ""
}

// normalizeResult classifies a handler result into a response. Returns a
// KindHandler error when the value is not usable as one.
func normalizeResult(v any) (*Response, error) {
	switch res := v.(type) {
	case nil:
		return &Response{Status: http.StatusOK, Header: http.Header{}}, nil
	case *Response:
		return normalizeResponse(res), nil
	case Response:
		return normalizeResponse(&res), nil
	case Redirect:
		status := res.Status
		if status == 0 {
			status = http.StatusFound
		}

		hdr := http.Header{}
		hdr.Set("Location", res.Location)

		return &Response{Status: status, Header: hdr}, nil
	case string:
		return &Response{Status: http.StatusOK, Header: http.Header{}, Body: strings.NewReader(res)}, nil
	case []byte:
		return &Response{Status: http.StatusOK, Header: http.Header{}, Body: bytes.NewReader(res)}, nil
	case io.Reader:
		return &Response{Status: http.StatusOK, Header: http.Header{}, Body: res}, nil
	case map[string]any:
		return normalizeMap(res)
	default:
		return nil, NewHandlerError(errors.Newf("handler did not return a usable response: %T", v))
	}
}

func normalizeResponse(res *Response) *Response {
	out := *res
	if out.Status == 0 {
		out.Status = http.StatusOK
	}

	if out.Header == nil {
		out.Header = http.Header{}
	}

	return &out
}

// normalizeMap turns loosely shaped results, typically from loader-resolved
// targets, into a response. Recognized keys: "status", "body" and "headers".
func normalizeMap(m map[string]any) (*Response, error) {
	res := &Response{Status: http.StatusOK, Header: http.Header{}}

	if v, ok := m["status"]; ok {
		switch status := v.(type) {
		case int:
			res.Status = status
		case float64:
			res.Status = int(status)
		default:
			return nil, NewHandlerError(errors.Newf("handler did not return a usable response: status is %T", v))
		}
	}

	if v, ok := m["headers"]; ok {
		hdrs, ok := v.(map[string]string)
		if !ok {
			return nil, NewHandlerError(errors.Newf("handler did not return a usable response: headers is %T", v))
		}

		for name, value := range hdrs {
			res.Header.Set(name, value)
		}
	}

	if v, ok := m["body"]; ok {
		switch body := v.(type) {
		case string:
			res.Body = strings.NewReader(body)
		case []byte:
			res.Body = bytes.NewReader(body)
		case io.Reader:
			res.Body = body
		default:
			return nil, NewHandlerError(errors.Newf("handler did not return a usable response: body is %T", v))
		}
	}

	return res, nil
}

// StaticResolver resolves a request path against a static root. A negative
// result means not-found, it is never an error by itself.
type StaticResolver interface {
	ResolveFile(urlPath string) (string, bool)
}

// StaticResolverFunc allows casting a function to implement [StaticResolver].
type StaticResolverFunc func(urlPath string) (string, bool)

func (f StaticResolverFunc) ResolveFile(urlPath string) (string, bool) { return f(urlPath) }

// FileResponder turns a resolved static path into a sendable response.
type FileResponder interface {
	RespondFile(path string) (*Response, error)
}

// FileResponderFunc allows casting a function to implement [FileResponder].
type FileResponderFunc func(path string) (*Response, error)

func (f FileResponderFunc) RespondFile(path string) (*Response, error) { return f(path) }

// CookieParser extracts a key-unique cookie mapping from the inbound request.
type CookieParser interface {
	ParseCookies(r *http.Request) map[string]string
}

// CookieParserFunc allows casting a function to implement [CookieParser].
type CookieParserFunc func(r *http.Request) map[string]string

func (f CookieParserFunc) ParseCookies(r *http.Request) map[string]string { return f(r) }

// ErrorResponder maps a structured error to a sendable response. Used uniformly
// for every rejection outcome.
type ErrorResponder interface {
	RespondError(err error) *Response
}

// ErrorResponderFunc allows casting a function to implement [ErrorResponder].
type ErrorResponderFunc func(err error) *Response

func (f ErrorResponderFunc) RespondError(err error) *Response { return f(err) }

// NewDirResolver resolves request paths under the given root directory. Only
// concrete regular files resolve; traversal outside the root is refused.
func NewDirResolver(root string) StaticResolver {
	return StaticResolverFunc(func(urlPath string) (string, bool) {
		if root == "" {
			return "", false
		}

		rel := filepath.FromSlash(strings.TrimPrefix(urlPath, "/"))
		full := filepath.Join(root, rel)

		if !strings.HasPrefix(full, filepath.Clean(root)+string(os.PathSeparator)) {
			return "", false
		}

		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			return "", false
		}

		return full, true
	})
}

// NewFileResponder responds with the file's contents, typed by extension.
func NewFileResponder() FileResponder {
	return FileResponderFunc(func(path string) (*Response, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open static file")
		}

		hdr := http.Header{}
		if ctype := mime.TypeByExtension(filepath.Ext(path)); ctype != "" {
			hdr.Set("Content-Type", ctype)
		}

		return &Response{Status: http.StatusOK, Header: hdr, Body: f}, nil
	})
}

// NewCookieParser parses the Cookie header, keeping the first value per name.
func NewCookieParser() CookieParser {
	return CookieParserFunc(func(r *http.Request) map[string]string {
		cookies := map[string]string{}
		for _, c := range r.Cookies() {
			if _, ok := cookies[c.Name]; !ok {
				cookies[c.Name] = c.Value
			}
		}

		return cookies
	})
}

// NewJSONErrorResponder renders rejections as a json body carrying the message
// and mapped status. Errors without a code render as internal server errors.
func NewJSONErrorResponder() ErrorResponder {
	return ErrorResponderFunc(func(err error) *Response {
		code := CodeOf(err)
		if code == CodeUnknown {
			code = CodeInternalServerError
		}

		body := map[string]any{
			"error":  errMessage(err),
			"status": int(code),
		}

		var agg *AggregateError
		if errors.As(err, &agg) {
			msgs := make([]string, len(agg.Errors()))
			for i, sub := range agg.Errors() {
				msgs[i] = sub.Error()
			}
			body["errors"] = msgs
		}

		buf, merr := json.Marshal(body)
		if merr != nil {
			buf = []byte(fmt.Sprintf(`{"error":%q,"status":500}`, "failed to encode error"))
			code = CodeInternalServerError
		}

		hdr := http.Header{}
		hdr.Set("Content-Type", "application/json")

		return &Response{Status: int(code), Header: hdr, Body: bytes.NewReader(buf)}
	})
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
