// Package example holds hooks used by the package examples and docs.
package example

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/advdv/dhttp"
)

// RequireAPIKey is a preprocessor that rejects requests without the given key.
func RequireAPIKey(key string) dhttp.Preprocessor {
	return func(_ *dhttp.Context, r *http.Request) error {
		if r.Header.Get("X-Api-Key") != key {
			return dhttp.NewError(dhttp.CodeUnauthorized, fmt.Errorf("missing or wrong api key"))
		}

		return nil
	}
}

// UppercaseBody is a postprocessor contributing a transform that uppercases
// text responses and opts out for everything else.
func UppercaseBody() dhttp.Postprocessor {
	return func(_ *dhttp.Context, _ *http.Request, resp *dhttp.Response) (dhttp.BodyTransform, error) {
		if ctype := resp.Header.Get("Content-Type"); ctype != "" && !strings.HasPrefix(ctype, "text/") {
			return nil, nil
		}

		return func(src io.Reader) io.Reader {
			return &upperReader{src: src}
		}, nil
	}
}

type upperReader struct{ src io.Reader }

func (r *upperReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	for i := range n {
		if p[i] >= 'a' && p[i] <= 'z' {
			p[i] -= 'a' - 'A'
		}
	}

	return n, err
}
