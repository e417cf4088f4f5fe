package upstream

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is offered on non-streaming calls.
const acceptEncoding = "gzip, br, zstd"

// decodedBody wraps resp.Body according to its Content-Encoding. Closing the
// result closes the original body.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	// Only the outermost encoding is handled; stacked encodings are rare.
	if idx := strings.LastIndex(encoding, ","); idx >= 0 {
		encoding = strings.TrimSpace(encoding[idx+1:])
	}

	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &stackedCloser{Reader: r, closers: []io.Closer{r, resp.Body}}, nil
	case "br":
		return &stackedCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "zstd":
		d, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		rc := d.IOReadCloser()
		return &stackedCloser{Reader: rc, closers: []io.Closer{rc, resp.Body}}, nil
	case "deflate":
		r := flate.NewReader(resp.Body)
		return &stackedCloser{Reader: r, closers: []io.Closer{r, resp.Body}}, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding: %s", encoding)
	}
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
