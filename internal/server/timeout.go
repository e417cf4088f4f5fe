package server

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// TimeoutMiddleware cancels the request context if the handler has not
// started responding within timeout. A handler that flushes, such as an
// event stream, stops the clock; the stream is then bounded by its upstream
// idle timeout and the client connection instead.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithCancel(r.Context())
			defer cancel()

			timer := time.AfterFunc(timeout, cancel)
			defer timer.Stop()

			tw := &timeoutWriter{ResponseWriter: w, timer: timer}
			next.ServeHTTP(tw, r.WithContext(ctx))
		})
	}
}

// timeoutWriter stops the request timer on the first flush.
type timeoutWriter struct {
	http.ResponseWriter
	timer *time.Timer
	once  sync.Once
}

func (tw *timeoutWriter) Flush() {
	tw.once.Do(func() { tw.timer.Stop() })
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *timeoutWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}
