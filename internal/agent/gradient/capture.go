package gradient

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// captureTransport records relay request and response bodies onto the active
// span. Bodies are captured as they are consumed, so streaming reads are not
// forced into memory beyond maxBytes.
type captureTransport struct {
	next     http.RoundTripper
	maxBytes int
}

func newCaptureTransport(next http.RoundTripper, maxBytes int) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &captureTransport{next: next, maxBytes: maxBytes}
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	span := trace.SpanFromContext(req.Context())

	if span.IsRecording() && req.Body != nil {
		req.Body = newCaptureReadCloser(req.Body, t.maxBytes, func(body []byte, truncated bool) {
			span.AddEvent("agent.request.body", trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.url", req.URL.String()),
				attribute.String("body", bytesToString(body)),
				attribute.Bool("truncated", truncated),
			))
		})
	}

	res, err := t.next.RoundTrip(req)
	if err != nil {
		return res, err
	}
	if res == nil {
		return res, nil
	}

	if span.IsRecording() {
		span.AddEvent("agent.response.meta", trace.WithAttributes(
			attribute.Int("http.status_code", res.StatusCode),
		))
	}

	if span.IsRecording() && res.Body != nil {
		res.Body = newCaptureReadCloser(res.Body, t.maxBytes, func(body []byte, truncated bool) {
			span.AddEvent("agent.response.body", trace.WithAttributes(
				attribute.Int("http.status_code", res.StatusCode),
				attribute.String("body", bytesToString(body)),
				attribute.Bool("truncated", truncated),
			))
		})
	}

	return res, nil
}

type captureReadCloser struct {
	rc          io.ReadCloser
	maxBytes    int
	buf         bytes.Buffer
	truncated   bool
	onCloseOnce sync.Once
	onClose     func([]byte, bool)
}

func newCaptureReadCloser(rc io.ReadCloser, maxBytes int, onClose func([]byte, bool)) io.ReadCloser {
	if rc == nil {
		return rc
	}
	return &captureReadCloser{rc: rc, maxBytes: maxBytes, onClose: onClose}
}

func (c *captureReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 && c.maxBytes != 0 {
		remaining := c.maxBytes - c.buf.Len()
		if c.maxBytes < 0 {
			remaining = n
		}
		if remaining > 0 {
			if remaining >= n {
				_, _ = c.buf.Write(p[:n])
			} else {
				_, _ = c.buf.Write(p[:remaining])
				c.truncated = true
			}
		} else {
			c.truncated = true
		}
	}
	return n, err
}

func (c *captureReadCloser) Close() error {
	c.onCloseOnce.Do(func() {
		if c.onClose != nil {
			c.onClose(c.buf.Bytes(), c.truncated)
		}
	})
	return c.rc.Close()
}

func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	// Ensure this is always valid UTF-8 for attribute transport; invalid bytes are replaced.
	return strings.ToValidUTF8(string(b), "�")
}
