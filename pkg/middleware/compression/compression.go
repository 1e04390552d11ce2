package compression

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/heartline/keyset/pkg/server/router"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"
)

// Config controls page response compression.
type Config struct {
	Enabled      bool
	EnableGzip   bool
	EnableBrotli bool
	GzipLevel    int
	BrotliLevel  int
	// MinSize is the smallest body worth encoding. Shorter bodies, such as a
	// one-item page or an error envelope, go out as they are.
	MinSize              int
	CompressibleTypes    []string
	ExcludedPathPrefixes []string
}

// DefaultConfig returns the configuration used by the public API server.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		EnableGzip:        true,
		EnableBrotli:      true,
		GzipLevel:         gzip.DefaultCompression,
		BrotliLevel:       4,
		MinSize:           512,
		CompressibleTypes: []string{"application/json", "application/x-ndjson", "text/"},
	}
}

// Middleware negotiates Accept-Encoding and encodes the response with brotli
// or gzip, preferring the higher quality value and brotli on a tie.
func Middleware(cfg Config) router.MiddlewareFunc {
	cfg = normalize(cfg)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			r := c.Request()
			if !cfg.Enabled || r == nil || r.Method == http.MethodHead || excluded(r.URL.Path, cfg.ExcludedPathPrefixes) {
				return next(c)
			}

			encoding := negotiate(r.Header.Get("Accept-Encoding"), cfg)
			if encoding == "" {
				return next(c)
			}

			appendVary(c.Response().Header(), "Accept-Encoding")
			w := &encoder{base: c.Response(), encoding: encoding, cfg: cfg}
			c.SetResponse(w)
			// Restored on the way out, panics included, so outer middleware
			// writes unencoded.
			defer func() {
				if cerr := w.Close(); cerr != nil && err == nil {
					err = cerr
				}
				c.SetResponse(w.base)
			}()
			return next(c)
		}
	}
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.GzipLevel == 0 {
		cfg.GzipLevel = def.GzipLevel
	}
	if cfg.BrotliLevel <= 0 {
		cfg.BrotliLevel = def.BrotliLevel
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if len(cfg.CompressibleTypes) == 0 {
		cfg.CompressibleTypes = def.CompressibleTypes
	}
	return cfg
}

func excluded(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func negotiate(acceptEncoding string, cfg Config) string {
	if acceptEncoding == "" {
		return ""
	}
	qBr, hasBr := quality(acceptEncoding, encodingBrotli)
	qGzip, hasGzip := quality(acceptEncoding, encodingGzip)
	if qAny, hasAny := quality(acceptEncoding, "*"); hasAny {
		if !hasBr {
			qBr, hasBr = qAny, true
		}
		if !hasGzip {
			qGzip, hasGzip = qAny, true
		}
	}

	best, bestQ := "", 0.0
	if cfg.EnableBrotli && hasBr && qBr > 0 {
		best, bestQ = encodingBrotli, qBr
	}
	if cfg.EnableGzip && hasGzip && qGzip > bestQ {
		best = encodingGzip
	}
	return best
}

func quality(acceptEncoding, encoding string) (float64, bool) {
	for _, part := range strings.Split(acceptEncoding, ",") {
		sections := strings.Split(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(sections[0]), encoding) {
			continue
		}
		q := 1.0
		for _, section := range sections[1:] {
			kv := strings.SplitN(strings.TrimSpace(section), "=", 2)
			if len(kv) != 2 || !strings.EqualFold(kv[0], "q") {
				continue
			}
			if parsed, err := strconv.ParseFloat(kv[1], 64); err == nil {
				q = parsed
			}
		}
		return q, true
	}
	return 0, false
}

// encoder buffers the body until MinSize bytes arrive or the handler returns,
// then decides once whether to encode.
type encoder struct {
	base     router.ResponseWriter
	encoding string
	cfg      Config

	status  int
	decided bool
	encode  bool
	buf     bytes.Buffer
	out     io.WriteCloser
}

func (w *encoder) Header() http.Header { return w.base.Header() }

func (w *encoder) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	if bodiless(code) {
		w.decided = true
		w.base.WriteHeader(code)
	}
}

func (w *encoder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if w.decided {
		if w.encode {
			return w.out.Write(p)
		}
		return w.base.Write(p)
	}

	w.buf.Write(p)
	if w.buf.Len() < w.cfg.MinSize {
		return len(p), nil
	}
	if err := w.decide(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *encoder) decide() error {
	w.decided = true
	h := w.Header()
	if h.Get("Content-Encoding") != "" || w.buf.Len() < w.cfg.MinSize || !compressible(h.Get("Content-Type"), w.cfg.CompressibleTypes) {
		return w.flushPlain()
	}

	switch w.encoding {
	case encodingBrotli:
		w.out = brotli.NewWriterLevel(w.base, w.cfg.BrotliLevel)
	case encodingGzip:
		gz, err := gzip.NewWriterLevel(w.base, w.cfg.GzipLevel)
		if err != nil {
			return fmt.Errorf("create gzip writer: %w", err)
		}
		w.out = gz
	default:
		return w.flushPlain()
	}

	w.encode = true
	h.Del("Content-Length")
	h.Set("Content-Encoding", w.encoding)
	w.base.WriteHeader(w.statusOrOK())
	if _, err := w.out.Write(w.buf.Bytes()); err != nil {
		return err
	}
	w.buf.Reset()
	return nil
}

func (w *encoder) flushPlain() error {
	w.base.WriteHeader(w.statusOrOK())
	if w.buf.Len() == 0 {
		return nil
	}
	_, err := w.base.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

// Close decides for short bodies and finishes the encoded stream.
func (w *encoder) Close() error {
	if !w.decided {
		if w.status == 0 && w.buf.Len() == 0 {
			return nil
		}
		if err := w.decide(); err != nil {
			return err
		}
	}
	if w.encode {
		return w.out.Close()
	}
	return nil
}

func (w *encoder) statusOrOK() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Status reports the status the handler chose, even while the body is buffered.
func (w *encoder) Status() int {
	if w.base.Written() {
		return w.base.Status()
	}
	return w.statusOrOK()
}

func (w *encoder) Written() bool { return w.status != 0 || w.base.Written() }

func (w *encoder) Flush() {
	if !w.decided && w.status != 0 {
		_ = w.decide()
	}
	if f, ok := w.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := w.base.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *encoder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.base.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func bodiless(code int) bool {
	return code == http.StatusNoContent || code == http.StatusNotModified || (code >= 100 && code < 200)
}

func compressible(contentType string, allow []string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	for _, prefix := range allow {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func appendVary(header http.Header, value string) {
	current := header.Get("Vary")
	if current == "" {
		header.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	header.Set("Vary", current+", "+value)
}
