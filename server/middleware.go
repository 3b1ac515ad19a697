package server

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
)

const (
	requestIDHeader      = "X-Request-Id"
	compressionThreshold = 1024
	compressionLevel     = 6
)

type Middleware interface {
	Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler
}

// RecoveryMiddleware converts a handler panic into a 500 so one bad request
// never takes the worker down.
type RecoveryMiddleware struct {
	logger types.Logger
}

func NewRecoveryMiddleware(logger types.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Panic in request handler",
					zap.ByteString("path", ctx.Path()),
					zap.Any("panic", r))
				ctx.ResetBody()
				writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
			}
		}()
		next(ctx)
	}
}

// AccessLogMiddleware tags every request with an id, logs the outcome and
// feeds the per-route request metrics.
type AccessLogMiddleware struct {
	logger  types.Logger
	metrics types.MetricsRecorder
}

func NewAccessLogMiddleware(logger types.Logger, metrics types.MetricsRecorder) *AccessLogMiddleware {
	return &AccessLogMiddleware{logger: logger, metrics: metrics}
}

func (m *AccessLogMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		requestID := string(ctx.Request.Header.Peek(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Response.Header.Set(requestIDHeader, requestID)

		next(ctx)

		duration := time.Since(start)
		route := string(ctx.Path())

		m.metrics.RecordRequest(route, duration)

		m.logger.Debug("request handled",
			zap.String("request_id", requestID),
			zap.ByteString("method", ctx.Method()),
			zap.String("path", route),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("duration", duration))
	}
}

// CompressionMiddleware compresses JSON responses above a size threshold
// with the best algorithm the client accepts. Writers are pooled.
type CompressionMiddleware struct {
	logger            types.Logger
	brotliWriterPool  sync.Pool
	gzipWriterPool    sync.Pool
	deflateWriterPool sync.Pool
}

func NewCompressionMiddleware(logger types.Logger) *CompressionMiddleware {
	return &CompressionMiddleware{
		logger: logger,
		brotliWriterPool: sync.Pool{
			New: func() interface{} {
				return brotli.NewWriterLevel(nil, compressionLevel)
			},
		},
		gzipWriterPool: sync.Pool{
			New: func() interface{} {
				w, _ := gzip.NewWriterLevel(nil, compressionLevel)
				return w
			},
		},
		deflateWriterPool: sync.Pool{
			New: func() interface{} {
				w, _ := flate.NewWriter(nil, compressionLevel)
				return w
			},
		},
	}
}

func (m *CompressionMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)

		if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
			return
		}

		body := ctx.Response.Body()
		if len(body) < compressionThreshold {
			return
		}

		contentType := string(ctx.Response.Header.ContentType())
		if !strings.HasPrefix(contentType, "application/json") &&
			!strings.HasPrefix(contentType, "text/") {
			return
		}

		acceptEncoding := string(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding))

		var encoding string
		var compressed []byte
		var err error

		switch {
		case strings.Contains(acceptEncoding, "br"):
			encoding = "br"
			compressed, err = m.compressBrotli(body)
		case strings.Contains(acceptEncoding, "gzip"):
			encoding = "gzip"
			compressed, err = m.compressGzip(body)
		case strings.Contains(acceptEncoding, "deflate"):
			encoding = "deflate"
			compressed, err = m.compressDeflate(body)
		default:
			return
		}

		if err != nil {
			m.logger.Warn("Response compression failed", zap.Error(err))
			return
		}
		if len(compressed) >= len(body) {
			return
		}

		ctx.Response.Header.SetContentEncoding(encoding)
		ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
		ctx.Response.SetBody(compressed)
	}
}

func (m *CompressionMiddleware) compressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := m.brotliWriterPool.Get().(*brotli.Writer)
	w.Reset(&buf)
	defer func() {
		w.Reset(nil)
		m.brotliWriterPool.Put(w)
	}()

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (m *CompressionMiddleware) compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := m.gzipWriterPool.Get().(*gzip.Writer)
	w.Reset(&buf)
	defer func() {
		w.Reset(nil)
		m.gzipWriterPool.Put(w)
	}()

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (m *CompressionMiddleware) compressDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := m.deflateWriterPool.Get().(*flate.Writer)
	w.Reset(&buf)
	defer func() {
		w.Reset(nil)
		m.deflateWriterPool.Put(w)
	}()

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
