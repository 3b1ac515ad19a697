package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/memophor/scedge/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// HTTPServer hosts the cache API on fasthttp. Routes are fixed at
// construction; lookup is a static method:path map, no dynamic segments.
type HTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	handlers        *Handlers
	config          *types.HTTPConfig
	server          *fasthttp.Server
	listener        net.Listener
	routes          map[string]fasthttp.RequestHandler
	middleware      []Middleware
	state           atomic.Value
	shutdownTimeout time.Duration
}

func NewHTTPServer(ctx context.Context, logger types.Logger, config *types.HTTPConfig, handlers *Handlers, metricsPath string) *HTTPServer {
	serverCtx, cancel := context.WithCancel(ctx)

	shutdownTimeout := 5 * time.Second
	if config.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(config.ShutdownTimeout) * time.Second
	}

	s := &HTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		handlers:        handlers,
		config:          config,
		shutdownTimeout: shutdownTimeout,
		routes:          make(map[string]fasthttp.RequestHandler),
		middleware: []Middleware{
			NewRecoveryMiddleware(logger),
			NewAccessLogMiddleware(logger, handlers.metrics),
			NewCompressionMiddleware(logger),
		},
	}

	s.routes["GET:/healthz"] = handlers.Health
	s.routes["GET:/health"] = handlers.Health
	s.routes["GET:/lookup"] = handlers.Lookup
	s.routes["POST:/store"] = handlers.Store
	s.routes["POST:/purge"] = handlers.Purge
	if handlers.metricsHandler != nil {
		s.routes["GET:"+metricsPath] = handlers.metricsHandler
	}

	s.state.Store(StateStopped)

	return s
}

func (s *HTTPServer) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	s.server = &fasthttp.Server{
		Handler:      s.mainHandler(),
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.IdleTimeout) * time.Second,
		TCPKeepalive: true,
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to bind listener")
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(s.listener); err != nil {
			if s.getState() == StateRunning {
				s.logger.Error("HTTP server failed", zap.Error(err))
				s.setState(StateStopped)
			}
		}
	}()

	s.logger.Info("HTTP server started", zap.String("address", addr))

	return nil
}

func (s *HTTPServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.server == nil {
			return nil
		}
		return s.server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("HTTP server stop timeout, connections may have been dropped")
		default:
			s.logger.Error("Error during server shutdown", zap.Error(err))
		}
		return err
	}

	s.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (s *HTTPServer) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *HTTPServer) getState() State {
	return s.state.Load().(State)
}

func (s *HTTPServer) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *HTTPServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *HTTPServer) mainHandler() fasthttp.RequestHandler {
	handler := func(ctx *fasthttp.RequestCtx) {
		key := string(ctx.Method()) + ":" + string(ctx.Path())
		if route, ok := s.routes[key]; ok {
			route(ctx)
			return
		}
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}

	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i].Handle(handler)
	}

	return handler
}
