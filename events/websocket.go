package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
)

const (
	wsReconnectDelay = 5 * time.Second
	wsMaxRetries     = 10
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 54 * time.Second
	wsWriteWait      = 10 * time.Second
)

// WebSocketSource dials out to a bus endpoint and reads invalidation events
// from the connection. Connection loss triggers a bounded reconnect loop.
type WebSocketSource struct {
	ctx               context.Context
	cancel            context.CancelFunc
	logger            types.Logger
	url               string
	conn              *websocket.Conn
	connMu            sync.RWMutex
	messages          chan []byte
	reconnectCh       chan struct{}
	reconnectAttempts int32
	started           int32
}

func NewWebSocketSource(ctx context.Context, logger types.Logger, config *types.BusConfig) (*WebSocketSource, error) {
	if config == nil || config.URL == "" {
		return nil, types.ErrBusNotConfigured
	}

	sourceCtx, cancel := context.WithCancel(ctx)

	return &WebSocketSource{
		ctx:         sourceCtx,
		cancel:      cancel,
		logger:      logger,
		url:         config.URL,
		messages:    make(chan []byte, 256),
		reconnectCh: make(chan struct{}, 1),
	}, nil
}

func (w *WebSocketSource) Start() error {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return nil
	}

	if err := w.connect(); err != nil {
		atomic.StoreInt32(&w.started, 0)
		return types.WrapError(err, "failed to establish initial bus connection")
	}

	go w.readPump()
	go w.pingLoop()
	go w.reconnectLoop()

	w.logger.Info("WebSocket bus source started", zap.String("url", w.url))
	return nil
}

func (w *WebSocketSource) Stop() error {
	if !atomic.CompareAndSwapInt32(&w.started, 1, 0) {
		return nil
	}

	w.cancel()

	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()

	return nil
}

func (w *WebSocketSource) Messages() <-chan []byte {
	return w.messages
}

func (w *WebSocketSource) connect() error {
	dialCtx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.url, nil)
	if err != nil {
		return types.WrapError(err, "failed to dial bus endpoint")
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	w.connMu.Lock()
	if w.conn != nil {
		_ = w.conn.Close()
	}
	w.conn = conn
	w.connMu.Unlock()

	atomic.StoreInt32(&w.reconnectAttempts, 0)
	return nil
}

func (w *WebSocketSource) readPump() {
	defer close(w.messages)

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		w.connMu.RLock()
		conn := w.conn
		w.connMu.RUnlock()

		if conn == nil {
			select {
			case <-time.After(wsReconnectDelay):
				continue
			case <-w.ctx.Done():
				return
			}
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.logger.Debug("Bus connection closed", zap.Error(err))
			} else {
				w.logger.Warn("Bus read failed", zap.Error(err))
			}
			w.triggerReconnect()

			select {
			case <-time.After(wsReconnectDelay):
				continue
			case <-w.ctx.Done():
				return
			}
		}

		select {
		case w.messages <- payload:
		case <-w.ctx.Done():
			return
		default:
			w.logger.Error("Event buffer full, dropping bus message")
		}
	}
}

func (w *WebSocketSource) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.connMu.RLock()
			conn := w.conn
			w.connMu.RUnlock()

			if conn == nil {
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.logger.Debug("Bus ping failed", zap.Error(err))
				w.triggerReconnect()
			}
		}
	}
}

func (w *WebSocketSource) reconnectLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.reconnectCh:
			attempts := atomic.LoadInt32(&w.reconnectAttempts)
			if int(attempts) >= wsMaxRetries {
				w.logger.Error("Max bus reconnection attempts reached, giving up")
				w.cancel()
				return
			}

			select {
			case <-time.After(wsReconnectDelay):
			case <-w.ctx.Done():
				return
			}

			atomic.AddInt32(&w.reconnectAttempts, 1)

			if err := w.connect(); err != nil {
				w.logger.Error("Bus reconnection attempt failed",
					zap.Int32("attempt", atomic.LoadInt32(&w.reconnectAttempts)),
					zap.Error(err))
				w.triggerReconnect()
				continue
			}

			w.logger.Info("Reconnected to bus endpoint")
		}
	}
}

func (w *WebSocketSource) triggerReconnect() {
	select {
	case w.reconnectCh <- struct{}{}:
	default:
	}
}

var _ Source = (*WebSocketSource)(nil)
