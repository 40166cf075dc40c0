// Package ws provides the websocket frontend: an HTTP acceptor that serves
// the static client bundle, upgrades connections at /ws, and pumps decoded
// messages into the relay.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizrelay/internal/config"
	"github.com/cory-johannsen/quizrelay/internal/game/relay"
)

const shutdownTimeout = 5 * time.Second

// Acceptor listens for HTTP connections, serving the web client at "/" and
// upgrading "/ws" requests into relay connections.
type Acceptor struct {
	serverCfg config.ServerConfig
	wsCfg     config.WebsocketConfig
	handler   relay.Handler
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	clients  map[*Client]struct{}
	running  bool
	wg       sync.WaitGroup
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(serverCfg config.ServerConfig, wsCfg config.WebsocketConfig, handler relay.Handler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		serverCfg: serverCfg,
		wsCfg:     wsCfg,
		handler:   handler,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Client authentication and origin policy are out of scope;
			// any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves until Stop is called.
// This method blocks.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.handleWS)
	if a.serverCfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(a.serverCfg.StaticDir)))
	}

	listener, err := net.Listen("tcp", a.serverCfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.serverCfg.Addr(), err)
	}

	srv := &http.Server{Handler: mux}

	a.mu.Lock()
	a.listener = listener
	a.httpSrv = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("http server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("static_dir", a.serverCfg.StaticDir),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// handleWS upgrades one request and runs the connection until it drops. The
// read loop runs in this goroutine, so the relay sees each connection's
// events in order, one at a time.
func (a *Acceptor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("upgrading connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	client := newClient(conn, a.wsCfg, a.handler, a.logger)

	a.mu.Lock()
	a.clients[client] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	a.logger.Debug("client connected",
		zap.String("conn_id", client.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	go client.writeLoop()
	a.handler.HandleConnect(client)
	client.readLoop()
	a.handler.HandleDisconnect(client)

	a.mu.Lock()
	delete(a.clients, client)
	a.mu.Unlock()
	a.wg.Done()

	a.logger.Debug("client disconnected",
		zap.String("conn_id", client.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// Stop gracefully stops the acceptor: the listener closes, every open
// connection is dropped, and all connection goroutines are waited for.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	srv := a.httpSrv
	open := make([]*Client, 0, len(a.clients))
	for c := range a.clients {
		open = append(open, c)
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}

	for _, c := range open {
		c.close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet
// listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
