package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// Server is the HTTP surface of the daemon. It serves the dashboard
// pages, the topic REST endpoints, the websocket stream and the
// embedded static assets.
type Server struct {
	broker          *broker.Broker
	ui              *ui
	static          map[string]*staticFile
	router          *mux.Router
	log             *zap.Logger
	listen          string
	shutdownTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*streamConn
}

func New(b *broker.Broker, cfg *config.Config, log *zap.Logger) (*Server, error) {
	ui, err := newUI(b, cfg.Network.Interfaces, log)
	if err != nil {
		return nil, err
	}

	static, err := loadStaticFiles()
	if err != nil {
		return nil, fmt.Errorf("web: load static assets: %w", err)
	}

	s := &Server{
		broker:          b,
		ui:              ui,
		static:          static,
		log:             log,
		listen:          cfg.Server.Listen,
		shutdownTimeout: cfg.ShutdownTimeout(),
		conns:           make(map[string]*streamConn),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/stream", s.handleStream)
	r.HandleFunc("/v1/{topic:.+}", s.handleTopic)
	r.PathPrefix("/static/").HandlerFunc(s.handleStatic).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handlePage).Methods(http.MethodGet)
	r.Use(s.logRequests)
	s.router = r

	return s, nil
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.ui.render(w, r)
}

func (s *Server) addConn(c *streamConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *Server) removeConn(c *streamConn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
}

// closeConns tears down every open stream so Shutdown does not wait
// for clients that would otherwise stay connected forever.
func (s *Server) closeConns() {
	s.mu.Lock()
	conns := make([]*streamConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.teardown()
		c.ws.Close()
	}
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.listen,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.listen))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	s.closeConns()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	return <-errCh
}
