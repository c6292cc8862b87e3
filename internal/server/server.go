package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rgbd-stream-go/internal/config"
)

// Server pushes every packet to connected websocket clients as one binary
// message. Text messages carry JSON: the stream configuration on connect and
// coverage snapshots on request.
type Server struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]*sync.Mutex
	mu         sync.Mutex
	cfg        config.AppConfig
	logger     *zap.Logger
	statusFn   func() map[string]any
	snapshotFn func() any
	resetFn    func()
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.AppConfig, logger *zap.Logger, statusFn func() map[string]any, snapshotFn func() any) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]*sync.Mutex),
		cfg:        cfg,
		logger:     logger,
		statusFn:   statusFn,
		snapshotFn: snapshotFn,
	}
}

// OnReset registers fn to run when a client sends a snapshot_reset request.
// Call it before serving.
func (s *Server) OnReset(fn func()) {
	s.resetFn = fn
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	s.logger.Info("http server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) streamConfig() map[string]any {
	return map[string]any{
		"type":          "config",
		"width":         s.cfg.Width,
		"height":        s.cfg.Height,
		"field_of_view": s.cfg.FieldOfView,
		"tick_rate":     s.cfg.TickRate,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()
	s.logger.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	_ = s.writeJSON(conn, writeMu, s.streamConfig())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var request map[string]any
			if err := json.Unmarshal(payload, &request); err != nil {
				continue
			}
			switch request["type"] {
			case "snapshot_reset":
				if s.resetFn == nil {
					continue
				}
				s.resetFn()
				s.logger.Info("snapshot reset", zap.String("remote", r.RemoteAddr))
				_ = s.writeJSON(conn, writeMu, map[string]any{"type": "snapshot_reset"})
			case "snapshot_request":
				if s.snapshotFn == nil {
					continue
				}
				snapshot := s.snapshotFn()
				if snapshot == nil {
					continue
				}
				_ = s.writeJSON(conn, writeMu, map[string]any{"type": "snapshot", "data": snapshot})
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := s.streamConfig()
	delete(payload, "type")
	payload["port"] = s.cfg.Port
	payload["objects"] = s.cfg.Objects
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		if status := s.statusFn(); status != nil {
			payload = status
		}
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.ClientCount()
	} else {
		payload["ws_clients"] = s.ClientCount()
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Broadcast sends pkt to every client as a binary message. Clients that fail
// the write are dropped. pkt is not retained.
func (s *Server) Broadcast(pkt []byte) error {
	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := s.writeMessage(conn, writeMu, websocket.BinaryMessage, pkt); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.logger.Info("websocket client dropped", zap.String("remote", conn.RemoteAddr().String()))
		s.removeClient(conn)
	}
	return nil
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, conn)
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
