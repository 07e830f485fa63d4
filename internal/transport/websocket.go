package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Reachability of the socket file is the only access control.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) serveWebSocket(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.handleUpgrade(ctx, w, r) }),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// Shutdown does not touch hijacked connections.
		s.closeAll()
	}()

	err := srv.Serve(ln)
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := ws.NetConn()
	if !s.track(conn) {
		ws.Close()
		return
	}
	defer s.untrack(conn)
	defer ws.Close()

	ws.SetReadLimit(MaxMessageSize)
	s.logger.Log(ctx, levelTrace, "websocket opened")

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := ws.WriteMessage(websocket.TextMessage, s.handler.Handle(ctx, data)); err != nil {
			return
		}
	}
}
