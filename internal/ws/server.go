package ws

import (
	"context"
	"net/http"
	"time"

	"canvasrelay/internal/services/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second // must be < pongWait
)

// ConnContext is what every registered handler receives: the connection's
// session state plus a backref to the server.
type ConnContext struct {
	Sess   *session.Conn
	Server *WsServer
}

type WsServer struct {
	hub        *Hub
	router     *Router
	sessionSvc session.ISessionService
	readLimit  int64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev-only
}

func NewWsServer(h *Hub, sessionSvc session.ISessionService, readLimit int64) *WsServer {
	srv := &WsServer{
		hub:        h,
		router:     NewRouter(),
		sessionSvc: sessionSvc,
		readLimit:  readLimit,
	}
	srv.registerHandlers() // ← all WS events configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(s.readLimit)

	connID := uuid.NewString()
	wsConn := &clientConn{rawConn: rawConn}
	s.hub.Register(connID, wsConn)
	zap.L().Info("ws.connected", zap.String("conn", connID))

	go s.reader(connID, wsConn)
	go s.pinger(wsConn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	Register(s.router, "join-room",
		func(ctx context.Context, cc *ConnContext, req JoinRoomBody) error {
			s.sessionSvc.Join(cc.Sess, req.RoomID, req.UserID, req.Color)
			return nil
		})

	Register(s.router, "cursor-move",
		func(ctx context.Context, cc *ConnContext, req CursorMoveBody) error {
			s.sessionSvc.CursorMove(cc.Sess, req.RoomID, req.UserID, req.Pos)
			return nil
		})

	// Drawing payloads stay opaque; only the sender identity is stamped on.
	Register(s.router, "drawing",
		func(ctx context.Context, cc *ConnContext, req map[string]any) error {
			s.sessionSvc.Drawing(cc.Sess, req)
			return nil
		})

	Register(s.router, "canvas-state",
		func(ctx context.Context, cc *ConnContext, req CanvasStateBody) error {
			s.sessionSvc.PublishState(cc.Sess, req.RoomID, req.CanvasData)
			return nil
		})

	Register(s.router, "request-canvas-state",
		func(ctx context.Context, cc *ConnContext, req RoomRefBody) error {
			s.sessionSvc.RequestState(cc.Sess, req.RoomID)
			return nil
		})

	Register(s.router, "clear-canvas",
		func(ctx context.Context, cc *ConnContext, req RoomRefBody) error {
			s.sessionSvc.ClearCanvas(cc.Sess, req.RoomID)
			return nil
		})

	Register(s.router, "undo",
		func(ctx context.Context, cc *ConnContext, req HistoryBody) error {
			s.sessionSvc.Undo(cc.Sess, req.RoomID, req.CanvasData)
			return nil
		})

	Register(s.router, "redo",
		func(ctx context.Context, cc *ConnContext, req HistoryBody) error {
			s.sessionSvc.Redo(cc.Sess, req.RoomID, req.CanvasData)
			return nil
		})
}

func (s *WsServer) reader(connID string, conn *clientConn) {
	sess := session.NewConn(connID)
	defer func() {
		s.sessionSvc.Disconnect(sess)
		if sess.RoomID != "" {
			s.hub.Leave(sess.RoomID, connID)
		}
		s.hub.Unregister(connID)
		conn.rawConn.Close()
		zap.L().Info("ws.disconnected", zap.String("conn", connID))
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{Sess: sess, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			if msg, ferr := frame("error", ErrorBody{Error: err.Error()}); ferr == nil {
				_ = conn.write(websocket.TextMessage, msg)
			}
		}
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.write(websocket.PingMessage, nil); err != nil {
			conn.rawConn.Close()
			return
		}
	}
}
