package http_server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/http/roomhandler"
	"canvasrelay/internal/registry"
	"canvasrelay/internal/ws"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpServer struct {
	listenPort uint16
	clientDir  string
	srv        http.Server
	ln         net.Listener
	reg        *registry.Registry
	store      *canvasstate.Store
	wsSrv      *ws.WsServer
	ctx        context.Context
}

func NewHttpServer(ctx context.Context, listenPort uint16, clientDir string,
	wsSrv *ws.WsServer, reg *registry.Registry, store *canvasstate.Store) *httpServer {
	return &httpServer{
		listenPort: listenPort,
		clientDir:  clientDir,
		wsSrv:      wsSrv,
		reg:        reg,
		store:      store,
		ctx:        ctx,
	}
}

func (h *httpServer) Start() error {
	var err error
	listenAddr := fmt.Sprintf(":%d", h.listenPort)
	h.ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	routerEngine := gin.New()
	routerEngine.Use(ginzap.RecoveryWithZap(zap.L(), true))

	// Static files for the drawing client
	routerEngine.StaticFile("", filepath.Join(h.clientDir, "index.html"))
	routerEngine.Static("/static", h.clientDir)

	// websocket endpoint
	routerEngine.GET("/ws", h.wsSrv.Handle)

	// REST API
	rh := roomhandler.New(h.reg, h.store)
	rh.Register(routerEngine)

	h.srv = http.Server{
		Handler: routerEngine,
	}

	return h.srv.Serve(h.ln)
}

// Dispose gracefully shuts the HTTP server down.
// It waits up to 10 s for in-flight requests to finish.
func (h *httpServer) Dispose() error {
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	if err := h.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_dispose", zap.Error(err))
		return err // e.g. active conns didn't finish in time
	}

	if ctx.Err() == context.DeadlineExceeded {
		zap.L().Error("http_dispose", zap.Error(errors.New("shutdown timed out")))
		log.Println("shutdown timeout (10 s)")
	}

	return nil
}
