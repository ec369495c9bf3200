// Package http serves the guardian's read-only audit and query API. Module
// endpoints are mounted by the consensus engine under the module's own kind
// prefix; the package itself only owns the server lifecycle and the node
// status endpoint.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/btc"
	"github.com/fedivault/guardian/internal/config"
	"github.com/fedivault/guardian/internal/consensus"
)

type HTTPServer struct {
	engine *consensus.Engine
	poller *btc.StatusPoller
}

func NewHTTPServer(engine *consensus.Engine, poller *btc.StatusPoller) *HTTPServer {
	return &HTTPServer{engine: engine, poller: poller}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.GET("/status", hs.handleStatus)
	hs.engine.RegisterRoutes(api)

	addr := ":" + config.AppConfig.HTTPPort
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Failed to shut down HTTP server: %v", err)
	}
}

func (hs *HTTPServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, hs.poller.Status())
}
