// Package restserver serves stored fit results over HTTP as JSON or
// MessagePack.
package restserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chrissnell/model3d/internal/log"
	"github.com/chrissnell/model3d/internal/storage"
	"github.com/chrissnell/model3d/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// Controller represents the results server
type Controller struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	config   config.ServerData
	Server   http.Server
	logger   *zap.SugaredLogger
	handlers *Handlers
}

// NewController creates a results server reading from reader
func NewController(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, reader storage.ResultReader, logger *zap.SugaredLogger) (*Controller, error) {
	if reader == nil {
		return nil, errors.New("results server needs a queryable result store")
	}
	logger = log.Or(logger)

	// If a ListenAddr was not provided, listen on all interfaces
	if sc.ListenAddr == "" {
		logger.Info("server.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		sc.ListenAddr = "0.0.0.0"
	}
	if sc.Port == 0 {
		logger.Info("server.port not provided; defaulting to 8080")
		sc.Port = 8080
	}

	ctrl := &Controller{
		ctx:      ctx,
		wg:       wg,
		config:   sc,
		logger:   logger,
		handlers: NewHandlers(reader, logger),
	}
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", sc.ListenAddr, sc.Port)
	ctrl.Server.Handler = ctrl.setupRouter()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// Handler returns the router serving every endpoint.
func (c *Controller) Handler() http.Handler {
	return c.Server.Handler
}

// StartController starts the server. It shuts down when the controller's
// context is cancelled.
func (c *Controller) StartController() error {
	c.logger.Infow("starting results server", "addr", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		var err error
		if c.config.Cert != "" && c.config.Key != "" {
			err = c.Server.ListenAndServeTLS(c.config.Cert, c.config.Key)
		} else {
			err = c.Server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("results server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("shutting down the results server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		c.Server.Shutdown(ctx)
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPRequests(c.logger))

	router.HandleFunc("/healthz", c.handlers.GetHealth).Methods(http.MethodGet)
	router.HandleFunc("/runs", c.handlers.GetRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{run}", c.handlers.GetRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{run}/events", c.handlers.GetRunEvents).Methods(http.MethodGet)
	router.HandleFunc("/runs/{run}/events/{event:[0-9]+}", c.handlers.GetRunEvent).Methods(http.MethodGet)

	return router
}
