package scrubjay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiHealthCheck = "/healthz"
	apiPathStatus  = "/api/status"
)

// API is the operational status surface: a health check that flips
// ready once the bootstrap reconciliation completes, and a status
// endpoint with dispatcher and ledger counters. It serves operators,
// not end users, and carries no authentication.
type API struct {
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	reconciler  *BootstrapReconciler
	dispatchers []*Dispatcher
	db          DBI
}

func newAPI(
	config *APIConfig,
	reconciler *BootstrapReconciler,
	dispatchers []*Dispatcher,
	db DBI,
	log *slog.Logger,
) *API {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &API{
		config:      config,
		engine:      r,
		reconciler:  reconciler,
		dispatchers: dispatchers,
		db:          db,
		logger:      log.With(loggerNameKey, "api"),
	}
	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	r.Use(gin.Recovery(), api.loggingMiddleware())
	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathStatus, api.status)
	return api
}

func (a *API) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", time.Since(start),
			slog.Group(
				"response",
				"status_code", c.Writer.Status(),
				"body_size", c.Writer.Size(),
			),
		)
	}
}

// healthCheck reports 200 once the bootstrap reconciliation has
// completed, 503 before that. Orchestrators should gate traffic and
// restarts on this.
func (a *API) healthCheck(c *gin.Context) {
	if !a.reconciler.Ready() {
		c.JSON(
			http.StatusServiceUnavailable,
			gin.H{"status": "starting"},
		)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Ready       bool              `json:"ready"`
	Dispatchers []DispatcherStats `json:"dispatchers"`
	Deliveries  map[string]int64  `json:"deliveries"`
}

func (a *API) status(c *gin.Context) {
	resp := statusResponse{
		Ready:      a.reconciler.Ready(),
		Deliveries: map[string]int64{},
	}
	for _, d := range a.dispatchers {
		resp.Dispatchers = append(resp.Dispatchers, d.Stats())
	}

	type kindCount struct {
		Kind  ItemKind
		Count int64
	}
	var counts []kindCount
	err := a.db.DB().WithContext(c.Request.Context()).
		Model(&Delivery{}).
		Select("kind, COUNT(*) AS count").
		Group("kind").
		Scan(&counts).Error
	if err != nil {
		a.logger.Error("error counting deliveries", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	for _, kc := range counts {
		resp.Deliveries[string(kc.Kind)] = kc.Count
	}
	c.JSON(http.StatusOK, resp)
}

// Serve runs the HTTP server until the context is canceled, then shuts
// it down gracefully.
func (a *API) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("status API listening", "addr", a.config.Listen)
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	}
}
