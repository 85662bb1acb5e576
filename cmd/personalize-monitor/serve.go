package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/models"
)

var errPassRunning = errors.New("a monitoring pass is already running")

type passRunner interface {
	RunOnce(ctx context.Context) (*models.PassReport, error)
}

// server runs passes on a ticker and on demand, never two at a time
type server struct {
	runner  passRunner
	metrics http.Handler
	log     zerolog.Logger
	sentry  bool

	running sync.Mutex

	mu   sync.RWMutex
	last *models.PassReport
}

func newServer(runner passRunner, metrics http.Handler, log zerolog.Logger, withSentry bool) *server {
	return &server{
		runner:  runner,
		metrics: metrics,
		log:     log.With().Str("component", "server").Logger(),
		sentry:  withSentry,
	}
}

func (s *server) runPass(ctx context.Context) (*models.PassReport, error) {
	if !s.running.TryLock() {
		return nil, errPassRunning
	}
	defer s.running.Unlock()

	report, err := s.runner.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

func (s *server) lastPass() *models.PassReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if s.sentry {
		engine.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	engine.GET("/metrics", gin.WrapH(s.metrics))
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/run", s.handleRun)
	return engine
}

func (s *server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if last := s.lastPass(); last != nil {
		body["lastPass"] = gin.H{
			"id":         last.ID,
			"finishedAt": last.FinishedAt,
			"evaluated":  last.ResourcesEvaluated,
			"errors":     last.ErrorTotal(),
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *server) handleRun(c *gin.Context) {
	// the pass outlives a disconnecting client; PassTimeout still bounds it
	report, err := s.runPass(context.WithoutCancel(c.Request.Context()))
	switch {
	case errors.Is(err, errPassRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}

// Serve runs a pass immediately and then every interval until ctx is done
func (s *server) Serve(ctx context.Context, addr string, interval time.Duration) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Dur("interval", interval).Msg("serving")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	go s.schedule(ctx, interval)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *server) schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.runPass(ctx); err != nil {
			s.log.Warn().Err(err).Msg("scheduled pass did not run")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
