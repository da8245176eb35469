// Package api is the HTTP ingress: publish notifications and look up publish reports.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"weappnotify/internal/notifier"
	logx "weappnotify/pkg/logx"
)

// ReportReader looks up stored reports. ok=false means unknown id.
type ReportReader interface {
	GetReport(ctx context.Context, id string) (r notifier.Report, ok bool, err error)
}

type Config struct {
	Addr           string
	JWTSecret      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PublishTimeout time.Duration
}

type Server struct {
	cfg       Config
	router    *gin.Engine
	publisher notifier.Provider
	reports   ReportReader
	log       logx.Logger
}

// New builds the router. reports may be nil (lookup answers 501).
func New(cfg Config, publisher notifier.Provider, reports ReportReader, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 30 * time.Second
	}

	router := gin.New()
	router.Use(Recovery(log), RequestLog(log))

	s := &Server{cfg: cfg, router: router, publisher: publisher, reports: reports, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": s.publisher.Name()})
	})

	api := s.router.Group("/api/v1")
	if s.cfg.JWTSecret != "" {
		api.Use(JWTAuth(s.cfg.JWTSecret))
	}
	{
		api.POST("/notifications/publish", s.handlePublish())
		api.GET("/publishes/:id", s.handleGetReport())
	}
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.Bool("auth", s.cfg.JWTSecret != ""))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
	<-errCh
	return nil
}

type publishRequest struct {
	Name     string         `json:"name" binding:"required"`
	TenantID string         `json:"tenant_id"`
	Data     map[string]any `json:"data"`
	// Recipients distinguishes absent/null (all subscribers) from [] (nobody).
	Recipients []notifier.Recipient `json:"recipients"`
}

type publishResponse struct {
	ID       string             `json:"id"`
	Counts   notifier.Counts    `json:"counts"`
	Outcomes []notifier.Outcome `json:"outcomes"`
	Error    string             `json:"error,omitempty"`
}

func toResponse(rep notifier.Report, err error) publishResponse {
	out := publishResponse{ID: rep.ID, Counts: rep.Counts(), Outcomes: rep.Outcomes}
	if out.Outcomes == nil {
		out.Outcomes = []notifier.Outcome{}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.PublishTimeout)
		defer cancel()

		n := notifier.Notification{Name: req.Name, TenantID: req.TenantID, Data: req.Data}
		rep, err := s.publisher.Publish(ctx, n, req.Recipients)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, toResponse(rep, nil))
		case errors.Is(err, notifier.ErrResolution):
			s.log.Warn("publish rejected", logx.String("notification", req.Name), logx.Err(err))
			c.JSON(http.StatusBadGateway, toResponse(rep, err))
		case errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusGatewayTimeout, toResponse(rep, err))
		default:
			// Client went away; the partial report is still recorded.
			c.JSON(http.StatusServiceUnavailable, toResponse(rep, err))
		}
	}
}

func (s *Server) handleGetReport() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.reports == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "report storage disabled"})
			return
		}
		id := c.Param("id")
		rep, ok, err := s.reports.GetReport(c.Request.Context(), id)
		if err != nil {
			s.log.Warn("report lookup failed", logx.String("id", id), logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "report lookup failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":           rep.ID,
			"provider":     rep.Provider,
			"notification": rep.Notification,
			"tenant_id":    rep.TenantID,
			"started_at":   rep.StartedAt,
			"finished_at":  rep.FinishedAt,
			"counts":       rep.Counts(),
			"outcomes":     rep.Outcomes,
		})
	}
}
