// Package server exposes the monitor over websocket and a small REST API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/export"
	"acctmonitor/internal/monitor"
	"acctmonitor/internal/protocol"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds the listener settings.
type Config struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	SendBuffer int           `mapstructure:"send_buffer"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	ExportDir  string        `mapstructure:"-"`
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves websocket subscribers, the REST queries and /metrics.
type Server struct {
	cfg    Config
	sys    *monitor.System
	engine *gin.Engine
	logger *zap.Logger
}

// New builds the HTTP handler. gatherer may be nil to use the default
// prometheus registry.
func New(cfg Config, sys *monitor.System, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 2 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:    cfg,
		sys:    sys,
		engine: gin.New(),
		logger: logger.With(zap.String("component", "server")),
	}
	s.engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	s.engine.Use(ginzap.RecoveryWithZap(logger, true))

	s.engine.GET("/ws", s.serveWS)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.GET("/health", s.health)
	api.GET("/stats", s.stats)
	api.GET("/snapshots", s.snapshots)
	api.GET("/snapshots/:login_id", s.snapshot)
	api.GET("/exposure", s.exposure)
	api.GET("/alerts", s.alerts)
	api.GET("/trades/:login_id", s.trades)
	api.POST("/export", s.export)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.sys.Subscribe(s.cfg.SendBuffer)
	cl := &client{
		srv:     s,
		conn:    conn,
		sub:     sub,
		replies: make(chan []byte, 16),
		logger:  s.logger.With(zap.String("client", sub.ID()), zap.String("remote", c.ClientIP())),
	}
	go cl.writePump()
	cl.readPump(c.Request.Context())
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     s.sys.State().String(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sys.Stats())
}

func (s *Server) snapshots(c *gin.Context) {
	c.JSON(http.StatusOK, s.sys.AllSnapshots())
}

func loginParam(c *gin.Context) (account.ID, bool) {
	v, err := strconv.ParseInt(c.Param("login_id"), 10, 64)
	if err != nil || !account.ID(v).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid login_id", "field": "login_id"})
		return 0, false
	}
	return account.ID(v), true
}

func (s *Server) snapshot(c *gin.Context) {
	id, ok := loginParam(c)
	if !ok {
		return
	}
	v, ok := s.sys.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for account", "login_id": id})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) exposure(c *gin.Context) {
	symbol := protocol.NormalizeSymbol(c.Query("symbol"))
	resp := gin.H{"exposure": s.sys.Exposure(symbol)}
	if symbol != "" {
		resp["symbol"] = symbol
		resp["positions_by_symbol"] = s.sys.PositionsBySymbol(symbol)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alerts":     s.sys.Alerts(),
		"thresholds": s.sys.Thresholds(),
	})
}

func (s *Server) trades(c *gin.Context) {
	id, ok := loginParam(c)
	if !ok {
		return
	}
	if c.Query("refresh") != "true" {
		if t, ok := s.sys.Trades(id); ok && t.Summary.LastUpdated != nil {
			c.JSON(http.StatusOK, t)
			return
		}
	}
	t, err := s.sys.RefreshTrades(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type exportRequest struct {
	Path string `json:"path"`
}

func (s *Server) export(c *gin.Context) {
	var req exportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	doc := export.Collect(s.sys)
	path := export.DefaultPath(s.cfg.ExportDir, doc.Timestamp)
	if req.Path != "" {
		path = filepath.Join(s.cfg.ExportDir, filepath.Base(req.Path))
	}
	if err := export.Write(doc, path); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("state exported", zap.String("path", path), zap.Int("accounts", len(doc.Accounts)))
	c.JSON(http.StatusOK, gin.H{"path": path, "accounts": len(doc.Accounts), "timestamp": doc.Timestamp})
}

func (s *Server) writeError(c *gin.Context, err error) {
	var ve *account.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": ve.Field})
	case errors.Is(err, account.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}
