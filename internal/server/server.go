// Package server 暴露只读状态 API：健康、仓位、裁决留痕、市场状态。
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quorum/internal/gateway/exchange"
	"quorum/internal/logger"
	"quorum/internal/regime"
	"quorum/internal/store/decisionlog"
	"quorum/internal/tracker"

	"github.com/gin-gonic/gin"
)

type Server struct {
	addr   string
	router *gin.Engine
}

type Config struct {
	Addr     string
	Gateway  exchange.Gateway
	Tracker  *tracker.Tracker
	Detector *regime.Detector
	Logs     *decisionlog.Store
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9801"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ts": time.Now().Unix()})
	})

	router.GET("/regime", func(c *gin.Context) {
		if cfg.Detector == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detector unavailable"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		c.JSON(http.StatusOK, cfg.Detector.Current(ctx))
	})

	router.GET("/positions", func(c *gin.Context) {
		resp := gin.H{}
		if cfg.Gateway != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
			defer cancel()
			if live, err := cfg.Gateway.ListOpenPositions(ctx); err == nil {
				resp["live"] = live
			} else {
				resp["live_error"] = err.Error()
			}
		}
		if cfg.Tracker != nil {
			if open, err := cfg.Tracker.OpenTrades(); err == nil {
				resp["tracked"] = open
			}
			if closed, err := cfg.Tracker.RecentClosed(parseLimit(c, 20)); err == nil {
				resp["recent_closed"] = closed
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	router.GET("/decisions", func(c *gin.Context) {
		if cfg.Logs == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log unavailable"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		recs, err := cfg.Logs.RecentDecisions(ctx, c.Query("symbol"), parseLimit(c, 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": recs})
	})

	return &Server{addr: cfg.Addr, router: router}
}

func parseLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("状态 API 监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler 暴露路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }
