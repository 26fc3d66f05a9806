// Package rest exposes pool operations over HTTP.
package rest

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/ledgerpool/core/pool"
)

// Server serves one pool. Requests to / and /full read the DOMAIN ledger at
// consecutive sequence numbers counted by this server.
type Server struct {
	Echo *echo.Echo
	pool pool.Pool
	seq  atomic.Int64
}

// New creates the server and registers its routes.
func New(p pool.Pool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 2 * p.Config().RequestTimeout

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339_nano} method=${method} uri=${uri} status=${status} latency=${latency_human} error={${error}}\n",
		Output: log.StandardLogger().Writer(),
	}))
	e.Use(middleware.Recover())

	s := &Server{Echo: e, pool: p}

	e.GET("/", s.GetTxn)
	e.GET("/full", s.GetTxnFull)
	e.GET("/status", s.Status)
	e.GET("/genesis", s.Genesis)
	e.GET("/taa", s.TAA)
	e.GET("/aml", s.AML)
	e.POST("/submit", s.Submit)
	e.GET("/submit", func(c echo.Context) error { return c.NoContent(http.StatusMethodNotAllowed) })

	// prometheus metric
	e.GET("/metrics", Metrics)

	return s
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Infof("listening on http://%s", addr)
	err := s.Echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Serve serves on an already bound listener.
func (s *Server) Serve(l net.Listener) error {
	s.Echo.Listener = l
	log.Infof("listening on http://%s", l.Addr())
	err := s.Echo.Start("")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) nextSeqNo() int {
	return int(s.seq.Add(1))
}
