// Package server provides the SCPI-over-TCP session layer: a line-oriented
// listener on the instrument port with a bounded number of concurrent
// sessions.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/homelab-rf/rfpm/pkg/config"
	"github.com/homelab-rf/rfpm/pkg/monitor"
	"github.com/homelab-rf/rfpm/pkg/scpi"
)

// maxLineLen bounds one command line; longer input drops the session.
const maxLineLen = 1024

// Server accepts SCPI sessions and feeds complete lines to the dispatcher.
type Server struct {
	log        *logrus.Logger
	dispatcher *scpi.Dispatcher
	addr       string
	slots      chan struct{}

	mu       sync.Mutex
	listener net.Listener
	sessions sync.WaitGroup
}

// New creates a server bound to the configured port. Sessions beyond the
// connection limit are refused at accept time.
func New(cfg config.NetworkConfig, d *scpi.Dispatcher, log *logrus.Logger) *Server {
	limit := cfg.MaxConnections
	if limit < 1 {
		limit = 1
	}
	return &Server{
		log:        log,
		dispatcher: d,
		addr:       fmt.Sprintf(":%d", cfg.Port),
		slots:      make(chan struct{}, limit),
	}
}

// Addr returns the bound listen address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve listens and handles sessions until the context is cancelled or the
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("SCPI server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.sessions.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case s.slots <- struct{}{}:
		default:
			s.log.WithField("remote", conn.RemoteAddr().String()).
				Warn("connection limit reached, refusing session")
			conn.Close()
			continue
		}

		monitor.TotalConnections.Inc()
		monitor.ActiveConnections.Inc()
		s.sessions.Add(1)
		go func() {
			defer func() {
				<-s.slots
				monitor.ActiveConnections.Dec()
				s.sessions.Done()
			}()
			s.session(ctx, conn)
		}()
	}
}

// session runs one client connection: read a line, dispatch, reply.
// Cancelling the context closes the connection so an idle client cannot
// hold up shutdown.
func (s *Server) session(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Info("session opened")
	defer log.Info("session closed")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLineLen), maxLineLen)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply, ok := s.dispatcher.ExecuteLine(line)
		if !ok {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			log.WithError(err).Warn("write failed")
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("session read failed")
	}
}
