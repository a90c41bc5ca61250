package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/config"
	"github.com/eternalApril/lunakv/internal/metrics"
)

// Server accepts TCP clients and runs one Session per connection
type Server struct {
	addr    string
	opts    SessionOptions
	engine  *Engine
	metrics *metrics.Metrics
	logger  *zap.Logger

	ctx     context.Context // cancelled on Shutdown, parent of every session
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	peers    map[*Peer]struct{}
}

func New(cfg *config.Config, engine *Engine, m *metrics.Metrics, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		opts: SessionOptions{
			IdleTimeout: cfg.Server.IdleTimeout,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
			OutboxSize:  cfg.PubSub.OutboxSize,
		},
		engine:  engine,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[*Peer]struct{}),
	}
	s.running.Store(true)
	return s
}

// ListenAndServe listens on the configured address and blocks in Serve
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening on", zap.String("address", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Accept error", zap.Error(err))

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		peer := NewPeer(conn)
		if !s.track(peer) {
			peer.Close() //nolint:errcheck
			return nil
		}

		go func() {
			defer s.wg.Done()
			s.handleConnection(peer)
		}()
	}
}

// Addr returns the listening address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConnection handles a connection for a single user
func (s *Server) handleConnection(peer *Peer) {
	s.metrics.ConnOpened()
	session := NewSession(peer, s.engine, s.opts, s.logger)

	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("client connected",
			zap.String("addr", peer.RemoteAddr()),
			zap.String("session", session.ID()),
		)
	}

	defer func() {
		peer.Close() //nolint:errcheck
		s.untrack(peer)
		s.metrics.ConnClosed()
		// log connection close
		if s.logger.Core().Enabled(zap.DebugLevel) {
			s.logger.Debug("client disconnected", zap.String("session", session.ID()))
		}
	}()

	if err := session.Serve(s.ctx); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("session ended with error", zap.String("session", session.ID()), zap.Error(err))
	}
}

// track registers p and counts it in wg under the same lock Shutdown takes before
// waiting, so no connection is added once the wait has started
func (s *Server) track(p *Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.wg.Add(1)
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) untrack(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
}

// Shutdown stops accepting, lets every session finish its current command and waits
// for them. When ctx expires first the remaining connections are closed forcibly
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running.Store(false)
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	// wake up sessions blocked in a read
	for p := range s.peers {
		p.SetReadDeadline(time.Now()) //nolint:errcheck
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
	case <-ctx.Done():
		s.mu.Lock()
		for p := range s.peers {
			p.Close() //nolint:errcheck
		}
		s.mu.Unlock()
		return ctx.Err()
	}

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
