package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ErrStopTimeout is returned by Stop when the serve loop did not finish in time
var ErrStopTimeout = errors.New("server stop timed out")

// Session handles the messages of one connection
type Session interface {
	ID() string
	HandleMessage(ctx context.Context, msg []byte) []byte
	Close()
}

// SessionFactory creates the session for a newly accepted connection
type SessionFactory func() Session

// Server owns the IPC endpoint. It serves one client at a time; a new
// connection is only accepted once the previous one has gone away.
type Server struct {
	cfg        config.ServerConfig
	newSession SessionFactory
	newConn    func(network string, conn net.Conn, maxSize int) (messageConn, error)
	logger     *logrus.Logger

	mu      sync.Mutex
	running bool
	current *run
	active  messageConn
}

// run is the state of one Start/Stop cycle
type run struct {
	listener *net.UnixListener
	quit     chan struct{}
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

func (r *run) stopping() bool {
	select {
	case <-r.quit:
		return true
	default:
		return false
	}
}

// NewServer creates a server; call Start to begin accepting
func NewServer(cfg config.ServerConfig, newSession SessionFactory, logger *logrus.Logger) *Server {
	return &Server{
		cfg:        cfg,
		newSession: newSession,
		newConn:    newMessageConn,
		logger:     logger,
	}
}

// Start binds the socket and starts the accept loop. Calling Start on a
// running server does nothing.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// Remove a stale socket left by a previous run
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.ListenUnix(s.cfg.Network, &net.UnixAddr{Name: s.cfg.SocketPath, Net: s.cfg.Network})
	if err != nil {
		return fmt.Errorf("failed to create %s socket: %w", s.cfg.Network, err)
	}

	if err := os.Chmod(s.cfg.SocketPath, 0660); err != nil {
		s.logger.Warnf("Failed to set socket permissions: %v", err)
	}

	r := &run{
		listener: listener,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	s.current = r
	s.running = true

	s.logger.Infof("Listening on %s (%s)", s.cfg.SocketPath, s.cfg.Network)
	go s.acceptLoop(r)

	return nil
}

// Stop closes the listener, gives an in-flight request the grace period to
// finish, then force-closes the connection and waits up to the stop timeout
// for the accept loop to exit. Calling Stop on a stopped server does nothing.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	r := s.current
	close(r.quit)
	if s.active != nil {
		// Wakes an idle read; a request being processed still gets answered
		_ = s.active.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Errorf("Failed to close listener: %v", err)
	}
	defer r.cancel()

	select {
	case <-r.done:
		s.logger.Info("Server stopped")
		return nil
	case <-time.After(s.cfg.GracePeriod()):
	}

	s.logger.Warn("Connection still busy after grace period, forcing close")
	r.cancel()
	s.mu.Lock()
	if s.active != nil {
		_ = s.active.Close()
	}
	s.mu.Unlock()

	select {
	case <-r.done:
		s.logger.Info("Server stopped")
		return nil
	case <-time.After(s.cfg.StopTimeout()):
		return fmt.Errorf("%w: serve loop did not exit within %s", ErrStopTimeout, s.cfg.StopTimeout())
	}
}

// Addr returns the socket path
func (s *Server) Addr() string {
	return s.cfg.SocketPath
}

// backoff waits before the next accept. It returns false when the server is
// stopping.
func (s *Server) backoff(r *run) bool {
	select {
	case <-r.quit:
		return false
	case <-time.After(s.cfg.RetryBackoff()):
		return true
	}
}

func (s *Server) setActive(conn messageConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = conn
	if conn != nil && !s.running {
		_ = conn.SetReadDeadline(time.Now())
	}
}

func (s *Server) acceptLoop(r *run) {
	defer close(r.done)

	for {
		s.logger.Debug("Waiting for client connection...")
		conn, err := r.listener.AcceptUnix()
		if err != nil {
			if r.stopping() {
				return
			}
			s.logger.Errorf("Accept error: %v", err)
			if !s.backoff(r) {
				return
			}
			continue
		}

		if !s.serve(r, conn) {
			if !s.backoff(r) {
				return
			}
		}
		if r.stopping() {
			return
		}
	}
}

// serve runs the read/dispatch/write loop for one connection. It returns
// false after a transport error other than a disconnect.
func (s *Server) serve(r *run, conn *net.UnixConn) bool {
	mc, err := s.newConn(s.cfg.Network, conn, s.cfg.MaxMessageSize)
	if err != nil {
		s.logger.Errorf("Failed to set up connection: %v", err)
		_ = conn.Close()
		return false
	}

	s.setActive(mc)
	defer func() {
		s.setActive(nil)
		_ = mc.Close()
	}()

	session := s.newSession()
	defer session.Close()

	log := s.logger.WithField("session_id", session.ID())
	log.Info("Client connected")

	for {
		msg, err := mc.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, ErrMessageTooLarge):
				log.Warnf("Dropped message larger than %d bytes", s.cfg.MaxMessageSize)
				msg = nil
			case r.stopping():
				log.Debug("Closing connection for shutdown")
				return true
			case isDisconnect(err):
				log.Debug("Client disconnected")
				return true
			default:
				log.Errorf("Read error: %v", err)
				return false
			}
		}

		var resp []byte
		if msg == nil {
			resp = tooLargeResponse(s.cfg.MaxMessageSize)
		} else {
			resp = session.HandleMessage(r.ctx, msg)
		}

		if err := mc.WriteMessage(resp); err != nil {
			if isDisconnect(err) || r.stopping() {
				log.Debug("Client disconnected")
				return true
			}
			log.Errorf("Write error: %v", err)
			return false
		}

		if r.stopping() {
			log.Debug("Closing connection for shutdown")
			return true
		}
	}
}

func tooLargeResponse(maxSize int) []byte {
	resp, _ := protocol.EncodeResponse(protocol.Failure("Message exceeds maximum size of %d bytes", maxSize))
	return resp
}
