package redkv

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/l00pss/redkv/resp"
	"github.com/l00pss/redkv/store"
)

// Server is a RESP-speaking TCP server backed by a store.Store.
type Server struct {
	Address   string
	TLSConfig *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxConnections int
	Limits         resp.Limits

	Logger        zerolog.Logger
	ConnStateHook func(net.Conn, ConnState)

	Store *store.Store
	Chain *MiddlewareChain

	handlers map[string]CommandHandler

	listener    net.Listener
	activeConns map[*Connection]struct{}
	connCount   atomic.Int64
	inShutdown  atomic.Bool
	mu          sync.RWMutex
	onShutdown  []func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewServer builds a server bound to address, serving commands against st.
func NewServer(address string, st *store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		Address:        address,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxConnections: 1000,
		Limits:         resp.DefaultLimits,
		Logger:         zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger(),
		Store:          st,
		Chain:          NewMiddlewareChain(),
		handlers:       make(map[string]CommandHandler),
		activeConns:    make(map[*Connection]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}

	s.registerDefaultHandlers()
	s.Use(LoggingMiddleware())
	s.Use(MetricsMiddleware())
	s.startIdleChecker()

	return s
}

// RunSweeper starts the store's active expiration sweeper on its own
// goroutine, wired to this server's metrics, and returns a function that
// stops it. Call it once after NewServer; the CLI entrypoint is the
// usual caller.
func (s *Server) RunSweeper(opts store.SweeperOptions) (stop func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	go store.RunSweeper(ctx, s.Store, opts, func(removed int) {
		if removed > 0 {
			keysExpiredTotal.WithLabelValues("active").Add(float64(removed))
		}
		storeSize.Set(float64(s.Store.Len()))
	})
	return cancel
}

// Use appends mw to the middleware chain wrapping every command.
func (s *Server) Use(mw Middleware) {
	s.Chain.Add(mw)
}

// UseFunc is the function-literal form of Use.
func (s *Server) UseFunc(fn func(conn *Connection, cmd *Command, next CommandHandler) Frame) {
	s.Use(MiddlewareFunc(fn))
}

// RegisterCommand installs or replaces the handler for name (case-insensitive).
func (s *Server) RegisterCommand(name string, handler CommandHandler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("redkv: empty command name or nil handler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToUpper(name)] = handler
	return nil
}

// RegisterCommandFunc is the function-literal form of RegisterCommand.
func (s *Server) RegisterCommandFunc(name string, fn func(*Connection, *Command) Frame) error {
	return s.RegisterCommand(name, CommandHandlerFunc(fn))
}

// Listen binds the configured address without accepting connections yet.
func (s *Server) Listen() error {
	var err error
	if s.TLSConfig != nil {
		s.listener, err = tls.Listen("tcp", s.Address, s.TLSConfig)
	} else {
		s.listener, err = net.Listen("tcp", s.Address)
	}
	if err != nil {
		return fmt.Errorf("redkv: listen on %s: %w", s.Address, err)
	}
	s.Logger.Info().Str("addr", s.Address).Msg("listening")
	return nil
}

// Serve accepts connections until Shutdown is called. It returns an error
// only when binding the listener fails; any other Accept error is logged
// and accepting continues.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.listener.Close()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return nil
			}
			s.Logger.Error().Err(err).Msg("accept error")
			continue
		}

		s.wg.Add(1)
		go func(netConn net.Conn) {
			defer s.wg.Done()

			count := s.connCount.Add(1)
			if s.MaxConnections > 0 && count > int64(s.MaxConnections) {
				s.connCount.Add(-1)
				netConn.Close()
				s.Logger.Warn().Str("remote", netConn.RemoteAddr().String()).Msg("connection limit reached")
				return
			}

			s.handleConnection(netConn)
			s.connCount.Add(-1)
		}(conn)
	}
}

// Shutdown stops accepting connections, closes all active ones, and waits
// for their goroutines to exit or ctx to expire, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}

	s.mu.RLock()
	for conn := range s.activeConns {
		conn.Close()
	}
	s.mu.RUnlock()

	s.mu.Lock()
	for _, fn := range s.onShutdown {
		fn()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// OnShutdown registers a cleanup function run during graceful shutdown.
func (s *Server) OnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

// ActiveConnections reports the current number of accepted connections.
func (s *Server) ActiveConnections() int64 {
	return s.connCount.Load()
}

func (s *Server) handleConnection(netConn net.Conn) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	conn := newConnection(netConn, s, ctx, cancel)

	s.mu.Lock()
	s.activeConns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.activeConns, conn)
		s.mu.Unlock()
	}()

	conn.setState(StateActive)
	connectionsActive.Inc()
	defer connectionsActive.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.ReadTimeout > 0 {
			if err := netConn.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
				return
			}
		}

		frame, err := conn.nextFrame(s.Limits)
		if err != nil {
			if err == errMalformedFrame {
				conn.writeFrame(errf("ERR Protocol error: malformed RESP input"))
				conn.flush()
			} else if err != io.EOF {
				s.Logger.Debug().Err(err).Str("remote", netConn.RemoteAddr().String()).Msg("read error")
			}
			return
		}

		conn.touch()
		s.setConnectionActive(conn)

		cmd, err := commandFromFrame(frame)
		if err != nil {
			conn.writeFrame(errf("ERR Protocol error: %s", err.Error()))
			if s.WriteTimeout > 0 {
				netConn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
			}
			conn.flush()
			return
		}

		reply := s.dispatch(conn, &cmd)

		if s.WriteTimeout > 0 {
			if err := netConn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
				return
			}
		}
		if err := conn.writeFrame(reply); err != nil {
			return
		}
		if err := conn.flush(); err != nil {
			return
		}

		if cmd.Name == "QUIT" {
			return
		}
	}
}

func (s *Server) dispatch(conn *Connection, cmd *Command) (reply Frame) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error().Interface("panic", r).Str("command", cmd.Name).Msg("recovered panic in command handler")
			reply = errf("ERR internal error")
			// Cancelling the connection's context makes handleConnection
			// return right after this reply is flushed.
			if conn != nil {
				conn.cancel()
			}
		}
	}()

	s.mu.RLock()
	handler, ok := s.handlers[cmd.Name]
	s.mu.RUnlock()

	if !ok {
		return s.Chain.Execute(conn, cmd, CommandHandlerFunc(func(*Connection, *Command) Frame {
			return errf("ERR unknown command '%s'", cmd.Name)
		}))
	}

	return s.Chain.Execute(conn, cmd, handler)
}

func (s *Server) startIdleChecker() {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.checkIdleConnections()
			}
		}
	}()
}

func (s *Server) checkIdleConnections() {
	if s.IdleTimeout <= 0 {
		return
	}
	threshold := time.Now().Add(-s.IdleTimeout)

	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.activeConns))
	for c := range s.activeConns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if c.GetState() == StateActive && c.idleSince().Before(threshold) {
			c.setState(StateIdle)
		}
	}
}

func (s *Server) setConnectionActive(conn *Connection) {
	if conn.GetState() == StateIdle {
		conn.setState(StateActive)
	}
}
