// TCP stream listener: clients complete a hello exchange, then receive
// every bus frame as timestamped records and may send records of their
// own, which are written to the bus through the TxQueue.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
	"github.com/canops/go-pcan-gateway/internal/wire"
)

// Sentinel errors for classification via errors.Is.
var (
	ErrListen    = errors.New("stream listen")
	ErrAccept    = errors.New("stream accept")
	ErrHandshake = errors.New("stream handshake")
	ErrConnRead  = errors.New("stream conn read")
	ErrConnWrite = errors.New("stream conn write")
)

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 64
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
)

// SendFunc forwards a client frame to the bus (usually TxQueue.SendFrame).
type SendFunc func(wire.Record) error

// Server owns the stream listener and client lifecycle.
type Server struct {
	mu    sync.RWMutex
	addr  string
	hub   *Hub
	codec wire.Codec
	send  SendFunc

	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int

	readyOnce sync.Once
	readyCh   chan struct{}
	listener  net.Listener
	clientsMu sync.Mutex
	conns     map[*Client]net.Conn
	wg        sync.WaitGroup
	logger    *slog.Logger
	nextConn  atomic.Uint64
}

type Option func(*Server)

func NewServer(opts ...Option) *Server {
	s := &Server{
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		conns:            make(map[*Client]net.Conn),
		logger:           logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	return s
}

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }
func WithHub(h *Hub) Option          { return func(s *Server) { s.hub = h } }
func WithSend(fn SendFunc) Option    { return func(s *Server) { s.send = fn } }

func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Addr returns the bound listen address once Serve is running.
func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Serve accepts stream clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	addr := s.addr
	s.mu.RUnlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("stream_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(200 * time.Millisecond)
				continue
			}
			return fmt.Errorf("%w: %v", ErrAccept, err)
		}
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connID := s.nextConn.Add(1)
	logger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	if err := wire.Handshake(ctx, conn, s.handshakeTimeout); err != nil {
		logger.Warn("handshake_failed", "error", fmt.Errorf("%w: %v", ErrHandshake, err))
		_ = conn.Close()
		return
	}
	if s.maxClients > 0 && s.hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		logger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return
	}
	bufSize := s.hub.OutBufSize
	if bufSize <= 0 {
		bufSize = 512
	}
	cl := &Client{Out: make(chan wire.Record, bufSize), Closed: make(chan struct{})}
	s.hub.Add(cl)
	s.clientsMu.Lock()
	s.conns[cl] = conn
	s.clientsMu.Unlock()
	logger.Info("client_connected")
	s.startWriter(ctx.Done(), conn, cl, logger)
	s.startReader(ctx.Done(), conn, cl, logger)
}

// startWriter pushes hub records to one client, batched on a flush tick.
func (s *Server) startWriter(done <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.hub.Remove(cl)
			s.clientsMu.Lock()
			delete(s.conns, cl)
			s.clientsMu.Unlock()
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]wire.Record, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			_, err := s.codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConnWrite, err)
			}
			metrics.AddStreamTx(n)
			return nil
		}
		for {
			select {
			case rec := <-cl.Out:
				batch = append(batch, rec)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-done:
				_ = flush()
				return
			}
		}
	}()
}

// startReader decodes client records and forwards them to the bus.
func (s *Server) startReader(done <-chan struct{}, conn net.Conn, cl *Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close(); cl.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.codec.DecodeN(conn, 16, func(rec wire.Record) {
				metrics.IncStreamRx()
				if s.send == nil {
					return
				}
				if err := s.send(rec); err != nil {
					logger.Warn("client_frame_rejected", "error", err, "can_id", fmt.Sprintf("0x%X", rec.Frame.ID))
				}
			})
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				logger.Warn("client_read_error", "error", fmt.Errorf("%w: %v", ErrConnRead, err))
				return
			}
			select {
			case <-done:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}

// Shutdown closes the listener and all client connections, then waits
// for the per-connection goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for cl, conn := range s.conns {
		_ = conn.Close()
		s.hub.Remove(cl)
		delete(s.conns, cl)
	}
	s.clientsMu.Unlock()
	doneCh := make(chan struct{})
	go func() { s.wg.Wait(); close(doneCh) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("stream shutdown: %w", ctx.Err())
	case <-doneCh:
		return nil
	}
}
