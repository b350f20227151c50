// internal/bridge/server.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
	"github.com/albireox/lvm-spec-pressure/internal/protocol"
)

const (
	// ReadChunkSize is the largest client request read in one call
	ReadChunkSize = 1024

	// DefaultHost binds all interfaces
	DefaultHost = "0.0.0.0"

	acceptRetryDelay = 50 * time.Millisecond
)

var (
	// ErrAlreadyStarted is returned by Start on a running server
	ErrAlreadyStarted = errors.New("bridge server already started")
	// ErrStopped is returned by Start after Stop
	ErrStopped = errors.New("bridge server stopped")
)

// Config describes one bridge server
type Config struct {
	Camera    string
	Host      string
	Port      int
	Timeout   time.Duration
	Delimiter []byte
}

// EventPublisher receives bridge events
type EventPublisher interface {
	Publish(event model.BridgeEvent)
}

type client struct {
	info         model.ClientInfo
	transactions atomic.Int64
}

// Server accepts TCP clients for one device and serializes their requests
// onto a single link. The mutex is held for a whole request, serial
// exchange, and reply cycle, so at most one transaction is in flight.
type Server struct {
	config Config
	link   protocol.Transactor
	logger *zap.Logger
	events EventPublisher

	mutex     sync.Mutex
	lockLeaks atomic.Int64

	listenerMutex sync.Mutex
	listener      net.Listener
	done          chan struct{}
	stopped       bool

	clients  *xsync.MapOf[string, *client]
	accepted atomic.Int64
}

// NewServer creates a bridge server. events may be nil.
func NewServer(config Config, link protocol.Transactor, logger *zap.Logger, events EventPublisher) *Server {
	if config.Host == "" {
		config.Host = DefaultHost
	}
	if config.Timeout <= 0 {
		config.Timeout = protocol.DefaultReplyTimeout
	}

	return &Server{
		config: config,
		link:   link,
		logger: logger.With(
			zap.String("component", "bridge"),
			zap.String("camera", config.Camera),
		),
		events:  events,
		clients: xsync.NewMapOf[string, *client](),
	}
}

// Start binds the listener and begins accepting clients in the background
func (s *Server) Start(ctx context.Context) error {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.listener != nil {
		return ErrAlreadyStarted
	}

	address := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		s.logger.Error("Failed to listen", zap.String("address", address), zap.Error(err))
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.listener = listener
	s.done = make(chan struct{})

	// handlers outlive a cancelled start context
	go s.acceptLoop(context.WithoutCancel(ctx), listener, s.done)

	s.logger.Info("Bridge server listening", zap.String("address", listener.Addr().String()))
	s.publish(model.NewBridgeEvent(model.EventBridgeStarted, s.config.Camera, map[string]interface{}{
		"address": listener.Addr().String(),
	}))

	return nil
}

// Stop closes the listener and waits for the accept loop to exit. Clients
// already connected are left to finish on their own. Stop may be called
// more than once.
func (s *Server) Stop() error {
	s.listenerMutex.Lock()
	if s.stopped {
		s.listenerMutex.Unlock()
		return nil
	}
	s.stopped = true
	listener, done := s.listener, s.done
	s.listenerMutex.Unlock()

	if listener == nil {
		return nil
	}

	err := listener.Close()
	<-done

	s.logger.Info("Bridge server stopped")
	s.publish(model.NewBridgeEvent(model.EventBridgeStopped, s.config.Camera, nil))

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.listenerMutex.Lock()
	defer s.listenerMutex.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Camera returns the camera this server bridges
func (s *Server) Camera() string {
	return s.config.Camera
}

// Status returns a snapshot of the server and its link
func (s *Server) Status() model.BridgeStatus {
	status := model.BridgeStatus{
		Camera:          s.config.Camera,
		Port:            s.config.Port,
		State:           model.BridgeStateIdle,
		Timeout:         s.config.Timeout,
		Delimiter:       string(s.config.Delimiter),
		AcceptedClients: s.accepted.Load(),
		ActiveClients:   []model.ClientInfo{},
	}

	s.listenerMutex.Lock()
	switch {
	case s.stopped:
		status.State = model.BridgeStateStopped
	case s.listener != nil:
		status.State = model.BridgeStateListening
		status.Address = s.listener.Addr().String()
	}
	s.listenerMutex.Unlock()

	s.clients.Range(func(_ string, c *client) bool {
		info := c.info
		info.Transactions = c.transactions.Load()
		status.ActiveClients = append(status.ActiveClients, info)
		return true
	})
	sort.Slice(status.ActiveClients, func(i, j int) bool {
		return status.ActiveClients[i].ConnectedAt.Before(status.ActiveClients[j].ConnectedAt)
	})

	if provider, ok := s.link.(protocol.StatsProvider); ok {
		stats := provider.Stats()
		status.Link = &stats
	}
	if identified, ok := s.link.(interface{ Identity() model.DeviceIdentity }); ok {
		identity := identified.Identity()
		status.Device = &identity
	}

	return status
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, done chan struct{}) {
	defer close(done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				s.logger.Error("Failed to accept connection", zap.Error(err))
			}
			time.Sleep(acceptRetryDelay)
			continue
		}

		s.accepted.Add(1)
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves one client until it disconnects or an error occurs.
// Nothing that goes wrong here reaches the listener or other clients.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := &client{
		info: model.ClientInfo{
			ID:          uuid.NewString(),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}
	s.clients.Store(c.info.ID, c)

	logger := s.logger.With(
		zap.String("client_id", c.info.ID),
		zap.String("remote_addr", c.info.RemoteAddr),
	)
	logger.Info("New connection")
	s.publishClient(model.EventClientConnected, c, nil)

	var holdingLock bool

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while serving client",
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
			s.publishClient(model.EventTransactionFailed, c, map[string]interface{}{
				"error": fmt.Sprint("panic: ", r),
			})
		}

		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("Failed closing client connection", zap.Error(err))
		}

		if holdingLock {
			s.lockLeaks.Add(1)
			s.mutex.Unlock()
			logger.Warn("Exclusion lock still held at handler exit, released")
		}

		s.clients.Delete(c.info.ID)
		s.publishClient(model.EventClientDisconnected, c, nil)
		logger.Info("Connection closed", zap.Int64("transactions", c.transactions.Load()))
	}()

	buf := make([]byte, ReadChunkSize)
	for {
		n, err := conn.Read(buf)
		if n == 0 || err != nil {
			switch {
			case err == nil, errors.Is(err, io.EOF):
				logger.Info("At EOF. Closing")
			case isConnReset(err):
				logger.Debug("Connection reset by peer", zap.Error(err))
			default:
				logger.Error("Failed reading from client", zap.Error(err))
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		logger.Info("Received from client", zap.ByteString("data", data))

		if err := s.exchange(ctx, conn, data, &holdingLock, logger); err != nil {
			if isConnReset(err) {
				logger.Debug("Connection reset by peer", zap.Error(err))
			} else {
				logger.Error("Error found", zap.Error(err))
			}
			s.publishClient(model.EventTransactionFailed, c, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		c.transactions.Add(1)
	}
}

// exchange runs one request through the link and writes any reply back,
// holding the exclusion lock for the whole cycle
func (s *Server) exchange(ctx context.Context, conn net.Conn, data []byte, holding *bool, logger *zap.Logger) error {
	s.mutex.Lock()
	*holding = true
	defer func() {
		*holding = false
		s.mutex.Unlock()
	}()

	startTime := time.Now()
	reply, err := s.link.Transact(ctx, data, s.config.Timeout, s.config.Delimiter)
	if err != nil {
		return fmt.Errorf("serial transaction failed: %w", err)
	}

	if len(reply) > 0 {
		logger.Info("Sending to client", zap.ByteString("reply", reply))
		if _, err := conn.Write(reply); err != nil {
			return fmt.Errorf("failed to write reply to client: %w", err)
		}
	}

	s.publish(model.NewBridgeEvent(model.EventTransaction, s.config.Camera, map[string]interface{}{
		"bytes_sent":     len(data),
		"bytes_received": len(reply),
		"duration_ms":    time.Since(startTime).Milliseconds(),
	}))

	return nil
}

func (s *Server) publish(event model.BridgeEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

func (s *Server) publishClient(eventType model.EventType, c *client, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["remote_addr"] = c.info.RemoteAddr

	event := model.NewBridgeEvent(eventType, s.config.Camera, data)
	event.ClientID = c.info.ID
	s.publish(event)
}

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
