// Package ipcserver implements the non-blocking TCP fan-out server (C5):
// a single-threaded listener that accepts clients, buffers outbound
// broadcasts per client, and polls inbound commands — all without
// blocking the caller's goroutine (the scheduler's tick loop).
package ipcserver

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/ashleyhindle/fuel/internal/ipcproto"
	"github.com/google/uuid"
)

// maxBufferBytes is the per-client buffer ceiling (either direction)
// before the client is dropped, per spec §4.5.
const maxBufferBytes = 10 * 1024 * 1024

// maxFlushWritesPerClient bounds how many write syscalls one broadcast
// cycle will attempt per client, so a stalled client cannot starve the
// tick loop.
const maxFlushWritesPerClient = 10

// maxPollReadBytes bounds a single poll() read per client.
const maxPollReadBytes = 8 * 1024

// ErrPortInUse is returned by Start when the configured port is already
// bound by another process (spec: "port N is already in use").
type ErrPortInUse struct {
	Port int
	Err  error
}

func (e *ErrPortInUse) Error() string {
	return fmt.Sprintf("port %d is already in use: %v", e.Port, e.Err)
}

func (e *ErrPortInUse) Unwrap() error { return e.Err }

type client struct {
	id       string
	conn     net.Conn
	writeBuf bytes.Buffer
	readBuf  bytes.Buffer
}

// Server is the single-threaded, non-blocking IPC fan-out server.
type Server struct {
	mu        sync.Mutex
	logger    *slog.Logger
	bindAddr  string
	listener  net.Listener
	clients   map[string]*client
	closed    bool
}

// New returns a Server bound to bindAddr ("" defaults to loopback-only
// "127.0.0.1", per spec §9's open question resolution — remote binding
// requires the caller to pass an explicit non-loopback address after
// validating config.AllowRemote).
func New(bindAddr string, logger *slog.Logger) *Server {
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		bindAddr: bindAddr,
		logger:   logger,
		clients:  make(map[string]*client),
	}
}

// Start binds the listener. Idempotent: calling Start twice on an
// already-started server is a no-op.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.bindAddr, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if isAddrInUse(err) {
			return &ErrPortInUse{Port: port, Err: err}
		}
		return err
	}
	s.listener = ln
	s.closed = false
	s.logger.Info("ipc server started", "addr", addr)
	return nil
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Stop closes the listener and every connected client. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
		s.listener = nil
	}
	for id, c := range s.clients {
		_ = c.conn.Close()
		delete(s.clients, id)
	}
	return err
}

// Accept drains all pending inbound connections without blocking.
func (s *Server) Accept() []string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	tcpLn, ok := ln.(*net.TCPListener)
	var newIDs []string
	for {
		if ok {
			_ = tcpLn.SetDeadline(time.Now())
		}
		conn, err := ln.Accept()
		if err != nil {
			break
		}
		id := uuid.NewString()
		s.mu.Lock()
		s.clients[id] = &client{id: id, conn: conn}
		s.mu.Unlock()
		newIDs = append(newIDs, id)
		s.logger.Info("ipc client connected", "client_id", id)
	}
	return newIDs
}

// Broadcast enqueues msg to every connected client's write buffer and
// attempts one flush cycle per client.
func (s *Server) Broadcast(msg ipcproto.Message) error {
	encoded, err := ipcproto.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id, c := range s.clients {
		c.writeBuf.Write(encoded)
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flushClient(id)
	}
	return nil
}

// SendTo enqueues msg to a single client's write buffer and flushes it.
func (s *Server) SendTo(clientID string, msg ipcproto.Message) error {
	encoded, err := ipcproto.Encode(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	c, ok := s.clients[clientID]
	if ok {
		c.writeBuf.Write(encoded)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("ipc: unknown client %q", clientID)
	}
	s.flushClient(clientID)
	return nil
}

// flushClient attempts up to maxFlushWritesPerClient write syscalls,
// retaining any unwritten tail in the client's write buffer.
func (s *Server) flushClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	if c.writeBuf.Len() > maxBufferBytes {
		s.DisconnectSlowClient(id)
		return
	}

	for i := 0; i < maxFlushWritesPerClient && c.writeBuf.Len() > 0; i++ {
		_ = c.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := c.conn.Write(c.writeBuf.Bytes())
		if n > 0 {
			c.writeBuf.Next(n)
		}
		if err != nil {
			if isTimeout(err) {
				break // partial write retained, try again next cycle
			}
			s.DisconnectSlowClient(id)
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Poll reads up to maxPollReadBytes per client, extracts complete lines
// from each client's read buffer, and returns the decoded messages keyed
// by client id. It never blocks.
func (s *Server) Poll() map[string][]ipcproto.Message {
	s.mu.Lock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	out := make(map[string][]ipcproto.Message)
	for _, id := range ids {
		msgs := s.pollClient(id)
		if len(msgs) > 0 {
			out[id] = msgs
		}
	}
	return out
}

func (s *Server) pollClient(id string) []ipcproto.Message {
	s.mu.Lock()
	c, ok := s.clients[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	buf := make([]byte, maxPollReadBytes)
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.readBuf.Write(buf[:n])
	}
	if err != nil && !isTimeout(err) {
		// Connection closed or errored: disconnect and drop whatever was
		// buffered.
		s.DisconnectSlowClient(id)
		return nil
	}

	if c.readBuf.Len() > maxBufferBytes {
		s.DisconnectSlowClient(id)
		return nil
	}

	var messages []ipcproto.Message
	for {
		data := c.readBuf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSpace(data[:idx])
		c.readBuf.Next(idx + 1)
		if len(line) == 0 {
			continue // tolerate empty lines, per spec §4.4
		}
		messages = append(messages, ipcproto.Decode(id, line))
	}
	return messages
}

// DisconnectSlowClient closes the socket and drops its buffers.
func (s *Server) DisconnectSlowClient(id string) {
	s.mu.Lock()
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		s.logger.Info("ipc client disconnected", "client_id", id)
	}
}

// ClientIDs returns the currently connected client ids.
func (s *Server) ClientIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
