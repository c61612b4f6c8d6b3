package daemon

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/boshu2/agentctl/internal/wire"
)

// Server owns the unix-socket listener and the per-connection framing
// loop described in spec §4.15. Daemon holds the domain state; Server
// holds the network plumbing, so a Daemon can be driven directly by
// tests without ever binding a socket.
type Server struct {
	d        *Daemon
	socket   string
	pidFile  string
	listener net.Listener

	wg sync.WaitGroup
}

// NewServer returns a Server bound to <hub>/hub.sock.
func NewServer(d *Daemon) *Server {
	return &Server{
		d:       d,
		socket:  filepath.Join(d.Config.HubDir, "hub.sock"),
		pidFile: filepath.Join(d.Config.HubDir, "daemon.pid"),
	}
}

// Serve removes any stale socket, binds a fresh one, writes the pid
// file, and accepts connections until Shutdown is called. It returns
// when the listener is closed.
func (s *Server) Serve() error {
	if err := os.MkdirAll(s.d.Config.HubDir, 0o755); err != nil {
		return fmt.Errorf("daemon: hub dir: %w", err)
	}
	if err := removeStaleSocket(s.socket); err != nil {
		return fmt.Errorf("daemon: stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", s.socket, err)
	}
	s.listener = ln

	if err := os.WriteFile(s.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = ln.Close()
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	s.d.RunBackgroundLoops()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("daemon: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown stops background loops, closes the listener (which unblocks
// Accept), waits for in-flight connections to drain, closes every
// store, and removes the socket and pid files. Safe to call once.
func (s *Server) Shutdown() {
	s.d.StopBackgroundLoops()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	s.d.Close()
	_ = os.Remove(s.socket)
	_ = os.Remove(s.pidFile)
}

func removeStaleSocket(path string) error {
	if _, err := net.Dial("unix", path); err == nil {
		return fmt.Errorf("daemon: socket %s already has a live listener", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// connState is the per-connection auth context. A connection is
// unauthenticated until it sends a valid auth message; only ping is
// permitted before that.
type connState struct {
	account       string
	authenticated bool
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	out := bufio.NewWriter(conn)
	cs := &connState{}

	framer := wire.New(func(msg map[string]any) {
		reply := s.dispatch(cs, msg)
		if reply == nil {
			return
		}
		data, err := wire.Encode(reply)
		if err != nil {
			s.d.Log.Warn("daemon: encode reply", "error", err)
			return
		}
		if _, err := out.Write(data); err != nil {
			return
		}
		_ = out.Flush()
	}, s.d.Log)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
		}
		if err != nil {
			if cs.authenticated {
				s.d.State.MarkDisconnected(cs.account)
			}
			return
		}
	}
}

// dispatch handles one parsed request and returns the reply envelope,
// or nil if no reply should be sent.
func (s *Server) dispatch(cs *connState, msg map[string]any) map[string]any {
	reqType := wire.RequestType(msg)
	reqID := wire.RequestID(msg)

	if reqType == wire.TypePing {
		return wire.Pong(reqID)
	}

	if !cs.authenticated {
		if reqType != wire.TypeAuth {
			return wire.AuthFail(reqID, "not authenticated")
		}
		account := strField(msg, "account")
		token := strField(msg, "token")
		if !s.d.verifyToken(account, token) {
			return wire.AuthFail(reqID, "invalid credentials")
		}
		cs.account = account
		cs.authenticated = true
		now := s.d.Now()
		s.d.State.MarkConnected(account, token, now)
		s.d.State.MarkActive(account, now)
		return wire.AuthOK(reqID)
	}

	s.d.State.MarkActive(cs.account, s.d.Now())

	h, ok := handlers[reqType]
	if !ok {
		return nil
	}
	reply := h(s.d, cs.account, msg)
	if reply == nil {
		return nil
	}
	if reqID != "" {
		reply["requestId"] = reqID
	}
	return reply
}
