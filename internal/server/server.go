// Package server implements the line-oriented TCP front end: one goroutine
// per accepted connection, one request and one response per connection.
package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/engine"
	"github.com/arjunmenon/lsmkv/internal/ql"
	"github.com/arjunmenon/lsmkv/internal/storeerr"
)

// maxRequestBytes bounds how much of a connection is read looking for the
// statement's terminating newline before the request is rejected.
const maxRequestBytes = 1024

// Server accepts connections and dispatches each one's single statement to
// an engine.Engine.
type Server struct {
	eng *engine.Engine
	log *zap.Logger

	wg sync.WaitGroup
}

// New returns a Server dispatching to eng.
func New(eng *engine.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{eng: eng, log: log}
}

// Serve accepts connections on ln until it returns an error (including
// when ln is closed by a caller to trigger shutdown), spawning one
// goroutine per connection. It blocks until every in-flight connection's
// goroutine has returned.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	line, err := readRequestLine(conn)
	if err != nil {
		s.respond(conn, fmt.Sprintf("Error: %v", err))
		return
	}

	stmt, err := ql.Parse(line)
	if err != nil {
		s.respond(conn, fmt.Sprintf("Error: %v", err))
		return
	}

	switch stmt.Kind {
	case ql.KindInsert:
		if err := s.eng.Set([]byte(stmt.Key), []byte(stmt.Value)); err != nil {
			s.respond(conn, fmt.Sprintf("Error: %v", err))
			return
		}
		s.respond(conn, "OK")

	case ql.KindDelete:
		if err := s.eng.Delete([]byte(stmt.Key)); err != nil {
			s.respond(conn, fmt.Sprintf("Error: %v", err))
			return
		}
		s.respond(conn, "OK")

	case ql.KindSelect:
		value, found, err := s.eng.Get([]byte(stmt.Key))
		if err != nil {
			s.respond(conn, fmt.Sprintf("Error: %v", err))
			return
		}
		if !found {
			s.respond(conn, "Key not found")
			return
		}
		s.respond(conn, string(value))
	}
}

// readRequestLine reads at most maxRequestBytes from conn looking for a
// newline-terminated statement. A request that exceeds the limit before a
// newline is found is rejected as unsupported rather than read further.
func readRequestLine(conn net.Conn) (string, error) {
	limited := io.LimitReader(conn, maxRequestBytes)
	line, err := bufio.NewReader(limited).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("%w: request exceeds %d bytes or has no terminating newline", storeerr.ErrUnsupported, maxRequestBytes)
	}
	return line, nil
}

func (s *Server) respond(conn net.Conn, msg string) {
	if _, err := io.WriteString(conn, msg); err != nil {
		s.log.Warn("write response", zap.Error(err))
	}
}
