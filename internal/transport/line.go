package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
)

func (s *Server) serveLines(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		go s.handleLineConn(ctx, conn)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handleLineConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	s.logger.Log(ctx, levelTrace, "connection opened")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxMessageSize)
	w := bufio.NewWriter(conn)

	for sc.Scan() {
		line := bytes.TrimSuffix(sc.Bytes(), []byte{'\r'})
		resp := s.handler.Handle(ctx, line)

		if _, err := w.Write(resp); err != nil {
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("connection read failed", "error", err)
	}
	s.logger.Log(ctx, levelTrace, "connection closed")
}
