package tcpfeed

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"breakerd/internal/ingest"
)

// maxLineBytes caps a single report line. Real controller reports are
// well under a kilobyte; anything bigger is dropped without closing
// the connection.
const maxLineBytes = 1 << 20

// Server is the persistent line-oriented controller transport. One
// long-lived connection per controller, one report per line (JSON or
// key-value), no per-line responses. Malformed lines are dropped with
// a warning; the connection stays open.
type Server struct {
	gateway *ingest.Gateway
}

func New(gw *ingest.Gateway) *Server {
	return &Server{gateway: gw}
}

// Listen binds addr and serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("controller feed listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	log.Info().Str("conn", connID).Str("remote", remote).Msg("controller connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		line, readErr := reader.ReadString('\n')
		switch {
		case len(line) > maxLineBytes:
			log.Warn().Str("conn", connID).Int("bytes", len(line)).Msg("dropped oversized line")
		case strings.TrimSpace(line) != "":
			s.apply(ctx, connID, strings.TrimSpace(line))
		}
		if readErr != nil {
			if readErr != io.EOF && ctx.Err() == nil {
				log.Warn().Err(readErr).Str("conn", connID).Msg("controller read error")
			}
			break
		}
	}
	log.Info().Str("conn", connID).Str("remote", remote).Msg("controller disconnected")
}

func (s *Server) apply(ctx context.Context, connID, line string) {
	report, err := ingest.ParseLine(line)
	if err != nil {
		log.Warn().Err(err).Str("conn", connID).Str("line", line).Msg("dropped malformed line")
		return
	}
	if _, err := s.gateway.Apply(ctx, report); err != nil {
		log.Warn().Err(err).Str("conn", connID).
			Str("uid", report.UID).Str("breaker", report.BreakerID).
			Msg("report rejected")
	}
}
