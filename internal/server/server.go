package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ferrochat/ferrochat/internal/config"
)

// Server accepts TCP connections and runs the line protocol on each one.
// Connections are fully independent: one goroutine per socket.
type Server struct {
	cfg        *config.Config
	dispatcher *Dispatcher
	listener   net.Listener
}

func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg, dispatcher: NewDispatcher(cfg)}
}

// Listen binds the TCP listener, wrapping it with TLS when encryption is
// enabled and a certificate pair loads. A missing or broken pair falls back
// to plain TCP with a warning, matching the permissive startup behaviour
// clients expect from a dev environment.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	if tlsCfg := s.tlsConfig(); tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
		log.Info().Str("addr", addr).Msg("listening (tls)")
	} else {
		log.Info().Str("addr", addr).Msg("listening")
	}

	s.listener = ln
	return nil
}

func (s *Server) tlsConfig() *tls.Config {
	if !s.cfg.EnableEncryption || s.cfg.TLSCertPath == "" || s.cfg.TLSKeyPath == "" {
		return nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
	if err != nil {
		log.Warn().Err(err).Msg("tls enabled but certificate pair failed to load, serving plain tcp")
		return nil
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}

// Serve accepts connections until the context is cancelled or the listener
// closes. Listen must have been called first.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops the listener. In-flight connections finish on their own.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn runs the read-dispatch-write loop for one client. A TLS
// handshake failure surfaces as a read error before any byte is written.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	log.Debug().Str("peer", peer).Msg("client connected")

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Debug().Str("peer", peer).Msg("client disconnected")
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		response, quit := s.dispatcher.Dispatch(line)

		if _, err := writer.WriteString(response); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
		if quit {
			return
		}
	}
}
