package dnsfilter

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
)

// Server serves a DNS handler over UDP and TCP on the same address.
type Server struct {
	logger *slog.Logger
	udp    *dns.Server
	tcp    *dns.Server
}

// NewServer returns a new server for h.  logger must not be nil.
func NewServer(logger *slog.Logger, h dns.Handler) (s *Server) {
	return &Server{
		logger: logger,
		udp:    &dns.Server{Net: "udp", Handler: h},
		tcp:    &dns.Server{Net: "tcp", Handler: h},
	}
}

// Start starts listening on addr.  It returns once both servers are serving.
func (s *Server) Start(ctx context.Context, addr string) (err error) {
	lc := &net.ListenConfig{}

	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("listening udp: %w", err)
	}

	// Bind TCP to the same port as UDP when addr has a zero port.
	l, err := lc.Listen(ctx, "tcp", pc.LocalAddr().String())
	if err != nil {
		return errors.WithDeferred(fmt.Errorf("listening tcp: %w", err), pc.Close())
	}

	s.udp.PacketConn = pc
	s.tcp.Listener = l

	started := make(chan struct{}, 2)
	notify := func() { started <- struct{}{} }
	s.udp.NotifyStartedFunc = notify
	s.tcp.NotifyStartedFunc = notify

	go s.serve(ctx, s.udp)
	go s.serve(ctx, s.tcp)

	for range 2 {
		select {
		case <-started:
		case <-ctx.Done():
			return fmt.Errorf("waiting for start: %w", ctx.Err())
		}
	}

	s.logger.InfoContext(ctx, "dns server started", "addr", pc.LocalAddr())

	return nil
}

// serve runs srv until it is shut down.
func (s *Server) serve(ctx context.Context, srv *dns.Server) {
	defer slogutil.RecoverAndLog(ctx, s.logger)

	err := srv.ActivateAndServe()
	if err != nil {
		s.logger.ErrorContext(ctx, "serving dns", "net", srv.Net, slogutil.KeyError, err)
	}
}

// Addr returns the address the server listens on.  It returns nil if the
// server isn't started.
func (s *Server) Addr() (addr net.Addr) {
	if s.udp.PacketConn == nil {
		return nil
	}

	return s.udp.PacketConn.LocalAddr()
}

// Shutdown stops both listeners.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	return errors.Join(
		errors.Annotate(s.udp.ShutdownContext(ctx), "udp: %w"),
		errors.Annotate(s.tcp.ShutdownContext(ctx), "tcp: %w"),
	)
}
