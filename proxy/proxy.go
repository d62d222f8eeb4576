// Package proxy implements a MITM proxy that blocks the requests rejected by a
// [Blocker].
package proxy

import (
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
)

const (
	sessionPropKey = "session"
	blockedPropKey = "blocked"
)

// Blocker decides whether a request must be blocked.  *urlblock.Engine is a
// Blocker.
type Blocker interface {
	// ShouldBlock returns true if the request to url must be blocked.
	// resourceType and pageURL may be empty.
	ShouldBlock(url, resourceType, pageURL string) (ok bool)
}

// Config contains the MITM proxy configuration.
type Config struct {
	// Logger is used to log the blocked requests.  If nil, the logs are
	// discarded.
	Logger *slog.Logger

	// Blocker decides which requests to block.  It must not be nil.
	Blocker Blocker

	// ProxyConfig is the configuration of the MITM proxy.  The request and
	// response handlers are set by the server.
	ProxyConfig gomitmproxy.Config
}

// Server is the filtering proxy server.
type Server struct {
	logger      *slog.Logger
	blocker     Blocker
	proxyServer *gomitmproxy.Proxy
}

// NewServer creates a new instance of the MITM server.  c must not be nil.
func NewServer(c *Config) (s *Server, err error) {
	if c.Blocker == nil {
		return nil, fmt.Errorf("config: blocker: %w", errors.ErrNoValue)
	}

	s = &Server{
		logger:  c.Logger,
		blocker: c.Blocker,
	}

	if s.logger == nil {
		s.logger = slogutil.NewDiscardLogger()
	}

	pc := c.ProxyConfig
	pc.OnRequest = s.onRequest
	pc.OnResponse = s.onResponse

	if pc.ListenAddr != nil {
		s.logger.Info(
			"initializing proxy",
			"addr", pc.ListenAddr,
			"mitm", pc.MITMConfig != nil,
			"https", pc.TLSConfig != nil,
			"auth", pc.Username != "",
		)
	}

	s.proxyServer = gomitmproxy.NewProxy(pc)

	return s, nil
}

// Start starts the proxy server.
func (s *Server) Start() (err error) {
	return s.proxyServer.Start()
}

// Close stops the proxy server.
func (s *Server) Close() {
	s.proxyServer.Close()
}
