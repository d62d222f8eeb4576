// Package dnsfilter contains a DNS handler that answers the queries for the
// blocked hostnames with unspecified addresses and forwards the rest upstream.
package dnsfilter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/miekg/dns"
)

const (
	// DefaultTimeout is the default upstream timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultBlockedTTL is the default TTL of the blocked responses, in
	// seconds.
	DefaultBlockedTTL = 3600
)

// Blocker decides whether a request must be blocked.  *urlblock.Engine is a
// Blocker.
type Blocker interface {
	// ShouldBlock returns true if the request to url must be blocked.
	ShouldBlock(url, resourceType, pageURL string) (ok bool)
}

// Config is the configuration structure for the [Handler].
type Config struct {
	// Logger is used to log the queries.  If nil, the logs are discarded.
	Logger *slog.Logger

	// Blocker decides which hostnames to block.  It must not be nil.
	Blocker Blocker

	// Upstream is the address of the upstream server, for example
	// "9.9.9.9:53".  It must not be empty.
	Upstream string

	// Timeout is the upstream timeout.  If zero, [DefaultTimeout] is used.
	Timeout time.Duration

	// BlockedTTL is the TTL of the blocked responses.  If zero,
	// [DefaultBlockedTTL] is used.
	BlockedTTL uint32
}

// Handler is a filtering DNS handler.
type Handler struct {
	logger    *slog.Logger
	blocker   Blocker
	udpClient *dns.Client
	tcpClient *dns.Client
	upstream  string
	timeout   time.Duration
	ttl       uint32
}

// type check
var _ dns.Handler = (*Handler)(nil)

// New returns a new DNS handler.  c must not be nil.
func New(c *Config) (h *Handler, err error) {
	if c.Blocker == nil {
		return nil, fmt.Errorf("config: blocker: %w", errors.ErrNoValue)
	}

	if c.Upstream == "" {
		return nil, fmt.Errorf("config: upstream: %w", errors.ErrEmptyValue)
	}

	if _, _, err = net.SplitHostPort(c.Upstream); err != nil {
		return nil, fmt.Errorf("config: upstream: %w", err)
	}

	h = &Handler{
		logger:   c.Logger,
		blocker:  c.Blocker,
		upstream: c.Upstream,
		timeout:  c.Timeout,
		ttl:      c.BlockedTTL,
	}

	if h.logger == nil {
		h.logger = slogutil.NewDiscardLogger()
	}

	if h.timeout == 0 {
		h.timeout = DefaultTimeout
	}

	if h.ttl == 0 {
		h.ttl = DefaultBlockedTTL
	}

	h.udpClient = &dns.Client{Net: "udp", Timeout: h.timeout}
	h.tcpClient = &dns.Client{Net: "tcp", Timeout: h.timeout}

	return h, nil
}

// ServeDNS implements the [dns.Handler] interface for *Handler.
func (h *Handler) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp := h.handle(ctx, req)
	if err := w.WriteMsg(resp); err != nil {
		h.logger.DebugContext(ctx, "writing response", "remote", w.RemoteAddr(), slogutil.KeyError, err)
	}
}

// handle returns the response to req.
func (h *Handler) handle(ctx context.Context, req *dns.Msg) (resp *dns.Msg) {
	if len(req.Question) != 1 {
		return new(dns.Msg).SetRcode(req, dns.RcodeFormatError)
	}

	q := req.Question[0]
	host := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	if host != "" && h.blocker.ShouldBlock("http://"+host+"/", "", "") {
		h.logger.DebugContext(ctx, "blocked query", "host", host, "qtype", dns.Type(q.Qtype))

		return h.blockedResponse(req, q)
	}

	resp, err := h.forward(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "forwarding query", "host", host, slogutil.KeyError, err)

		return new(dns.Msg).SetRcode(req, dns.RcodeServerFailure)
	}

	return resp
}

// forward sends req upstream over UDP and retries over TCP if the response is
// truncated.
func (h *Handler) forward(ctx context.Context, req *dns.Msg) (resp *dns.Msg, err error) {
	resp, _, err = h.udpClient.ExchangeContext(ctx, req, h.upstream)
	if err != nil {
		return nil, fmt.Errorf("udp: %w", err)
	}

	if !resp.Truncated {
		return resp, nil
	}

	resp, _, err = h.tcpClient.ExchangeContext(ctx, req, h.upstream)
	if err != nil {
		return nil, fmt.Errorf("tcp: %w", err)
	}

	return resp, nil
}

// blockedResponse returns the response with an unspecified address for A and
// AAAA queries and an empty answer for the other types.
func (h *Handler) blockedResponse(req *dns.Msg, q dns.Question) (resp *dns.Msg) {
	resp = new(dns.Msg).SetReply(req)
	resp.RecursionAvailable = true

	hdr := dns.RR_Header{
		Name:   q.Name,
		Rrtype: q.Qtype,
		Class:  dns.ClassINET,
		Ttl:    h.ttl,
	}

	switch q.Qtype {
	case dns.TypeA:
		resp.Answer = []dns.RR{&dns.A{Hdr: hdr, A: net.IPv4zero}}
	case dns.TypeAAAA:
		resp.Answer = []dns.RR{&dns.AAAA{Hdr: hdr, AAAA: net.IPv6unspecified}}
	}

	return resp
}
