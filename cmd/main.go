package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/AdguardTeam/gomitmproxy/mitm"
	"github.com/AdguardTeam/urlblock"
	"github.com/AdguardTeam/urlblock/api"
	"github.com/AdguardTeam/urlblock/dnsfilter"
	"github.com/AdguardTeam/urlblock/filterlist"
	"github.com/AdguardTeam/urlblock/proxy"
	goFlags "github.com/jessevdk/go-flags"
)

// shutdownTimeout is the timeout for stopping the servers.
const shutdownTimeout = 10 * time.Second

// Options -- console arguments
type Options struct {
	// Verbose - should we write debug-level log
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)." optional:"yes" optional-value:"true"`

	// LogOutput - path to the log file
	LogOutput string `short:"o" long:"output" description:"Path to the log file. If not set, it writes to stderr." default:""`

	// ConfigPath - path to the YAML configuration file
	ConfigPath string `short:"c" long:"config" description:"Path to the YAML configuration file."`

	// FilterLists - URLs or paths of the filter lists, added to the ones from the configuration file
	FilterLists []string `short:"f" long:"filter" description:"URL or path of a filter list. Can be specified multiple times."`

	// ProxyListen - proxy listen address
	ProxyListen string `short:"l" long:"proxy-listen" description:"Proxy listen address, for example 0.0.0.0:8080."`

	// DNSListen - DNS listen address
	DNSListen string `short:"d" long:"dns-listen" description:"DNS listen address, for example 127.0.0.1:5353."`

	// APIListen - diagnostics API listen address
	APIListen string `short:"a" long:"api-listen" description:"Diagnostics API listen address, for example 127.0.0.1:8081."`
}

func main() {
	options := &Options{}
	parser := goFlags.NewParser(options, goFlags.Default)

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}

	err = run(options)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "urlblock: %s\n", err)

		os.Exit(1)
	}
}

// run starts the engine and the servers and waits for the signals.
func run(options *Options) (err error) {
	logger, logFile, err := newLogger(options)
	if err != nil {
		return err
	}

	if logFile != nil {
		defer func() { err = errors.WithDeferred(err, logFile.Close()) }()
	}

	conf := newDefaultConfig()
	if options.ConfigPath != "" {
		conf, err = readConfig(options.ConfigPath)
		if err != nil {
			return err
		}
	}

	conf.applyOptions(options)
	err = conf.validate()
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	provider := filterlist.NewHTTPProvider(conf.Download.toHTTPConfig(
		logger.With(slogutil.KeyPrefix, "filterlist"),
	))

	engine, err := urlblock.New(&urlblock.Config{
		Logger:                 logger.With(slogutil.KeyPrefix, "engine"),
		Provider:               provider,
		Sources:                conf.Filters,
		BloomFalsePositiveRate: conf.BloomFalsePositiveRate,
		DecisionCacheSize:      conf.DecisionCacheSize,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ctx := context.Background()

	// Nothing is blocked until one of the reloads succeeds.
	err = engine.Initialize(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "initial load failed", slogutil.KeyError, err)
	}

	srvs, err := startServers(ctx, logger, conf, engine)
	if err != nil {
		return errors.WithDeferred(err, srvs.shutdown(ctx))
	}

	return waitSignals(ctx, logger, conf.ReloadInterval, engine, srvs)
}

// newLogger returns a text logger writing to the file from options or to
// stderr.  f is nil if the logs are written to stderr.
func newLogger(options *Options) (l *slog.Logger, f *os.File, err error) {
	var w io.Writer = os.Stderr
	if options.LogOutput != "" {
		// #nosec G302 G304 -- Trust the path given by the user, the log is
		// meant to be readable.
		f, err = os.OpenFile(options.LogOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot create a log file: %w", err)
		}

		w = f
	}

	lvl := slog.LevelInfo
	if options.Verbose {
		lvl = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), f, nil
}

// waitSignals reloads the engine on SIGHUP and every interval, if it's
// positive, and stops the servers on SIGINT or SIGTERM.
func waitSignals(
	ctx context.Context,
	logger *slog.Logger,
	interval time.Duration,
	engine *urlblock.Engine,
	srvs *servers,
) (err error) {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			reload(ctx, logger, engine, "interval")
		case sig := <-signalChannel:
			if sig == syscall.SIGHUP {
				reload(ctx, logger, engine, "sighup")

				continue
			}

			logger.InfoContext(ctx, "shutting down", "signal", sig)

			return srvs.shutdown(ctx)
		}
	}
}

// reload reloads the engine and logs the result.
func reload(ctx context.Context, logger *slog.Logger, engine *urlblock.Engine, reason string) {
	err := engine.Reload(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "reload failed", "reason", reason, slogutil.KeyError, err)

		return
	}

	st := engine.Stats()
	logger.InfoContext(ctx, "reloaded", "reason", reason, "filters", st.TotalFilters)
}

// servers are the started outer surfaces.  A nil field means the surface is
// disabled.
type servers struct {
	proxy *proxy.Server
	dns   *dnsfilter.Server
	api   *api.Server
}

// startServers starts the enabled servers.  srvs is never nil and contains
// the servers started before an error.
func startServers(
	ctx context.Context,
	logger *slog.Logger,
	conf *configuration,
	engine *urlblock.Engine,
) (srvs *servers, err error) {
	srvs = &servers{}

	if conf.Proxy.ListenAddr != "" {
		srvs.proxy, err = startProxy(logger.With(slogutil.KeyPrefix, "proxy"), conf.Proxy, engine)
		if err != nil {
			return srvs, fmt.Errorf("starting proxy: %w", err)
		}
	}

	if conf.DNS.ListenAddr != "" {
		srvs.dns, err = startDNS(ctx, logger.With(slogutil.KeyPrefix, "dns"), conf.DNS, engine)
		if err != nil {
			return srvs, fmt.Errorf("starting dns: %w", err)
		}
	}

	if conf.API.ListenAddr != "" {
		srvs.api, err = api.New(&api.Config{
			Logger: logger.With(slogutil.KeyPrefix, "api"),
			Engine: engine,
		})
		if err != nil {
			return srvs, fmt.Errorf("creating api: %w", err)
		}

		err = srvs.api.Start(ctx, conf.API.ListenAddr)
		if err != nil {
			return srvs, fmt.Errorf("starting api: %w", err)
		}
	}

	return srvs, nil
}

// shutdown stops all the started servers.
func (s *servers) shutdown(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if s.proxy != nil {
		s.proxy.Close()
	}

	var errs []error
	if s.dns != nil {
		errs = append(errs, errors.Annotate(s.dns.Shutdown(ctx), "dns: %w"))
	}

	if s.api != nil {
		errs = append(errs, errors.Annotate(s.api.Shutdown(ctx), "api: %w"))
	}

	return errors.Join(errs...)
}

// startProxy creates and starts the proxy server.
func startProxy(logger *slog.Logger, c *proxyConfig, b proxy.Blocker) (s *proxy.Server, err error) {
	pc, err := newProxyConfig(c)
	if err != nil {
		return nil, err
	}

	s, err = proxy.NewServer(&proxy.Config{
		Logger:      logger,
		Blocker:     b,
		ProxyConfig: pc,
	})
	if err != nil {
		return nil, err
	}

	err = s.Start()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// newProxyConfig converts c into the MITM proxy configuration.
func newProxyConfig(c *proxyConfig) (pc gomitmproxy.Config, err error) {
	addr, err := net.ResolveTCPAddr("tcp", c.ListenAddr)
	if err != nil {
		return pc, fmt.Errorf("listen_addr: %w", err)
	}

	pc = gomitmproxy.Config{
		ListenAddr:     addr,
		Username:       c.Username,
		Password:       c.Password,
		APIHost:        "urlblock",
		MITMExceptions: c.MITMExceptions,
	}

	if c.CACertPath == "" {
		return pc, nil
	}

	pc.MITMConfig, err = newMITMConfig(c.CACertPath, c.CAKeyPath)
	if err != nil {
		return pc, err
	}

	if c.HTTPSHostname != "" {
		proxyCert, certErr := pc.MITMConfig.GetOrCreateCert(c.HTTPSHostname)
		if certErr != nil {
			return pc, fmt.Errorf("generating certificate for %s: %w", c.HTTPSHostname, certErr)
		}

		pc.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*proxyCert},
			ServerName:   c.HTTPSHostname,
		}
	}

	return pc, nil
}

// newMITMConfig loads the root CA and creates the MITM configuration.
func newMITMConfig(certPath, keyPath string) (c *mitm.Config, err error) {
	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading root ca: %w", err)
	}

	privateKey, ok := tlsCert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("root ca key: want rsa, got %T", tlsCert.PrivateKey)
	}

	x509c, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("invalid certificate: %w", err)
	}

	c, err = mitm.NewConfig(x509c, privateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	// Generate certificates valid for 7 days.
	c.SetValidity(time.Hour * 24 * 7)
	c.SetOrganization("urlblock")

	return c, nil
}

// startDNS creates and starts the DNS server.
func startDNS(
	ctx context.Context,
	logger *slog.Logger,
	c *dnsConfig,
	b dnsfilter.Blocker,
) (s *dnsfilter.Server, err error) {
	h, err := dnsfilter.New(&dnsfilter.Config{
		Logger:     logger,
		Blocker:    b,
		Upstream:   c.Upstream,
		Timeout:    c.Timeout,
		BlockedTTL: c.BlockedTTL,
	})
	if err != nil {
		return nil, err
	}

	s = dnsfilter.NewServer(logger, h)
	err = s.Start(ctx, c.ListenAddr)
	if err != nil {
		return nil, err
	}

	return s, nil
}
