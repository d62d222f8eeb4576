package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/urlblock/filterlist"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// configuration is the structure of the YAML configuration file.
type configuration struct {
	// Filters are the filter lists to load.
	Filters []*filterlist.Source `yaml:"filters"`

	// Download is the filter list download configuration.
	Download *downloadConfig `yaml:"download"`

	// Proxy is the MITM proxy configuration.  The proxy is disabled if the
	// listen address is empty.
	Proxy *proxyConfig `yaml:"proxy"`

	// DNS is the DNS front configuration.  It is disabled if the listen
	// address is empty.
	DNS *dnsConfig `yaml:"dns"`

	// API is the diagnostics API configuration.  It is disabled if the listen
	// address is empty.
	API *apiConfig `yaml:"api"`

	// ReloadInterval is the interval between periodic reloads.  Zero disables
	// them, SIGHUP still triggers a reload.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// BloomFalsePositiveRate is the target false positive rate of the Bloom
	// filter.
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate"`

	// DecisionCacheSize is the size of the decision cache.
	DecisionCacheSize int `yaml:"decision_cache_size"`
}

type downloadConfig struct {
	UserAgent      string            `yaml:"user_agent"`
	Timeout        time.Duration     `yaml:"timeout"`
	InitialBackoff time.Duration     `yaml:"initial_backoff"`
	MaxSize        datasize.ByteSize `yaml:"max_size"`
	Attempts       int               `yaml:"attempts"`
	Concurrency    int               `yaml:"concurrency"`
}

// toHTTPConfig converts c into the provider configuration.
func (c *downloadConfig) toHTTPConfig(logger *slog.Logger) (hc *filterlist.HTTPConfig) {
	return &filterlist.HTTPConfig{
		Logger:         logger,
		UserAgent:      c.UserAgent,
		Timeout:        c.Timeout,
		InitialBackoff: c.InitialBackoff,
		MaxSize:        c.MaxSize,
		Attempts:       c.Attempts,
		Concurrency:    c.Concurrency,
	}
}

type proxyConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// CACertPath and CAKeyPath are the paths to the root certificate and its
	// private key.  MITM is disabled if they are empty.
	CACertPath string `yaml:"ca_cert"`
	CAKeyPath  string `yaml:"ca_key"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// HTTPSHostname is the server name of the HTTPS proxy.  If empty, a plain
	// HTTP proxy is started.
	HTTPSHostname string `yaml:"https_hostname"`

	// MITMExceptions are the hostnames that are never intercepted.
	MITMExceptions []string `yaml:"mitm_exceptions"`
}

type dnsConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Upstream   string        `yaml:"upstream"`
	Timeout    time.Duration `yaml:"timeout"`
	BlockedTTL uint32        `yaml:"blocked_ttl"`
}

type apiConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// newDefaultConfig returns the configuration used when no file is given.
func newDefaultConfig() (c *configuration) {
	return &configuration{
		Download: &downloadConfig{},
		Proxy:    &proxyConfig{},
		DNS: &dnsConfig{
			Upstream: "9.9.9.9:53",
		},
		API:               &apiConfig{},
		ReloadInterval:    24 * time.Hour,
		DecisionCacheSize: 10_000,
	}
}

// readConfig reads the configuration from the YAML file at path.  The missing
// sections keep their default values.
func readConfig(path string) (c *configuration, err error) {
	// #nosec G304 -- Trust the path given by the user.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	c = newDefaultConfig()
	err = yaml.Unmarshal(data, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	c.setMissing()

	return c, nil
}

// setMissing replaces the sections explicitly set to null with empty ones.
func (c *configuration) setMissing() {
	if c.Download == nil {
		c.Download = &downloadConfig{}
	}

	if c.Proxy == nil {
		c.Proxy = &proxyConfig{}
	}

	if c.DNS == nil {
		c.DNS = &dnsConfig{}
	}

	if c.API == nil {
		c.API = &apiConfig{}
	}
}

// applyOptions overrides the configuration with the command-line options.
func (c *configuration) applyOptions(opts *Options) {
	for _, f := range opts.FilterLists {
		c.Filters = append(c.Filters, &filterlist.Source{
			Name: f,
			URL:  f,
		})
	}

	if opts.ProxyListen != "" {
		c.Proxy.ListenAddr = opts.ProxyListen
	}

	if opts.DNSListen != "" {
		c.DNS.ListenAddr = opts.DNSListen
	}

	if opts.APIListen != "" {
		c.API.ListenAddr = opts.APIListen
	}
}

// validate returns an error if the configuration is invalid.
func (c *configuration) validate() (err error) {
	var errs []error
	if len(c.Filters) == 0 {
		errs = append(errs, fmt.Errorf("filters: %w", errors.ErrEmptyValue))
	}

	for i, f := range c.Filters {
		if f == nil || f.URL == "" {
			errs = append(errs, fmt.Errorf("filters: at index %d: url: %w", i, errors.ErrEmptyValue))
		}
	}

	if c.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("reload_interval: %w: %s", errors.ErrNegative, c.ReloadInterval))
	}

	if c.DecisionCacheSize < 0 {
		errs = append(errs, fmt.Errorf("decision_cache_size: %w: %d", errors.ErrNegative, c.DecisionCacheSize))
	}

	if (c.Proxy.CACertPath == "") != (c.Proxy.CAKeyPath == "") {
		errs = append(errs, errors.Error("proxy: ca_cert and ca_key must be set together"))
	}

	if c.Proxy.HTTPSHostname != "" && c.Proxy.CACertPath == "" {
		errs = append(errs, errors.Error("proxy: https_hostname requires ca_cert"))
	}

	if c.DNS.ListenAddr != "" && c.DNS.Upstream == "" {
		errs = append(errs, fmt.Errorf("dns: upstream: %w", errors.ErrEmptyValue))
	}

	return errors.Join(errs...)
}
