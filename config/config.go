package config

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
	"github.com/songgao/keenroutesd/blocklist"
	"go.uber.org/zap"
)

// Backends.
const (
	BackendHTTP   = "http"
	BackendSSH    = "ssh"
	BackendDryRun = "dry-run"
)

type configToml struct {
	Backend           string
	FeedURL           string
	DisableStaticList bool
	Proxy             string
	DNSServer         string
	Domains           []string
	Router            struct {
		Host           string
		Port           int
		Username       string
		Password       string
		Interface      string
		Gateway        string
		KnownHostsFile string
	}
	Retry struct {
		HTTPAttempts int
		HTTPDelay    string
		SSHAttempts  int
		SSHDelay     string
	}
}

// Router holds how to reach and authenticate to the router.
type Router struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Interface string
	// Gateway is sent with every HTTP route. Defaults to Host.
	Gateway        string
	KnownHostsFile string
}

// Retry holds per-backend retry settings.
type Retry struct {
	HTTPAttempts int
	HTTPDelay    time.Duration
	SSHAttempts  int
	SSHDelay     time.Duration
}

// Config holds config fields for keenroutesd.
type Config struct {
	Backend           string
	FeedURL           string
	DisableStaticList bool
	Proxy             string
	DNSServer         net.IP
	Domains           []string
	Router            Router
	Retry             Retry
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Backend:   BackendHTTP,
		FeedURL:   blocklist.DefaultFeedURL,
		DNSServer: net.ParseIP("8.8.8.8"),
		Router: Router{
			Host:      "192.168.0.1",
			Username:  "admin",
			Interface: "Proxy0",
		},
		Retry: Retry{
			HTTPAttempts: 3,
			HTTPDelay:    2 * time.Second,
			SSHAttempts:  3,
			SSHDelay:     time.Second,
		},
	}
}

// Addr returns host:port for backend, filling in the backend's default port.
// The HTTP default port is left out; IPv6 literals are always bracketed.
func (c Config) Addr() string {
	host := strings.TrimSuffix(strings.TrimPrefix(c.Router.Host, "["), "]")
	port := c.Router.Port
	if port == 0 {
		switch c.Backend {
		case BackendSSH:
			port = 22
		default:
			port = 80
		}
	}
	if c.Backend != BackendSSH && port == 80 {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Validate checks the preconditions for running with c.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHTTP, BackendSSH:
		if c.Router.Password == "" {
			return fmt.Errorf("router password is required for the %s backend; set KEENETIC_PASSWORD", c.Backend)
		}
	case BackendDryRun:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Router.Host == "" {
		return fmt.Errorf("router host is empty")
	}
	if c.Router.Interface == "" {
		return fmt.Errorf("egress interface is empty")
	}
	if c.FeedURL == "" {
		return fmt.Errorf("feed URL is empty")
	}
	if c.Retry.HTTPAttempts < 1 || c.Retry.SSHAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.Retry.HTTPDelay < 0 || c.Retry.SSHDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	return nil
}

// Load builds a Config from defaults, then the TOML file at p (if p is not
// empty), then the environment. p can be one of the following:
//   1. filesystem path, e.g.
//        /opt/etc/keenroutesd.toml
//   2. https URL, e.g.
//        https://example.com/keenroutesd.toml
// envFile, if not empty, is loaded into the environment first without
// overriding variables that are already set; a missing file is not an error.
func Load(logger *zap.Logger, p string, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("loading env file error: %v", err)
		}
	}

	if p != "" {
		data, err := readConfig(logger, http.DefaultClient, p)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file error: %v", err)
		}
		if err := cfg.merge(logger, data); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(logger, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.Router.Gateway == "" {
		cfg.Router.Gateway = cfg.Router.Host
	}
	return cfg, nil
}

func (cfg *Config) merge(logger *zap.Logger, data []byte) error {
	var cfgToml configToml
	if err := toml.Unmarshal(data, &cfgToml); err != nil {
		return fmt.Errorf("parsing config file error: %v", err)
	}

	setString(&cfg.Backend, cfgToml.Backend)
	setString(&cfg.FeedURL, cfgToml.FeedURL)
	setString(&cfg.Proxy, cfgToml.Proxy)
	cfg.DisableStaticList = cfgToml.DisableStaticList
	cfg.Domains = cfgToml.Domains

	if len(cfgToml.DNSServer) == 0 {
		logger.Sugar().Debugf("DNSServer missing; using %s", cfg.DNSServer)
	} else {
		cfg.DNSServer = net.ParseIP(cfgToml.DNSServer)
		if cfg.DNSServer == nil {
			return fmt.Errorf("%s is not a valid IP address", cfgToml.DNSServer)
		}
	}

	r := cfgToml.Router
	setString(&cfg.Router.Host, r.Host)
	setString(&cfg.Router.Username, r.Username)
	setString(&cfg.Router.Password, r.Password)
	setString(&cfg.Router.Interface, r.Interface)
	setString(&cfg.Router.Gateway, r.Gateway)
	setString(&cfg.Router.KnownHostsFile, r.KnownHostsFile)
	if r.Port != 0 {
		cfg.Router.Port = r.Port
	}

	if cfgToml.Retry.HTTPAttempts != 0 {
		cfg.Retry.HTTPAttempts = cfgToml.Retry.HTTPAttempts
	}
	if cfgToml.Retry.SSHAttempts != 0 {
		cfg.Retry.SSHAttempts = cfgToml.Retry.SSHAttempts
	}
	if err := setDuration(&cfg.Retry.HTTPDelay, cfgToml.Retry.HTTPDelay); err != nil {
		return fmt.Errorf("Retry.HTTPDelay: %v", err)
	}
	if err := setDuration(&cfg.Retry.SSHDelay, cfgToml.Retry.SSHDelay); err != nil {
		return fmt.Errorf("Retry.SSHDelay: %v", err)
	}
	return nil
}

func (cfg *Config) applyEnv(logger *zap.Logger, lookup func(string) (string, bool)) error {
	for name, dst := range map[string]*string{
		"KEENETIC_USERNAME":  &cfg.Router.Username,
		"KEENETIC_PASSWORD":  &cfg.Router.Password,
		"KEENETIC_HOST":      &cfg.Router.Host,
		"KEENETIC_INTERFACE": &cfg.Router.Interface,
		"KEENETIC_BACKEND":   &cfg.Backend,
	} {
		if v, ok := lookup(name); ok && v != "" {
			logger.Sugar().Debugf("using %s from environment", name)
			*dst = v
		}
	}
	if v, ok := lookup("KEENETIC_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("KEENETIC_PORT %q is not a valid port", v)
		}
		cfg.Router.Port = port
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
