package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/songgao/keenroutesd/blocklist"
	"github.com/songgao/keenroutesd/cidr"
	"github.com/songgao/keenroutesd/config"
	"github.com/songgao/keenroutesd/dns"
	"github.com/songgao/keenroutesd/netutil"
	"github.com/songgao/keenroutesd/retry"
	"github.com/songgao/keenroutesd/router"
	"github.com/songgao/keenroutesd/routing"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

const dialTimeout = 30 * time.Second

type runResult struct {
	config string
	feed   string
	routes string
	err    error
}

func (r runResult) String() string {
	return fmt.Sprintf("config: %s | feed: %s | routes: %s", r.config, r.feed, r.routes)
}

type runner struct {
	configPath string
	envFile    string
	backend    string
	dryRun     bool

	// resolver is kept across runs so that addresses from earlier answers
	// stay routed until they expire. It is replaced when the configured
	// server changes.
	resolver       *dns.Resolver
	resolverServer string
}

func (rn *runner) resolverFor(logger *zap.Logger, server string) *dns.Resolver {
	if rn.resolver == nil || rn.resolverServer != server {
		if rn.resolver != nil {
			logger.Sugar().Infof("DNS server changed from %s to %s; dropping remembered answers", rn.resolverServer, server)
		}
		rn.resolver = dns.NewResolver(server)
		rn.resolverServer = server
	}
	return rn.resolver
}

func (rn *runner) loadConfig(logger *zap.Logger) (config.Config, error) {
	cfg, err := config.Load(logger, rn.configPath, rn.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if rn.backend != "" {
		cfg.Backend = rn.backend
	}
	if rn.dryRun {
		cfg.Backend = config.BackendDryRun
	}
	return cfg, cfg.Validate()
}

func (rn *runner) run(ctx context.Context, logger *zap.Logger) (result runResult) {
	logger.Debug("+ run")
	defer logger.Debug("- run")

	cfg, err := rn.loadConfig(logger)
	if err != nil {
		logger.Sugar().Errorf("loading config error: %v", err)
		result.config, result.err = "ERR", err
		return result
	}
	result.config = cfg.Backend

	dialer, err := netutil.NewDialer(cfg.Proxy, dialTimeout)
	if err != nil {
		logger.Sugar().Errorf("creating dialer error: %v", err)
		result.config, result.err = "ERR", err
		return result
	}
	client := netutil.NewHTTPClient(dialer, 0)

	routes, err := rn.desiredRoutes(ctx, logger, cfg, client)
	if err != nil {
		logger.Sugar().Errorf("building desired routes error: %v", err)
		result.feed, result.err = "ERR", err
		return result
	}
	result.feed = fmt.Sprintf("%d routes", len(routes))

	target, err := newTarget(ctx, logger, cfg, dialer, client)
	if err != nil {
		logger.Sugar().Errorf("connecting to router error: %v", err)
		result.routes, result.err = "ERR", err
		return result
	}

	report := routing.Sync(ctx, logger, target, routes)
	result.routes = fmt.Sprintf("%d applied, %d failed, %d skipped", report.Applied, len(report.Failed), report.Skipped)
	if err := report.Err(); err != nil {
		logger.Sugar().Errorf("sync error: %v", err)
		result.err = err
	}
	return result
}

// desiredRoutes is the feed, then the static overrides, then any configured
// domains resolved to host routes.
func (rn *runner) desiredRoutes(ctx context.Context, logger *zap.Logger, cfg config.Config, client *http.Client) ([]cidr.Route, error) {
	src := &blocklist.Source{URL: cfg.FeedURL, Client: client}
	if !cfg.DisableStaticList {
		src.Static = blocklist.YouTubeCIDRs
	}
	entries, err := src.Fetch(ctx, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.Domains) > 0 {
		hosts := rn.resolverFor(logger, cfg.DNSServer.String()).HostCIDRs(logger, cfg.Domains)
		logger.Sugar().Infof("%d host routes from %d domains", len(hosts), len(cfg.Domains))
		entries = append(entries, hosts...)
	}
	return blocklist.Routes(entries)
}

func newTarget(ctx context.Context, logger *zap.Logger, cfg config.Config, dialer proxy.ContextDialer, client *http.Client) (routing.Target, error) {
	switch cfg.Backend {
	case config.BackendDryRun:
		return &router.DryRunTarget{Logger: logger, Interface: cfg.Router.Interface}, nil
	case config.BackendSSH:
		t, err := router.DialSSH(ctx, logger, dialer, router.SSHConfig{
			Addr:           cfg.Addr(),
			Username:       cfg.Router.Username,
			Password:       cfg.Router.Password,
			Interface:      cfg.Router.Interface,
			KnownHostsFile: cfg.Router.KnownHostsFile,
			Retry:          retry.Policy{Attempts: cfg.Retry.SSHAttempts, Delay: cfg.Retry.SSHDelay},
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return router.NewHTTPTarget(logger, router.HTTPConfig{
		Host:      cfg.Addr(),
		Username:  cfg.Router.Username,
		Password:  cfg.Router.Password,
		Gateway:   cfg.Router.Gateway,
		Interface: cfg.Router.Interface,
		Client:    client,
		Retry:     retry.Policy{Attempts: cfg.Retry.HTTPAttempts, Delay: cfg.Retry.HTTPDelay},
	}), nil
}
