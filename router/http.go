package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/songgao/keenroutesd/cidr"
	"github.com/songgao/keenroutesd/retry"
	"github.com/songgao/keenroutesd/routing"
	"go.uber.org/zap"
)

const luciRoutesPath = "/cgi-bin/luci/admin/network/routes"

// HTTPConfig configures an HTTPTarget.
type HTTPConfig struct {
	// Host is "host" or "host:port".
	Host      string
	Username  string
	Password  string
	Gateway   string
	Interface string
	Client    *http.Client
	// Retry is applied to every request. A nil Classify retries everything
	// except authentication failures.
	Retry retry.Policy
}

// HTTPTarget adds routes through the router's web interface, one request per
// route.
type HTTPTarget struct {
	logger *zap.Logger
	cfg    HTTPConfig
}

var _ routing.Target = (*HTTPTarget)(nil)

// NewHTTPTarget returns a target for the router at cfg.Host. A nil
// cfg.Client means http.DefaultClient.
func NewHTTPTarget(logger *zap.Logger, cfg HTTPConfig) *HTTPTarget {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &HTTPTarget{logger: logger, cfg: cfg}
}

// Apply submits r, retrying per t's policy. Failures are never fatal to the
// batch.
func (t *HTTPTarget) Apply(ctx context.Context, r cidr.Route) error {
	policy := t.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		t.logger.Sugar().Warnf("attempt %d for route %s failed: %v", attempt, r.Network, err)
	}
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		return t.addRoute(ctx, r)
	})
}

func (t *HTTPTarget) routeURL(r cidr.Route) string {
	params := url.Values{}
	params.Set("ip", r.Network)
	params.Set("mask", r.Mask)
	params.Set("gateway", t.cfg.Gateway)
	params.Set("interface", t.cfg.Interface)
	u := url.URL{
		Scheme:   "http",
		Host:     t.cfg.Host,
		Path:     luciRoutesPath,
		RawQuery: params.Encode(),
	}
	return u.String()
}

func (t *HTTPTarget) addRoute(ctx context.Context, r cidr.Route) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.routeURL(r), nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.Username, t.cfg.Password)

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("router rejected credentials: %s", resp.Status))
	case resp.StatusCode >= 400:
		return fmt.Errorf("router returned %s", resp.Status)
	}
	t.logger.Sugar().Debugf("route %s mask %s submitted: %s", r.Network, r.Mask, resp.Status)
	return nil
}

// Close drops idle keep-alive connections.
func (t *HTTPTarget) Close() error {
	t.cfg.Client.CloseIdleConnections()
	return nil
}
