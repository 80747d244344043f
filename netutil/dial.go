// Package netutil builds the dialers and HTTP clients shared by the feed
// fetch and the router backends, optionally routed through a SOCKS5 proxy.
package netutil

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// NewDialer returns a dialer that connects directly, or through the proxy at
// proxyURL (socks5:// or socks5h://) when it is non-empty.
func NewDialer(proxyURL string, timeout time.Duration) (proxy.ContextDialer, error) {
	base := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if proxyURL == "" {
		return base, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy URL error: %v", err)
	}
	d, err := proxy.FromURL(u, base)
	if err != nil {
		return nil, fmt.Errorf("proxy %s: %v", u.Redacted(), err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy %s: dialer does not support contexts", u.Redacted())
	}
	return cd, nil
}

// NewHTTPClient returns an HTTP client whose connections go through d. A
// zero timeout leaves requests bounded only by their context.
func NewHTTPClient(d proxy.ContextDialer, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = d.DialContext
	return &http.Client{Transport: transport, Timeout: timeout}
}
