// Package blocklist builds the desired route set: the remote block-list feed
// followed by a fixed list of overrides, normalized in that order with no
// deduplication.
package blocklist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/songgao/keenroutesd/cidr"
	"go.uber.org/zap"
)

// DefaultFeedURL serves newline-delimited CIDRs.
const DefaultFeedURL = "https://antifilter.download/list/allyouneed.lst"

// YouTubeCIDRs are appended after the feed unless disabled.
var YouTubeCIDRs = []string{
	"64.18.0.0/20",
	"64.233.160.0/19",
	"66.102.0.0/20",
	"66.249.80.0/20",
	"72.14.192.0/18",
	"74.125.0.0/16",
	"173.194.0.0/16",
	"207.126.144.0/20",
	"209.85.128.0/17",
	"216.58.208.0/20",
	"216.239.32.0/19",
	"213.0.0.0/8",
}

// FetchError means the feed could not be retrieved at all. No partial list is
// ever returned alongside it.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching block list %s error: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Source fetches the feed and appends Static to it.
type Source struct {
	URL    string
	Client *http.Client
	Static []string
}

// Fetch returns the raw feed lines followed by s.Static. Lines are returned
// as received; blank ones are dropped later by Routes.
func (s *Source) Fetch(ctx context.Context, logger *zap.Logger) ([]string, error) {
	logger.Debug("+ Fetch")
	defer logger.Debug("- Fetch")

	lines, err := s.fetchFeed(ctx)
	if err != nil {
		return nil, &FetchError{URL: s.URL, Err: err}
	}
	logger.Sugar().Infof("%d lines downloaded from %s", len(lines), s.URL)
	return append(lines, s.Static...), nil
}

func (s *Source) fetchFeed(ctx context.Context) ([]string, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("response body is not valid UTF-8")
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Routes normalizes entries in order, skipping blank and whitespace-only
// ones. The first malformed entry aborts with an error wrapping
// cidr.ErrMalformedCIDR.
func Routes(entries []string) ([]cidr.Route, error) {
	routes := make([]cidr.Route, 0, len(entries))
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		r, err := cidr.Normalize(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}
