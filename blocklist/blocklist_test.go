package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/songgao/keenroutesd/cidr"
	"go.uber.org/zap/zaptest"
)

func feedServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAppendsStatic(t *testing.T) {
	srv := feedServer(t, http.StatusOK, "1.1.1.0/24\r\n\n  \n2.2.0.0/16\n")
	s := &Source{URL: srv.URL, Client: srv.Client(), Static: YouTubeCIDRs}

	entries, err := s.Fetch(context.Background(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if entries[0] != "1.1.1.0/24" {
		t.Errorf("entries[0] = %q, want 1.1.1.0/24", entries[0])
	}
	if got, want := entries[len(entries)-1], YouTubeCIDRs[len(YouTubeCIDRs)-1]; got != want {
		t.Errorf("last entry = %q, want %q", got, want)
	}

	routes, err := Routes(entries)
	if err != nil {
		t.Fatalf("Routes error: %v", err)
	}
	if want := 2 + len(YouTubeCIDRs); len(routes) != want {
		t.Fatalf("len(routes) = %d, want %d", len(routes), want)
	}
	if routes[1] != (cidr.Route{Network: "2.2.0.0", Mask: "255.255.0.0"}) {
		t.Errorf("routes[1] = %+v", routes[1])
	}
	if routes[2] != (cidr.Route{Network: "64.18.0.0", Mask: "255.255.240.0"}) {
		t.Errorf("routes[2] = %+v, want first static override", routes[2])
	}
}

func TestFetchKeepsDuplicates(t *testing.T) {
	srv := feedServer(t, http.StatusOK, "74.125.0.0/16\n74.125.0.0/16\n")
	s := &Source{URL: srv.URL, Client: srv.Client(), Static: YouTubeCIDRs}

	entries, err := s.Fetch(context.Background(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	routes, _ := Routes(entries)
	var n int
	for _, r := range routes {
		if r.Network == "74.125.0.0" {
			n++
		}
	}
	if n != 3 {
		t.Errorf("74.125.0.0 appears %d times, want 3", n)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusInternalServerError, "1.1.1.0/24\n"},
		{"not found", http.StatusNotFound, ""},
		{"decode", http.StatusOK, "1.1.1.0/24\n\xff\xfe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := feedServer(t, tt.status, tt.body)
			s := &Source{URL: srv.URL, Client: srv.Client(), Static: YouTubeCIDRs}
			entries, err := s.Fetch(context.Background(), zaptest.NewLogger(t))
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want *FetchError", err)
			}
			if entries != nil {
				t.Errorf("entries = %v, want nil on failure", entries)
			}
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := feedServer(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	s := &Source{URL: url}
	_, err := s.Fetch(context.Background(), zaptest.NewLogger(t))
	var fe *FetchError
	if !errors.As(err, &fe) || fe.URL != url {
		t.Errorf("error = %v, want *FetchError for %s", err, url)
	}
}

func TestRoutesMalformedAborts(t *testing.T) {
	_, err := Routes([]string{"1.1.1.0/24", "garbage", "2.2.2.0/24"})
	if !errors.Is(err, cidr.ErrMalformedCIDR) {
		t.Errorf("error = %v, want ErrMalformedCIDR", err)
	}
}

func TestStaticOverrides(t *testing.T) {
	if len(YouTubeCIDRs) != 12 {
		t.Errorf("len(YouTubeCIDRs) = %d, want 12", len(YouTubeCIDRs))
	}
	if _, err := Routes(YouTubeCIDRs); err != nil {
		t.Errorf("static overrides do not normalize: %v", err)
	}
}
