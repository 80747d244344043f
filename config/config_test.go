package config

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/songgao/keenroutesd/blocklist"
	"go.uber.org/zap/zaptest"
)

const sampleToml = `
Backend = "ssh"
Proxy = "socks5://127.0.0.1:1080"
DNSServer = "1.1.1.1"
Domains = ["youtube.com", "googlevideo.com"]

[Router]
Host = "10.0.0.1"
Port = 2222
Username = "root"
Password = "from-file"
Interface = "Wireguard0"

[Retry]
SSHAttempts = 5
SSHDelay = "500ms"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(zaptest.NewLogger(t), "", "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backend != BackendHTTP || cfg.FeedURL != blocklist.DefaultFeedURL {
		t.Errorf("cfg = %+v, want http backend and default feed", cfg)
	}
	if cfg.Router.Gateway != cfg.Router.Host {
		t.Errorf("Gateway = %q, want router host %q", cfg.Router.Gateway, cfg.Router.Host)
	}
	if cfg.Retry.HTTPAttempts != 3 || cfg.Retry.HTTPDelay != 2*time.Second || cfg.Retry.SSHDelay != time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted a config without password")
	}
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, "keenroutesd.toml", sampleToml)
	cfg, err := Load(zaptest.NewLogger(t), p, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backend != BackendSSH || cfg.Router.Host != "10.0.0.1" || cfg.Router.Port != 2222 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DNSServer.String() != "1.1.1.1" || len(cfg.Domains) != 2 {
		t.Errorf("DNSServer = %s Domains = %v", cfg.DNSServer, cfg.Domains)
	}
	if cfg.Retry.SSHAttempts != 5 || cfg.Retry.SSHDelay != 500*time.Millisecond || cfg.Retry.HTTPAttempts != 3 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Addr() != "10.0.0.1:2222" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate error: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "keenroutesd.toml", sampleToml)
	t.Setenv("KEENETIC_PASSWORD", "from-env")
	t.Setenv("KEENETIC_PORT", "22")

	cfg, err := Load(zaptest.NewLogger(t), p, "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Router.Password != "from-env" || cfg.Router.Port != 22 {
		t.Errorf("Router = %+v, want env password and port", cfg.Router)
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("KEENETIC_HOST", "")
	os.Unsetenv("KEENETIC_HOST")
	t.Setenv("KEENETIC_INTERFACE", "Proxy1")
	envFile := writeFile(t, ".env", "KEENETIC_HOST=192.168.1.1\nKEENETIC_INTERFACE=Proxy9\n")

	cfg, err := Load(zaptest.NewLogger(t), "", envFile)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Router.Host != "192.168.1.1" {
		t.Errorf("Host = %q, want value from env file", cfg.Router.Host)
	}
	if cfg.Router.Interface != "Proxy1" {
		t.Errorf("Interface = %q, env file must not override the environment", cfg.Router.Interface)
	}
	os.Unsetenv("KEENETIC_HOST")
}

func TestLoadMissingEnvFile(t *testing.T) {
	if _, err := Load(zaptest.NewLogger(t), "", filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("Load error: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "Backend = "},
		{"dns", `DNSServer = "not-an-ip"`},
		{"delay", "[Retry]\nHTTPDelay = \"soon\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, "bad.toml", tt.content)
			if _, err := Load(zaptest.NewLogger(t), p, ""); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
	if _, err := Load(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "missing.toml"), ""); err == nil {
		t.Error("Load succeeded for missing file")
	}
	t.Setenv("KEENETIC_PORT", "http")
	if _, err := Load(zaptest.NewLogger(t), "", ""); err == nil {
		t.Error("Load accepted a non-numeric port")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Router.Password = "secret"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"dry-run without password", func(c *Config) { c.Backend = BackendDryRun; c.Router.Password = "" }, false},
		{"ssh without password", func(c *Config) { c.Backend = BackendSSH; c.Router.Password = "" }, true},
		{"unknown backend", func(c *Config) { c.Backend = "telnet" }, true},
		{"no interface", func(c *Config) { c.Router.Interface = "" }, true},
		{"zero attempts", func(c *Config) { c.Retry.HTTPAttempts = 0 }, true},
		{"negative delay", func(c *Config) { c.Retry.SSHDelay = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	c := Default()
	if got := c.Addr(); got != "192.168.0.1" {
		t.Errorf("http Addr() = %q", got)
	}
	c.Router.Port = 8080
	if got := c.Addr(); got != "192.168.0.1:8080" {
		t.Errorf("http Addr() with port = %q", got)
	}
	c.Router.Port = 0
	c.Backend = BackendSSH
	if got := c.Addr(); got != "192.168.0.1:22" {
		t.Errorf("ssh Addr() = %q", got)
	}
}

func TestAddrIPv6(t *testing.T) {
	tests := []struct {
		backend string
		host    string
		port    int
		want    string
	}{
		{BackendHTTP, "fd00::1", 0, "[fd00::1]"},
		{BackendHTTP, "[fd00::1]", 0, "[fd00::1]"},
		{BackendHTTP, "fd00::1", 8080, "[fd00::1]:8080"},
		{BackendSSH, "fd00::1", 0, "[fd00::1]:22"},
		{BackendSSH, "[fd00::1]", 2222, "[fd00::1]:2222"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s/%d", tt.backend, tt.host, tt.port), func(t *testing.T) {
			c := Default()
			c.Backend = tt.backend
			c.Router.Host = tt.host
			c.Router.Port = tt.port
			if got := c.Addr(); got != tt.want {
				t.Errorf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadConfigHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleToml)
	}))
	defer srv.Close()

	data, err := readConfig(zaptest.NewLogger(t), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("readConfig error: %v", err)
	}
	if string(data) != sampleToml {
		t.Errorf("readConfig returned %q", data)
	}
}
