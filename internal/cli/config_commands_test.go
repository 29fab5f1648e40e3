package cli

import (
	"bufio"
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/devserver"
	"github.com/clinops/intake-tracker/internal/logging"
)

// TestConfigCommands checks the config subcommands are wired with help text.
func TestConfigCommands(t *testing.T) {
	cmd := newConfigCmd()
	want := []string{"init", "show", "test", "path"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("config %s not registered (err = %v)", name, err)
			continue
		}
		if sub.Short == "" {
			t.Errorf("config %s: Short description is empty", name)
		}
		if sub.RunE == nil {
			t.Errorf("config %s: RunE function is nil", name)
		}
	}
}

func TestAddCommands(t *testing.T) {
	root := NewRootCmd()
	AddCommands(root)

	for _, name := range []string{"submit", "watch", "devserver", "config", "version", "completion"} {
		if sub, _, err := root.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	if !strings.HasPrefix(out.String(), "intake-tracker ") {
		t.Errorf("version output = %q", out.String())
	}
}

func TestApplyFlags(t *testing.T) {
	defer func() { apiKey, apiBaseURL, channelMode = "", "", "" }()

	cfg := config.Default()
	apiKey, apiBaseURL, channelMode = "k", "https://svc.example.org", "none"
	applyFlags(cfg)

	if cfg.APIKey != "k" || cfg.APIBaseURL != "https://svc.example.org" || cfg.ChannelMode != "none" {
		t.Errorf("applyFlags() = %+v", cfg)
	}

	// Empty flags leave the config alone
	apiKey, apiBaseURL, channelMode = "", "", ""
	cfg2 := config.Default()
	applyFlags(cfg2)
	if cfg2.APIBaseURL != config.Default().APIBaseURL {
		t.Errorf("APIBaseURL = %q, want default", cfg2.APIBaseURL)
	}
}

func TestPromptConfig(t *testing.T) {
	input := strings.Join([]string{
		"https://extract.example.org", // url
		"secret",                      // key
		"5",                           // max files
		"redis",                       // channel
		"",                            // redis url default
		"",                            // proxy mode default
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg := promptConfig(bufio.NewReader(strings.NewReader(input)), &out, config.Default())

	if cfg.APIBaseURL != "https://extract.example.org" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("MaxFiles = %d, want 5", cfg.MaxFiles)
	}
	if cfg.ChannelMode != "redis" || cfg.RedisURL != "redis://127.0.0.1:6379/0" {
		t.Errorf("channel = %q %q", cfg.ChannelMode, cfg.RedisURL)
	}
	if cfg.ProxyMode != "no-proxy" {
		t.Errorf("ProxyMode = %q, want no-proxy", cfg.ProxyMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestPrintConfigHidesKey(t *testing.T) {
	cfg := config.Default()
	cfg.APIKey = "super-secret-token"

	var out bytes.Buffer
	printConfig(&out, cfg, filepath.Join(t.TempDir(), "config"))

	if strings.Contains(out.String(), "super-secret-token") {
		t.Error("printConfig() leaked the API key")
	}
	if !strings.Contains(out.String(), "<set (18 chars)>") {
		t.Errorf("printConfig() output missing key summary:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "file does not exist") {
		t.Error("printConfig() should note the missing file")
	}
}

func TestProbe(t *testing.T) {
	srv := devserver.New(devserver.Options{APIKey: "good"}, logging.NewNopLogger())
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		srv.Close()
		ts.Close()
	}()

	client := func(key string) *api.Client {
		cfg := config.Default()
		cfg.APIBaseURL = ts.URL
		cfg.APIKey = key
		c, err := api.NewClient(cfg, logging.NewNopLogger())
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		return c
	}

	if err := probe(context.Background(), client("good")); err != nil {
		t.Errorf("probe() with valid key error = %v", err)
	}
	if err := probe(context.Background(), client("bad")); err == nil {
		t.Error("probe() with invalid key should fail")
	}
}

func TestConnectChannel_FallsBackToPolling(t *testing.T) {
	logger := logging.NewNopLogger()

	cfg := config.Default()
	cfg.ChannelMode = "none"
	if _, ok := connectChannel(context.Background(), cfg, logger).(channel.Nop); !ok {
		t.Error("mode none should give the no-op channel")
	}

	// Nothing listens on this port
	cfg.ChannelMode = "websocket"
	cfg.APIBaseURL = "http://127.0.0.1:1"
	if _, ok := connectChannel(context.Background(), cfg, logger).(channel.Nop); !ok {
		t.Error("unreachable websocket should fall back to the no-op channel")
	}

	cfg.ChannelMode = "redis"
	cfg.RedisURL = "not a url"
	if _, ok := connectChannel(context.Background(), cfg, logger).(channel.Nop); !ok {
		t.Error("invalid redis URL should fall back to the no-op channel")
	}
}

func TestConnectChannel_WebSocket(t *testing.T) {
	srv := devserver.New(devserver.Options{}, logging.NewNopLogger())
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		srv.Close()
		ts.Close()
	}()

	cfg := config.Default()
	cfg.APIBaseURL = ts.URL
	ch := connectChannel(context.Background(), cfg, logging.NewNopLogger())
	defer ch.Disconnect()

	if _, ok := ch.(*channel.WebSocketChannel); !ok {
		t.Errorf("connectChannel() = %T, want *channel.WebSocketChannel", ch)
	}
}

func TestWatchRequiresIDs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"nothing", nil, "is required"},
		{"half two-phase", []string{"--upload-job", "u1"}, "must be given together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newWatchCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
