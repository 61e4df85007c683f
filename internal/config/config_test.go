package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HUBCHAT_CONFIG", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.ReconnectDelay != 3*time.Second {
		t.Fatalf("expected 3s reconnect delay, got %s", cfg.Client.ReconnectDelay)
	}
	if cfg.Client.PollInterval != time.Second {
		t.Fatalf("expected 1s poll interval, got %s", cfg.Client.PollInterval)
	}
	if cfg.Client.Search != chat.DefaultSearchSettings() {
		t.Fatalf("unexpected search defaults %+v", cfg.Client.Search)
	}
	if cfg.Server.Addr != ":8000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubchat.toml")
	content := `
[client]
ws_url = "ws://file:9000/ws"
model = "from-file"
reconnect_delay = "5s"

[client.search]
webSearchEnabled = false
searchType = "news"
resultsCount = 7

[server]
addr = "127.0.0.1:9999"
models = ["a", "b"]

[ai]
model = "ep-file"
temperature = 0.3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HUBCHAT_CONFIG", path)
	t.Setenv("PORT", "")
	t.Setenv("HUBCHAT_MODEL", "from-env")
	t.Setenv("HUBCHAT_RESULTS_COUNT", "4")
	t.Setenv("MOCK_MODELS", "x, y ,,z")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.WSURL != "ws://file:9000/ws" {
		t.Fatalf("expected file ws url, got %q", cfg.Client.WSURL)
	}
	if cfg.Client.Model != "from-env" {
		t.Fatalf("expected env to win, got %q", cfg.Client.Model)
	}
	if cfg.Client.ReconnectDelay != 5*time.Second {
		t.Fatalf("expected 5s from file, got %s", cfg.Client.ReconnectDelay)
	}
	if cfg.Client.Search.WebSearchEnabled || cfg.Client.Search.SearchType != chat.SearchNews || cfg.Client.Search.ResultsCount != 4 {
		t.Fatalf("unexpected search settings %+v", cfg.Client.Search)
	}
	if cfg.Client.APIURL != "http://localhost:5000/api" {
		t.Fatalf("expected default api url kept, got %q", cfg.Client.APIURL)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if len(cfg.Server.Models) != 3 || cfg.Server.Models[2] != "z" {
		t.Fatalf("unexpected models %v", cfg.Server.Models)
	}
	if cfg.AI.Model != "ep-file" || cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.3 {
		t.Fatalf("unexpected ai config %+v", cfg.AI)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"HUBCHAT_RECONNECT_MS":  "soon",
		"HUBCHAT_WEB_SEARCH":    "maybe",
		"HUBCHAT_SEARCH_TYPE":   "podcasts",
		"HUBCHAT_RESULTS_COUNT": "42",
		"PORT":                  "80 80",
		"ARK_TEMPERATURE":       "hot",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("HUBCHAT_CONFIG", "")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestNormalizeAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ":8000"},
		{in: "9000", want: ":9000"},
		{in: ":7000", want: ":7000"},
		{in: "127.0.0.1:7000", want: "127.0.0.1:7000"},
	}
	for _, tc := range cases {
		got, err := normalizeAddr(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("normalizeAddr(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestAIConfigEnabled(t *testing.T) {
	if (AIConfig{Model: "ep"}).Enabled() {
		t.Fatal("expected disabled without credentials")
	}
	if !(AIConfig{Model: "ep", APIKey: "k"}).Enabled() {
		t.Fatal("expected enabled with api key")
	}
	if !(AIConfig{Model: "ep", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Fatal("expected enabled with ak/sk")
	}
}
