package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
server:
  addr: "127.0.0.1:9300"
  auth_secret: "s3cret"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
relay:
  url: "https://push.example.com/send"
  timeout: "5s"
  rate_per_sec: 5
batching:
  window: "30s"
  max_window: "5m"
events:
  item_added: true
  playback_start: false
  language: "de"
directory:
  path: "./users.json"
rate_limit:
  registration_max: 10
  registration_window: "1m"
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9300" || cfg.Server.AuthSecret != "s3cret" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Relay.Timeout != "5s" || cfg.Relay.RatePerSec != 5 {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if cfg.Events.ItemAdded == nil || !*cfg.Events.ItemAdded {
		t.Fatalf("events.item_added = %v", cfg.Events.ItemAdded)
	}
	if cfg.Events.PlaybackStart == nil || *cfg.Events.PlaybackStart {
		t.Fatalf("events.playback_start = %v", cfg.Events.PlaybackStart)
	}
	// Omitted switches stay nil so the caller can apply the enabled default.
	if cfg.Events.PlaybackStop != nil {
		t.Fatalf("events.playback_stop = %v, want nil", cfg.Events.PlaybackStop)
	}
	if cfg.Events.Language != "de" {
		t.Fatalf("language = %q", cfg.Events.Language)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json",
		`{"server":{"addr":"x","auth_secret":"y"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"relay":{"url":"u"},"directory":{"path":"p"}}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Directory.Path != "p" {
		t.Fatalf("directory = %+v", cfg.Directory)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nmystery_section:\n  a: 1\n"))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", `{"server":{"addr":"x","auth_secret":"y"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"relay":{"url":"u"},"directory":{"path":"p"}}{"extra":true}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	m.publish(cfg)

	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published config")
	}
}

func TestPublishDropsOldestWhenSlow(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("slow subscriber must receive the newest config")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty is zero", raw: "", want: 0},
		{name: "seconds", raw: "30s", want: 30 * time.Second},
		{name: "composite", raw: "1m30s", want: 90 * time.Second},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseDurationField(%q) = (%v, %v), want %v", tt.raw, got, err, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("f", "", 10*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("empty = (%v, %v), want default", got, err)
	}
	got, err = ParseDurationOrDefault("f", "2s", 10*time.Second)
	if err != nil || got != 2*time.Second {
		t.Fatalf("explicit = (%v, %v)", got, err)
	}
}
