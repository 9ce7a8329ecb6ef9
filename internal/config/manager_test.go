package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "15s"},
		"logging": {"level": "DEBUG", "console": true},
		"engine": {"retry_delay": "30s", "min_interval": "1m"},
		"storage": {"driver": "file", "path": "./data/tasks.json"},
		"features": {
			"reminder": {"enabled": true, "max_per_owner": 20},
			"price_watch": {"enabled": true, "poll_interval": "3h"},
			"weather": {"enabled": false},
			"currency": {"enabled": true},
			"movies": {"enabled": true}
		}
	}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.PollTimeout != "15s" {
		t.Fatalf("telegram section: %+v", cfg.Telegram)
	}
	if cfg.Engine.RetryDelay != "30s" || cfg.Storage.Path != "./data/tasks.json" {
		t.Fatalf("engine/storage sections: %+v %+v", cfg.Engine, cfg.Storage)
	}
	if !cfg.Features.Reminder.Enabled || cfg.Features.Reminder.MaxPerOwner != 20 {
		t.Fatalf("reminder section: %+v", cfg.Features.Reminder)
	}
	if cfg.Features.PriceWatch.PollInterval != "3h" {
		t.Fatalf("price_watch section: %+v", cfg.Features.PriceWatch)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: INFO
  console: true
engine:
  min_interval: 2m
storage:
  path: ./tasks.json
features:
  reminder:
    enabled: true
  price_watch:
    enabled: false
  weather:
    enabled: false
  currency:
    enabled: false
  movies:
    enabled: false
`)
	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Engine.MinInterval != "2m" {
		t.Fatalf("yaml config mismatch: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}, "typo_section": {}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("unknown top-level field accepted")
	}

	path = writeConfig(t, "config2.json", `{"telegram": {"token": "x", "pol_timeout": "1s"}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("unknown nested field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}}{"extra": 1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON document accepted")
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := NewConfigManager(filepath.Join(t.TempDir(), "nope.json")).Parse(); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestSubscribeDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Telegram: TelegramConfig{Token: "new"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("subscriber did not receive the newest config")
		}
	default:
		t.Fatal("nothing delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(&Config{})
	// Double unsubscribe is a no-op.
	m.Unsubscribe(ch)
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "banana"); err == nil {
		t.Fatal("invalid duration accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestSummarizeConfigChangeRedactsSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "123:supersecret"},
		Pprof:    &PprofConfig{Enabled: true, Token: "pproftoken"},
		Features: FeaturesConfig{Weather: WeatherConfig{Enabled: true, APIKey: "owmkey"}},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) == 0 {
		t.Fatal("no changed sections reported")
	}

	// Render the attrs the way the logger would and scan the output.
	var buf bytes.Buffer
	e := zerolog.New(&buf).Info()
	for _, f := range attrs {
		f(e)
	}
	e.Msg("config changed")
	out := buf.String()
	for _, secret := range []string{"supersecret", "pproftoken", "owmkey"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked in log attrs: %s", secret, out)
		}
	}
	if !strings.Contains(out, "token_set") {
		t.Fatalf("expected token_set marker in attrs: %s", out)
	}
}

func TestSummarizeConfigChangeNoChange(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
	changed, attrs := SummarizeConfigChange(cfg, cfg)
	if len(changed) != 0 || len(attrs) != 0 {
		t.Fatalf("unexpected diff for identical configs: %v %v", changed, attrs)
	}
}
