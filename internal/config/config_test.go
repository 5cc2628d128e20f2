package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the loader at an empty directory and clears variables the
// host environment might carry.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvFileVar, filepath.Join(dir, "missing.env"))
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"HYPEMON_ALERTING_TELEGRAM_BOT_TOKEN", "HYPEMON_ALERTING_TELEGRAM_CHAT_ID",
		"HYPEMON_ALERTING_TELEGRAM_ENABLED", "HYPEMON_MONITOR_TARGET_PRICE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", "app:\n  environment: test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	m := cfg.Monitor
	if m.TargetPrice != 41.0 || m.StandardDeviations != 2.0 || m.AlertThreshold != 0.7 {
		t.Fatalf("unexpected monitor defaults %+v", m)
	}
	if m.CriticalPriceThreshold != 41.5 || m.StrongDowntrendThreshold != 0.85 {
		t.Fatalf("unexpected critical defaults %+v", m)
	}
	if m.RegularCooldown != 5*time.Minute || m.CriticalCooldown != time.Minute {
		t.Fatalf("unexpected cooldowns %s %s", m.RegularCooldown, m.CriticalCooldown)
	}
	if m.WindowSize != 100 || m.WindowMaxAge != 0 {
		t.Fatalf("unexpected window defaults %d %s", m.WindowSize, m.WindowMaxAge)
	}
	if cfg.Source.Kind != SourceHyperliquid || cfg.Source.Asset != "HYPE" {
		t.Fatalf("unexpected source %+v", cfg.Source)
	}
	if cfg.App.Environment != "test" {
		t.Fatalf("file value should override default, got %q", cfg.App.Environment)
	}

	ec := m.EngineConfig()
	if ec.Thresholds.AlertProbability != 0.7 || ec.Window.MaxSamples != 100 || ec.Trend.Scale != 3.0 {
		t.Fatalf("engine config not mapped: %+v", ec)
	}
}

func TestLoadEnvOverridesAndAliases(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", "monitor:\n  target_price: 40\n")

	t.Setenv("HYPEMON_MONITOR_TARGET_PRICE", "39.5")
	t.Setenv("HYPEMON_ALERTING_TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-10042")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.TargetPrice != 39.5 {
		t.Fatalf("env should override file, got %v", cfg.Monitor.TargetPrice)
	}
	if cfg.Alerting.Telegram.BotToken != "123:abc" || cfg.Alerting.Telegram.ChatID != "-10042" {
		t.Fatalf("telegram aliases not honoured: %+v", cfg.Alerting.Telegram)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := isolate(t)
	envPath := writeFile(t, dir, "test.env", "TELEGRAM_BOT_TOKEN=from-dotenv\nTELEGRAM_CHAT_ID=7\n")
	t.Setenv(EnvFileVar, envPath)
	path := writeFile(t, dir, "config.yaml", "alerting:\n  telegram:\n    enabled: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerting.Telegram.BotToken != "from-dotenv" || cfg.Alerting.Telegram.ChatID != "7" {
		t.Fatalf(".env values not loaded: %+v", cfg.Alerting.Telegram)
	}
}

func TestLoadRejectsInvalidMonitor(t *testing.T) {
	cases := map[string]string{
		"zero target":          "monitor:\n  target_price: 0\n",
		"probability above 1":  "monitor:\n  alert_threshold: 1.5\n",
		"negative critical":    "monitor:\n  critical_price_threshold: -1\n",
		"zero cooldown":        "monitor:\n  regular_cooldown: 0s\n",
		"tiny window":          "monitor:\n  window_size: 1\n",
		"negative trend":       "monitor:\n  trend_epsilon: -0.1\n",
		"unknown source":       "source:\n  kind: binance\n",
		"chainlink needs feed": "source:\n  kind: chainlink\n  chainlink:\n    rpc_url: http://localhost:8545\n",
		"telegram needs token": "alerting:\n  telegram:\n    enabled: true\n",
		"unknown driver":       "database:\n  driver: mysql\n",
		"postgres needs dsn":   "database:\n  driver: postgres\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := isolate(t)
			path := writeFile(t, dir, "config.yaml", body)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error for %q", name)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{}
	cfg.Alerting.Telegram.BotToken = "secret"
	cfg.Alerting.Telegram.ChatID = "42"
	cfg.Database.DSN = "postgres://u:p@host/db"

	out := cfg.Redacted()
	if strings.Contains(out.Alerting.Telegram.BotToken, "secret") || strings.Contains(out.Database.DSN, "u:p") {
		t.Fatalf("secrets leaked: %+v", out)
	}
	if out.Alerting.Telegram.ChatID != "42" {
		t.Fatal("chat id is not a secret")
	}
	if cfg.Alerting.Telegram.BotToken != "secret" {
		t.Fatal("Redacted must not modify the receiver")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if cfg.ResolveMaxPoints(0) != 100 || cfg.ResolveMaxPoints(5) != 5 {
		t.Fatal("override handling broken")
	}
}
