package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLAndEnvOverlay(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: from-file
source:
  kind: http
  platforms: [pc, ps4]
  base_url: https://api.example.test
pipeline:
  tolerance: 60s
`)
	m := NewConfigManager(p)
	m.SetEnvironment(map[string]string{
		"WSN_TELEGRAM_TOKEN": "from-env",
		"WSN_KAFKA_BROKERS":  "a:9092, b:9092",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q, want env override", cfg.Telegram.Token)
	}
	if !reflect.DeepEqual(cfg.Source.Kafka.Brokers, []string{"a:9092", "b:9092"}) {
		t.Fatalf("brokers = %v", cfg.Source.Kafka.Brokers)
	}
	if cfg.Source.BaseURL != "https://api.example.test" {
		t.Fatalf("base url should keep the file value, got %q", cfg.Source.BaseURL)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{}} {"telegram":{}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty is fine", cfg: Config{}},
		{name: "bad platform", cfg: Config{Source: SourceConfig{Platforms: []string{"dreamcast"}}}, wantErr: "platforms"},
		{name: "kafka needs topic", cfg: Config{Source: SourceConfig{Kind: SourceKafka, Kafka: KafkaConfig{Brokers: []string{"b:1"}}}}, wantErr: "kafka"},
		{name: "websocket needs url", cfg: Config{Source: SourceConfig{Kind: SourceWebSocket}}, wantErr: "websocket_url"},
		{name: "bad tolerance", cfg: Config{Pipeline: PipelineConfig{Tolerance: "soon"}}, wantErr: "pipeline.tolerance"},
		{name: "group larger than ceiling", cfg: Config{Pipeline: PipelineConfig{FieldCeiling: 10, FieldGroupSize: 15}}, wantErr: "field_group_size"},
		{name: "duplicate syndicate", cfg: Config{Syndicates: []SyndicateConfig{{Key: "suda"}, {Key: "suda"}}}, wantErr: "duplicate"},
		{name: "bad locale", cfg: Config{Pipeline: PipelineConfig{Locales: []string{"not a tag!"}}}, wantErr: "locales"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestEffectiveSyndicates(t *testing.T) {
	t.Parallel()
	var c Config
	got := c.EffectiveSyndicates()
	if len(got) == 0 {
		t.Fatal("expected defaults")
	}
	for _, s := range got {
		if s.Prefix != DefaultSyndicatePrefix {
			t.Fatalf("%s prefix = %q", s.Key, s.Prefix)
		}
	}

	c.Syndicates = []SyndicateConfig{{Key: " suda ", Prefix: "s."}, {Key: ""}}
	got = c.EffectiveSyndicates()
	if len(got) != 1 || got[0].Key != "suda" || got[0].Prefix != "s." {
		t.Fatalf("EffectiveSyndicates() = %+v", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}, Debug: DebugConfig{Token: "a"}}
	newCfg := &Config{Logging: LoggingConfig{Level: "debug"}, Debug: DebugConfig{Token: "b"}, Source: SourceConfig{Kind: SourceKafka}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"logging", "source"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if NeedsRestart("logging") || !NeedsRestart("source") {
		t.Fatal("restart classification is wrong")
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	t.Parallel()
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv() = %v, want nil for missing file", err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"-1s", 0, true},
		{"-2d", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("decoration.cache_ttl", tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationField(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if err != nil && !strings.HasPrefix(err.Error(), "decoration.cache_ttl: ") {
			t.Errorf("error %q does not name the field", err)
		}
		if got != tt.want {
			t.Errorf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Errorf("default = %v", d)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		body string
		want fileFormat
	}{
		{"c.json", "telegram: {}", formatJSON},
		{"c.YML", "{}", formatYAML},
		{"config", "  {\"telegram\": {}}", formatJSON},
		{"config", "telegram:\n  token: x", formatYAML},
	}
	for _, tt := range tests {
		if got := detectFormat(tt.path, []byte(tt.body)); got != tt.want {
			t.Errorf("detectFormat(%q, %q) = %s, want %s", tt.path, tt.body, got, tt.want)
		}
	}

	j, err := toJSON("empty.yaml", []byte("# nothing\n"))
	if err != nil || string(j) != "{}" {
		t.Fatalf("toJSON(empty) = %q, %v", j, err)
	}
}
