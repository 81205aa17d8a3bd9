package config

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RoundTimeout != 16*time.Millisecond {
		t.Errorf("RoundTimeout = %v, want 16ms", cfg.RoundTimeout)
	}
	if cfg.ReconnectInterval != 2*time.Second {
		t.Errorf("ReconnectInterval = %v, want 2s", cfg.ReconnectInterval)
	}
	if cfg.BVH.Bins != 12 || cfg.BVH.LeafSize != 4 || cfg.BVH.MaxLeafSize != 16 {
		t.Errorf("unexpected BVH defaults %+v", cfg.BVH)
	}
}

func TestMergeRespectsExplicitFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MapsDir = "/from/flag"
	cfg.SegmentName = "flagseg"

	file := DefaultConfig()
	file.MapsDir = "/from/file"
	file.SegmentName = "fileseg"
	file.CacheDir = "/cache"
	file.MapAliases = map[string]string{"bigmap": "customs"}
	file.EyeHeight = 1.7

	Merge(cfg, file, map[string]bool{"maps": true})

	if cfg.MapsDir != "/from/flag" {
		t.Errorf("MapsDir = %q, explicit flag should win", cfg.MapsDir)
	}
	if cfg.SegmentName != "fileseg" {
		t.Errorf("SegmentName = %q, want file value", cfg.SegmentName)
	}
	if cfg.CacheDir != "/cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.EyeHeight != 1.7 {
		t.Errorf("EyeHeight = %v", cfg.EyeHeight)
	}
	if cfg.MapAliases["bigmap"] != "customs" {
		t.Errorf("alias not merged")
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.in}
		if got := cfg.Level(); got != tt.want {
			t.Errorf("Level(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfigJSONKeys(t *testing.T) {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`"round_timeout":"16ms"`,
		`"reconnect_interval":"2s"`,
		`"idle_interval":"10ms"`,
		`"leaf_size":4`,
		`"max_leaf_size":16`,
		`"intersect_cost":1.5`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("config JSON missing %s: %s", want, out)
		}
	}
	for _, bad := range []string{`"LeafSize"`, `"RoundTimeout"`, `16000000`} {
		if strings.Contains(out, bad) {
			t.Errorf("config JSON contains %s: %s", bad, out)
		}
	}
}

func TestConfigJSONDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name: "string durations and partial bvh",
			in:   `{"round_timeout":"20ms","bvh":{"bins":16}}`,
			check: func(t *testing.T, c *Config) {
				if c.RoundTimeout != 20*time.Millisecond {
					t.Errorf("RoundTimeout = %v", c.RoundTimeout)
				}
				if c.ReconnectInterval != 2*time.Second {
					t.Errorf("ReconnectInterval = %v, want default kept", c.ReconnectInterval)
				}
				if c.BVH.Bins != 16 || c.BVH.LeafSize != 4 {
					t.Errorf("BVH = %+v", c.BVH)
				}
			},
		},
		{
			name: "nanosecond integers",
			in:   `{"prune_interval":3000000000,"maps_dir":"/srv/maps"}`,
			check: func(t *testing.T, c *Config) {
				if c.PruneInterval != 3*time.Second || c.MapsDir != "/srv/maps" {
					t.Errorf("PruneInterval = %v, MapsDir = %q", c.PruneInterval, c.MapsDir)
				}
			},
		},
		{name: "bad duration", in: `{"idle_interval":"soon"}`, wantErr: true},
		{name: "wrong type", in: `{"idle_interval":true}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			err := json.Unmarshal([]byte(tt.in), c)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			tt.check(t, c)
		})
	}
}
